package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/arealabs/area/internal/registry"
)

const steamAPIBase = "https://api.steampowered.com"

// steamKeyValidator exercises the key against GetPlayerSummaries with a
// known-good steam id from configuration.
type steamKeyValidator struct {
	validationID string
}

func (v steamKeyValidator) Validate(ctx context.Context, apiKey string) error {
	if v.validationID == "" {
		return errors.New("steam: validation id not configured")
	}
	query := url.Values{}
	query.Set("key", apiKey)
	query.Set("steamids", v.validationID)
	endpoint := steamAPIBase + "/ISteamUser/GetPlayerSummaries/v2?" + query.Encode()
	return doJSON(ctx, "steam", "GET", endpoint, nil, nil, nil)
}

// steamAchievementsTrigger tracks the set of unlocked achievement names for
// one player and game.
type steamAchievementsTrigger struct{}

type steamAchievementPayload struct {
	SteamID string `json:"steamId"`
	AppID   string `json:"appId"`
}

func (steamAchievementsTrigger) Fetch(ctx context.Context, authToken string, payload json.RawMessage) (registry.State, error) {
	var params steamAchievementPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("steam: invalid payload: %w", err)
	}

	query := url.Values{}
	query.Set("key", authToken)
	query.Set("steamid", params.SteamID)
	query.Set("appid", params.AppID)
	endpoint := steamAPIBase + "/ISteamUserStats/GetPlayerAchievements/v0001/?" + query.Encode()

	var response struct {
		PlayerStats struct {
			Achievements []struct {
				APIName  string `json:"apiname"`
				Achieved int    `json:"achieved"`
			} `json:"achievements"`
		} `json:"playerstats"`
	}
	if err := doJSON(ctx, "steam", "GET", endpoint, nil, nil, &response); err != nil {
		return nil, err
	}

	unlocked := make([]string, 0, len(response.PlayerStats.Achievements))
	for _, achievement := range response.PlayerStats.Achievements {
		if achievement.Achieved == 1 {
			unlocked = append(unlocked, achievement.APIName)
		}
	}
	return json.Marshal(unlocked)
}

func (steamAchievementsTrigger) Triggered(current, previous registry.State) bool {
	var now, before []string
	if err := json.Unmarshal(current, &now); err != nil {
		return false
	}
	if previous != nil {
		if err := json.Unmarshal(previous, &before); err != nil {
			return false
		}
	}
	return containsNew(now, before)
}

func steamDefinition(validationID string) registry.Definition {
	return registry.Definition{
		Name:  "steam",
		Color: "#171a21",
		Auth: registry.AuthConfig{
			Kind:   registry.AuthAPIKey,
			APIKey: steamKeyValidator{validationID: validationID},
			Hint:   "Navigate to the 'Steam API Key Registration' website and sign in (https://steamcommunity.com/dev/apikey). Then follow the steps; the 'Domain Name' does not need to be valid",
		},
		Actions: []registry.ActionDefinition{
			{
				Title:       "New Achievement Unlocked",
				Name:        "new_achievement",
				Description: "Triggered when a player unlocks a new achievement",
				Form: []registry.FormField{
					{
						Title: "Steam ID of player",
						Name:  "steamId",
						Value: "string",
						Hint:  "Select your Steam username in the top right corner of the screen and select 'Account details'. Your Steam ID can be found below your Steam username.",
					},
					{
						Title: "App ID of game",
						Name:  "appId",
						Value: "string",
						Hint:  "Go to the game's shop page, then copy the number that's in the URL (requires 'Game details' to be public)",
					},
				},
				Trigger: steamAchievementsTrigger{},
			},
		},
	}
}
