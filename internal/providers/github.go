package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arealabs/area/internal/registry"
)

const githubAPIBase = "https://api.github.com"

func githubHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization":        "Bearer " + token,
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
}

// githubKeyValidator checks a personal access token by fetching the
// authenticated user.
type githubKeyValidator struct{}

func (githubKeyValidator) Validate(ctx context.Context, apiKey string) error {
	return doJSON(ctx, "github", "GET", githubAPIBase+"/user", githubHeaders(apiKey), nil, nil)
}

// githubFollowersTrigger tracks the set of follower ids; any id not seen in
// the previous snapshot fires the event.
type githubFollowersTrigger struct{}

func (githubFollowersTrigger) Fetch(ctx context.Context, authToken string, _ json.RawMessage) (registry.State, error) {
	var followers []struct {
		ID int64 `json:"id"`
	}
	if err := doJSON(ctx, "github", "GET", githubAPIBase+"/user/followers", githubHeaders(authToken), nil, &followers); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(followers))
	for _, follower := range followers {
		ids = append(ids, fmt.Sprintf("%d", follower.ID))
	}
	return json.Marshal(ids)
}

func (githubFollowersTrigger) Triggered(current, previous registry.State) bool {
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

// githubUpdateBio overwrites the profile biography.
type githubUpdateBio struct{}

func (githubUpdateBio) Invoke(ctx context.Context, authToken string, payload json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("github: invalid payload: %w", err)
	}

	var updated json.RawMessage
	body := map[string]string{"bio": params.Message}
	if err := doJSON(ctx, "github", "PATCH", githubAPIBase+"/user", githubHeaders(authToken), body, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func githubDefinition() registry.Definition {
	return registry.Definition{
		Name:  "github",
		Color: "#404040",
		Auth: registry.AuthConfig{
			Kind:   registry.AuthAPIKey,
			APIKey: githubKeyValidator{},
			Hint:   "Log in and go to your 'Profile Settings' from the navigation menu. Then, go to 'Developer settings' and generate your token through 'Personal Access Token'",
		},
		Actions: []registry.ActionDefinition{
			{
				Title:       "New follower",
				Name:        "new_follower",
				Description: "New follower on github account",
				Form:        []registry.FormField{},
				Trigger:     githubFollowersTrigger{},
			},
		},
		Reactions: []registry.ReactionDefinition{
			{
				Title:       "Update bio",
				Name:        "update_bio",
				Description: "Update the bio message",
				Form: []registry.FormField{
					{Title: "Message", Name: "message", Value: "string", Hint: "The message to put in biography"},
				},
				Request: githubUpdateBio{},
			},
		},
	}
}
