package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arealabs/area/internal/config"
	"github.com/arealabs/area/internal/registry"
	"golang.org/x/oauth2"
)

const discordAPIBase = "https://discord.com/api/v10"

func discordBase(override string) string {
	if override != "" {
		return override
	}
	return discordAPIBase
}

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

func discordBotHeaders(botToken string) map[string]string {
	return map[string]string{"Authorization": "Bot " + botToken}
}

// discordPinsTrigger observes the pinned messages of a channel. The state is
// the set of pinned message ids; the event is the pin count growing.
type discordPinsTrigger struct {
	botToken string
	apiBase  string
}

type discordChannelPayload struct {
	ChannelID string `json:"channelId"`
}

func (t discordPinsTrigger) Fetch(ctx context.Context, _ string, payload json.RawMessage) (registry.State, error) {
	var params discordChannelPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("discord: invalid payload: %w", err)
	}

	var pins []struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/channels/%s/pins", discordBase(t.apiBase), params.ChannelID)
	if err := doJSON(ctx, "discord", "GET", url, discordBotHeaders(t.botToken), nil, &pins); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pins))
	for _, pin := range pins {
		ids = append(ids, pin.ID)
	}
	return json.Marshal(ids)
}

func (t discordPinsTrigger) Triggered(current, previous registry.State) bool {
	var now, before []string
	if err := json.Unmarshal(current, &now); err != nil {
		return false
	}
	if previous != nil {
		if err := json.Unmarshal(previous, &before); err != nil {
			return false
		}
	}
	return len(now) > len(before)
}

// discordSendMessage posts a message to a channel through the bot.
type discordSendMessage struct {
	botToken string
	apiBase  string
}

type discordMessagePayload struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

func (r discordSendMessage) Invoke(ctx context.Context, _ string, payload json.RawMessage) (json.RawMessage, error) {
	var params discordMessagePayload
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("discord: invalid payload: %w", err)
	}

	var created json.RawMessage
	url := fmt.Sprintf("%s/channels/%s/messages", discordBase(r.apiBase), params.ChannelID)
	body := map[string]string{"content": params.Content}
	if err := doJSON(ctx, "discord", "POST", url, discordBotHeaders(r.botToken), body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// discordSendDirectMessage resolves the connected account through its OAuth
// token, opens a DM channel with the bot and posts into it.
type discordSendDirectMessage struct {
	botToken string
	apiBase  string
}

func (r discordSendDirectMessage) Invoke(ctx context.Context, authToken string, payload json.RawMessage) (json.RawMessage, error) {
	var params discordMessagePayload
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("discord: invalid payload: %w", err)
	}

	var me struct {
		ID string `json:"id"`
	}
	userHeaders := map[string]string{"Authorization": "Bearer " + authToken}
	if err := doJSON(ctx, "discord", "GET", discordBase(r.apiBase)+"/users/@me", userHeaders, nil, &me); err != nil {
		return nil, err
	}

	var channel struct {
		ID string `json:"id"`
	}
	openBody := map[string]string{"recipient_id": me.ID}
	if err := doJSON(ctx, "discord", "POST", discordBase(r.apiBase)+"/users/@me/channels", discordBotHeaders(r.botToken), openBody, &channel); err != nil {
		return nil, err
	}

	var sent json.RawMessage
	url := fmt.Sprintf("%s/channels/%s/messages", discordBase(r.apiBase), channel.ID)
	messageBody := map[string]string{"content": params.Content}
	if err := doJSON(ctx, "discord", "POST", url, discordBotHeaders(r.botToken), messageBody, &sent); err != nil {
		return nil, err
	}
	return sent, nil
}

func discordDefinition(cfg config.ProviderConfig) registry.Definition {
	flow := &registry.CodeFlow{
		Config: oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			Endpoint:     discordEndpoint,
			RedirectURL:  cfg.DiscordRedirectURL,
			Scopes:       []string{"identify", "bot", "guilds", "applications.commands"},
		},
		ExtraAuthParams: map[string]string{
			"permissions":      "17600775981056",
			"integration_type": "0",
		},
	}

	channelField := registry.FormField{
		Title: "Channel ID",
		Name:  "channelId",
		Value: "string",
		Hint:  "Right click on any given channel, and select 'Copy Channel ID' (requires 'Developer mode' in your account settings)",
	}
	contentField := registry.FormField{
		Title: "Content",
		Name:  "content",
		Value: "string",
		Hint:  "Message that you want to send",
	}

	return registry.Definition{
		Name:  "discord",
		Color: "#5865F2",
		Auth:  registry.AuthConfig{Kind: registry.AuthOAuth2, OAuth: flow},
		Actions: []registry.ActionDefinition{
			{
				Title:       "On pinned message",
				Name:        "on_pinned_message",
				Description: "Event triggered when a new message is pinned in a channel",
				Form:        []registry.FormField{channelField},
				Trigger:     discordPinsTrigger{botToken: cfg.DiscordBotToken},
			},
		},
		Reactions: []registry.ReactionDefinition{
			{
				Title:       "Send Message",
				Name:        "send_message",
				Description: "Send a message to a channel",
				Form:        []registry.FormField{channelField, contentField},
				Request:     discordSendMessage{botToken: cfg.DiscordBotToken},
			},
			{
				Title:       "Send Direct Message",
				Name:        "send_direct_message",
				Description: "Send a direct message to your account",
				Form:        []registry.FormField{contentField},
				Request:     discordSendDirectMessage{botToken: cfg.DiscordBotToken},
			},
		},
	}
}
