package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/arealabs/area/internal/registry"
)

const timeAPIBase = "https://timeapi.io/api/time/current/zone"

type clockPayload struct {
	Hour      json.Number `json:"hour"`
	Hours     json.Number `json:"hours"`
	Minutes   json.Number `json:"minutes"`
	DayOfWeek string      `json:"dayOfWeek"`
	Timezone  string      `json:"timezone"`
}

type timeAPIResponse struct {
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	DayOfWeek string `json:"dayOfWeek"`
}

type clockState struct {
	IsTime bool `json:"is_time"`
}

// clockTrigger polls timeapi.io and reports {is_time} for the configured
// moment. weekly additionally matches the day of week.
type clockTrigger struct {
	weekly bool
}

func (t clockTrigger) Fetch(ctx context.Context, _ string, payload json.RawMessage) (registry.State, error) {
	var params clockPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("clock: invalid payload: %w", err)
	}

	hourValue := params.Hour
	if t.weekly {
		hourValue = params.Hours
	}
	hour, err := hourValue.Int64()
	if err != nil {
		return nil, fmt.Errorf("clock: invalid hour: %w", err)
	}
	minute, err := params.Minutes.Int64()
	if err != nil {
		return nil, fmt.Errorf("clock: invalid minutes: %w", err)
	}

	endpoint := timeAPIBase + "?timeZone=" + url.QueryEscape(params.Timezone)
	var current timeAPIResponse
	if err := doJSON(ctx, "clock", "GET", endpoint, nil, nil, &current); err != nil {
		return nil, err
	}

	matched := int64(current.Hour) == hour && int64(current.Minute) == minute
	if t.weekly {
		matched = matched && current.DayOfWeek == params.DayOfWeek
	}
	return json.Marshal(clockState{IsTime: matched})
}

// Triggered fires on the false-to-true edge so a match lasting several polls
// fires exactly once.
func (t clockTrigger) Triggered(current, previous registry.State) bool {
	var now, before clockState
	if err := json.Unmarshal(current, &now); err != nil {
		return false
	}
	if previous != nil {
		if err := json.Unmarshal(previous, &before); err != nil {
			return false
		}
	}
	return now.IsTime && !before.IsTime
}

func clockDefinition() registry.Definition {
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	minutes := make([]int, 60)
	for i := range minutes {
		minutes[i] = i
	}
	timezoneField := registry.FormField{
		Title: "Timezone",
		Name:  "timezone",
		Value: "string",
		Hint:  "Timezone should be formatted like 'Continent/City' like Europe/Paris",
	}

	return registry.Definition{
		Name:  "date_and_time",
		Color: "#FF69B3",
		Auth:  registry.AuthConfig{Kind: registry.AuthNone},
		Actions: []registry.ActionDefinition{
			{
				Title:       "Daily Trigger",
				Name:        "daily_trigger",
				Description: "Trigger this action every day at a specific time",
				Form: []registry.FormField{
					{Title: "Hour(s)", Name: "hour", Value: hours},
					{Title: "Minute(s)", Name: "minutes", Value: minutes},
					timezoneField,
				},
				Trigger: clockTrigger{},
			},
			{
				Title:       "Weekly Trigger",
				Name:        "weekly_trigger",
				Description: "Trigger this action every week at a specific time",
				Form: []registry.FormField{
					{Title: "Hour(s)", Name: "hours", Value: hours},
					{Title: "Minute(s)", Name: "minutes", Value: minutes},
					{Title: "Day of week", Name: "dayOfWeek", Value: []string{
						"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
					}},
					timezoneField,
				},
				Trigger: clockTrigger{weekly: true},
			},
		},
	}
}
