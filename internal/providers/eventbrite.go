package providers

import (
	"context"
	"encoding/json"

	"github.com/arealabs/area/internal/registry"
)

// eventbriteTrigger matches pushed webhook bodies against one Eventbrite
// event name. Eventbrite services are never polled: Fetch returns a null
// baseline, and the condition only ever runs on the webhook path where the
// previous state is nil.
type eventbriteTrigger struct {
	event string
}

func (t eventbriteTrigger) Fetch(_ context.Context, _ string, _ json.RawMessage) (registry.State, error) {
	return json.RawMessage("null"), nil
}

func (t eventbriteTrigger) Triggered(current, _ registry.State) bool {
	var body struct {
		Config struct {
			Action string `json:"action"`
		} `json:"config"`
	}
	if err := json.Unmarshal(current, &body); err != nil {
		return false
	}
	return body.Config.Action == t.event
}

func eventbriteDefinition() registry.Definition {
	events := []struct {
		title       string
		name        string
		description string
	}{
		{"Attendee updated", "attendee.updated", "Triggered for each attendee check-in/check-out and update"},
		{"Barcode scanned for check-in", "barcode.checked_in", "Triggered for each attendee's barcode checking in an event"},
		{"Barcode scanned for check-out", "barcode.un_checked_in", "Triggered for each attendee's barcode checking out an event"},
		{"An event is created", "event.created", "Triggered for each events created on the account"},
		{"An event is published", "event.published", "Triggered for each events published on the account"},
		{"An event is unpublished", "event.unpublished", "Triggered for each events unpublished on the account"},
		{"An event is updated", "event.updated", "Triggered for each events update on the account"},
		{"Order placed", "order.placed", "Triggered for each orders placed on an event of the account"},
		{"Order refunded", "order.refunded", "Triggered for each refunded order on an event of the account"},
		{"Order updated", "order.updated", "Triggered for each updates of order on an event of the account"},
	}

	actions := make([]registry.ActionDefinition, 0, len(events))
	for _, event := range events {
		actions = append(actions, registry.ActionDefinition{
			Title:       event.title,
			Name:        event.name,
			Description: event.description,
			Form:        []registry.FormField{},
			Trigger:     eventbriteTrigger{event: event.name},
		})
	}

	return registry.Definition{
		Name:    "eventbrite",
		Color:   "#F05537",
		Auth:    registry.AuthConfig{Kind: registry.AuthWebhook, Hint: "An url will be supplied during area creation"},
		Actions: actions,
	}
}
