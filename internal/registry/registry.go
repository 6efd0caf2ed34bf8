// Package registry holds the static catalog of provider integrations: which
// services exist, how each one authenticates, and the actions (triggers) and
// reactions (effects) it offers. The catalog is built once at startup and is
// immutable for the process lifetime.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a service, action or reaction name that the
	// catalog does not know about.
	ErrNotFound = errors.New("registry: not found")
)

// State is an action's observed external state snapshot. Its shape is opaque
// to everything except the trigger that produced it.
type State = json.RawMessage

// Trigger fetches external state and decides whether a transition between two
// snapshots constitutes the action's event.
type Trigger interface {
	// Fetch retrieves the current external state for the configured action.
	// authToken may legitimately be empty for services without auth.
	Fetch(ctx context.Context, authToken string, payload json.RawMessage) (State, error)

	// Triggered reports whether the event occurred between previous and
	// current. It must be pure. previous is nil on the webhook path, where
	// no polled baseline exists.
	Triggered(current, previous State) bool
}

// Invoker issues a reaction's side-effecting call.
type Invoker interface {
	Invoke(ctx context.Context, authToken string, payload json.RawMessage) (json.RawMessage, error)
}

// FormField describes one input the front-end renders when configuring an
// action or reaction.
type FormField struct {
	Title string      `json:"title"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	Hint  string      `json:"hint,omitempty"`
}

// ActionDefinition is a registry-level trigger capability.
type ActionDefinition struct {
	Title       string
	Name        string
	Description string
	Form        []FormField
	Trigger     Trigger
}

// ReactionDefinition is a registry-level side-effect capability.
type ReactionDefinition struct {
	Title       string
	Name        string
	Description string
	Form        []FormField
	Request     Invoker
}

// Definition is one provider's catalog entry.
type Definition struct {
	Name      string
	Color     string
	Auth      AuthConfig
	Actions   []ActionDefinition
	Reactions []ReactionDefinition
}

// Registry is the immutable provider catalog.
type Registry struct {
	definitions []Definition
}

// New builds a catalog from the provided definitions.
func New(definitions []Definition) *Registry {
	return &Registry{definitions: definitions}
}

// All returns every catalog entry in registration order.
func (r *Registry) All() []Definition {
	return r.definitions
}

// Service looks up a provider by name.
func (r *Registry) Service(name string) (Definition, error) {
	for _, definition := range r.definitions {
		if definition.Name == name {
			return definition, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: service %q", ErrNotFound, name)
}

// Action looks up an action by provider and action name.
func (r *Registry) Action(serviceName, actionName string) (ActionDefinition, error) {
	definition, err := r.Service(serviceName)
	if err != nil {
		return ActionDefinition{}, err
	}
	for _, action := range definition.Actions {
		if action.Name == actionName {
			return action, nil
		}
	}
	return ActionDefinition{}, fmt.Errorf("%w: action %q on service %q", ErrNotFound, actionName, serviceName)
}

// Reaction looks up a reaction by provider and reaction name.
func (r *Registry) Reaction(serviceName, reactionName string) (ReactionDefinition, error) {
	definition, err := r.Service(serviceName)
	if err != nil {
		return ReactionDefinition{}, err
	}
	for _, reaction := range definition.Reactions {
		if reaction.Name == reactionName {
			return reaction, nil
		}
	}
	return ReactionDefinition{}, fmt.Errorf("%w: reaction %q on service %q", ErrNotFound, reactionName, serviceName)
}
