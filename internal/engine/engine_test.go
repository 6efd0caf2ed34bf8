package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/registry"
	"github.com/arealabs/area/internal/services"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// stateTrigger fires whenever the fetched state differs from the stored
// snapshot, which mirrors the shape of the real presence-set triggers.
type stateTrigger struct {
	state    registry.State
	fetchErr error
	fetches  int
}

func (t *stateTrigger) Fetch(_ context.Context, _ string, _ json.RawMessage) (registry.State, error) {
	t.fetches++
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}
	return t.state, nil
}

func (t *stateTrigger) Triggered(current, previous registry.State) bool {
	return !bytes.Equal(current, previous)
}

type countingInvoker struct {
	calls int
	err   error
}

func (r *countingInvoker) Invoke(_ context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return nil, nil
}

type fixture struct {
	db      *gorm.DB
	areas   *area.Service
	engine  *Engine
	trigger *stateTrigger
	invoker *countingInvoker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&services.Service{}, &services.OAuthToken{}, &area.Action{}, &area.Reaction{}, &area.Area{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	trigger := &stateTrigger{state: registry.State(`["1"]`)}
	invoker := &countingInvoker{}
	catalog := registry.New([]registry.Definition{
		{
			Name: "alpha",
			Auth: registry.AuthConfig{Kind: registry.AuthNone},
			Actions: []registry.ActionDefinition{
				{Name: "tick", Trigger: trigger},
			},
			Reactions: []registry.ReactionDefinition{
				{Name: "echo", Request: invoker},
			},
		},
	})

	store, err := services.NewStore(services.StoreConfig{Database: db, Registry: catalog})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.RegisterNoAuth(context.Background(), 1, "alpha"); err != nil {
		t.Fatalf("failed to connect alpha: %v", err)
	}

	areaService, err := area.NewService(area.ServiceConfig{Database: db, Registry: catalog, Credentials: store})
	if err != nil {
		t.Fatalf("failed to create area service: %v", err)
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{Registry: catalog, Credentials: store})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	evaluator, err := New(Config{
		Areas:       areaService,
		Registry:    catalog,
		Credentials: store,
		Dispatcher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return fixture{db: db, areas: areaService, engine: evaluator, trigger: trigger, invoker: invoker}
}

func (fx fixture) createArea(t *testing.T) area.Detail {
	t.Helper()
	detail, err := fx.areas.Create(context.Background(), 1, area.CreateInput{
		Action:   area.HalfInput{Service: "alpha", Name: "tick", Payload: json.RawMessage(`{}`)},
		Reaction: area.HalfInput{Service: "alpha", Name: "echo", Payload: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return detail
}

func (fx fixture) lastState(t *testing.T, actionID uint) string {
	t.Helper()
	var action area.Action
	if err := fx.db.First(&action, actionID).Error; err != nil {
		t.Fatalf("action lookup failed: %v", err)
	}
	return action.LastState
}

func TestSweepFiresReactionOnceAndAdvancesState(t *testing.T) {
	fx := newFixture(t)
	detail := fx.createArea(t)

	// The baseline equals the current state right after creation; the first
	// sweep observes no transition.
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 0 {
		t.Fatalf("expected no firing without a transition, got %d calls", fx.invoker.calls)
	}

	fx.trigger.state = registry.State(`["1","2"]`)
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected exactly one firing, got %d", fx.invoker.calls)
	}
	if got := fx.lastState(t, detail.Action.ID); got != `["1","2"]` {
		t.Fatalf("expected advanced snapshot, got %q", got)
	}

	// The same external state must not fire again.
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected no refiring for a consumed transition, got %d calls", fx.invoker.calls)
	}
}

func TestEvaluateLeavesStateUntouchedOnFetchError(t *testing.T) {
	fx := newFixture(t)
	detail := fx.createArea(t)
	before := fx.lastState(t, detail.Action.ID)

	fx.trigger.fetchErr = errors.New("provider down")
	row, err := fx.areas.ByID(context.Background(), detail.ID)
	if err != nil {
		t.Fatalf("area lookup failed: %v", err)
	}
	if err := fx.engine.Evaluate(context.Background(), row); err == nil {
		t.Fatalf("expected evaluate to report fetch failure")
	}
	if fx.invoker.calls != 0 {
		t.Fatalf("expected no firing on fetch failure, got %d calls", fx.invoker.calls)
	}
	if got := fx.lastState(t, detail.Action.ID); got != before {
		t.Fatalf("expected snapshot unchanged, got %q", got)
	}

	// Once the provider recovers, the pending transition fires.
	fx.trigger.fetchErr = nil
	fx.trigger.state = registry.State(`["1","2"]`)
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected firing after recovery, got %d calls", fx.invoker.calls)
	}
}

func TestEvaluateConsumesTransitionEvenWhenReactionFails(t *testing.T) {
	fx := newFixture(t)
	detail := fx.createArea(t)

	fx.invoker.err = errors.New("reaction rejected")
	fx.trigger.state = registry.State(`["1","2"]`)

	row, err := fx.areas.ByID(context.Background(), detail.ID)
	if err != nil {
		t.Fatalf("area lookup failed: %v", err)
	}
	if err := fx.engine.Evaluate(context.Background(), row); err != nil {
		t.Fatalf("expected reaction failure to be swallowed, got %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected one attempted firing, got %d", fx.invoker.calls)
	}
	if got := fx.lastState(t, detail.Action.ID); got != `["1","2"]` {
		t.Fatalf("expected snapshot advanced before dispatch, got %q", got)
	}

	// The failed reaction is not retried for the consumed transition.
	fx.invoker.err = nil
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected no retry for consumed transition, got %d calls", fx.invoker.calls)
	}
}

func TestSweepContinuesPastFailingArea(t *testing.T) {
	fx := newFixture(t)
	first := fx.createArea(t)
	second := fx.createArea(t)

	// Break the first area's action by pointing it at a capability the
	// catalog does not know.
	if err := fx.db.Model(&area.Action{}).Where("id = ?", first.Action.ID).Update("name", "gone").Error; err != nil {
		t.Fatalf("failed to corrupt action: %v", err)
	}

	fx.trigger.state = registry.State(`["1","2"]`)
	if err := fx.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("expected the healthy area to fire, got %d calls", fx.invoker.calls)
	}
	if got := fx.lastState(t, second.Action.ID); got != `["1","2"]` {
		t.Fatalf("expected healthy area's snapshot advanced, got %q", got)
	}
}
