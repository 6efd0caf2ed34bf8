// Package area manages the lifecycle of automations: registering trigger and
// reaction instances against a user's connected services and pairing them
// into areas.
package area

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arealabs/area/internal/registry"
	"github.com/arealabs/area/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates an area the caller does not own or that does
	// not exist. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("area: not found")
	// ErrInvalidInput indicates a malformed creation request.
	ErrInvalidInput = errors.New("area: invalid input")
	// ErrAdapter indicates the provider call itself failed.
	ErrAdapter = errors.New("area: adapter call failed")

	noOpLogger = zap.NewNop()
)

// ServiceConfig describes the dependencies of the area lifecycle service.
type ServiceConfig struct {
	Database    *gorm.DB
	Registry    *registry.Registry
	Credentials *services.Store
	Logger      *zap.Logger
	// WebhookURL renders the inbound delivery URL for a webhook-fed area.
	// Optional; details omit the URL when unset.
	WebhookURL func(areaID uint) string
}

// Service owns area creation, listing and deletion.
type Service struct {
	db          *gorm.DB
	registry    *registry.Registry
	credentials *services.Store
	logger      *zap.Logger
	webhookURL  func(areaID uint) string
}

// NewService constructs the area lifecycle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("area: database connection required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("area: registry required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("area: credential store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:          cfg.Database,
		registry:    cfg.Registry,
		credentials: cfg.Credentials,
		logger:      logger,
		webhookURL:  cfg.WebhookURL,
	}, nil
}

// HalfInput selects a capability on one of the caller's connected services.
type HalfInput struct {
	Service string          `json:"service"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// CreateInput is an area creation request.
type CreateInput struct {
	Action   HalfInput `json:"action"`
	Reaction HalfInput `json:"reaction"`
}

// HalfDetail is the public view of a configured action or reaction.
type HalfDetail struct {
	ID         uint            `json:"id"`
	Service    string          `json:"service"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	WebhookURL string          `json:"webhook_url,omitempty"`
}

// Detail is the public view of an area.
type Detail struct {
	ID       uint       `json:"id"`
	Name     string     `json:"name"`
	Action   HalfDetail `json:"action"`
	Reaction HalfDetail `json:"reaction"`
}

// Create registers both halves and pairs them. The halves are registered
// concurrently; if either fails the other is rolled back so no orphan
// instance remains.
func (s *Service) Create(ctx context.Context, userID uint, input CreateInput) (Detail, error) {
	if input.Action.Service == "" || input.Action.Name == "" ||
		input.Reaction.Service == "" || input.Reaction.Name == "" {
		return Detail{}, fmt.Errorf("%w: action and reaction are required", ErrInvalidInput)
	}

	type actionResult struct {
		action Action
		err    error
	}
	type reactionResult struct {
		reaction Reaction
		err      error
	}

	actionCh := make(chan actionResult, 1)
	reactionCh := make(chan reactionResult, 1)
	go func() {
		action, err := s.registerAction(ctx, userID, input.Action)
		actionCh <- actionResult{action: action, err: err}
	}()
	go func() {
		reaction, err := s.registerReaction(ctx, userID, input.Reaction)
		reactionCh <- reactionResult{reaction: reaction, err: err}
	}()

	actionRes := <-actionCh
	reactionRes := <-reactionCh

	if actionRes.err != nil || reactionRes.err != nil {
		if actionRes.err == nil {
			if err := s.db.WithContext(ctx).Delete(&Action{}, actionRes.action.ID).Error; err != nil {
				s.logger.Error("orphan action cleanup failed",
					zap.Uint("action_id", actionRes.action.ID), zap.Error(err))
			}
		}
		if reactionRes.err == nil {
			if err := s.db.WithContext(ctx).Delete(&Reaction{}, reactionRes.reaction.ID).Error; err != nil {
				s.logger.Error("orphan reaction cleanup failed",
					zap.Uint("reaction_id", reactionRes.reaction.ID), zap.Error(err))
			}
		}
		if actionRes.err != nil {
			return Detail{}, actionRes.err
		}
		return Detail{}, reactionRes.err
	}

	row := Area{
		UserID:     userID,
		Name:       fmt.Sprintf("%s-%s", actionRes.action.Name, reactionRes.reaction.Name),
		ActionID:   actionRes.action.ID,
		ReactionID: reactionRes.reaction.ID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Detail{}, err
	}
	row.Action = actionRes.action
	row.Reaction = reactionRes.reaction

	s.logger.Info("area created",
		zap.Uint("area_id", row.ID),
		zap.Uint("user_id", userID),
		zap.String("name", row.Name))
	return s.detail(row), nil
}

func (s *Service) registerAction(ctx context.Context, userID uint, input HalfInput) (Action, error) {
	definition, err := s.registry.Action(input.Service, input.Name)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	connection, err := s.credentials.ByName(ctx, userID, input.Service)
	if err != nil {
		return Action{}, fmt.Errorf("%w: service %q is not connected", ErrInvalidInput, input.Service)
	}

	// Seed the baseline so the first poll compares against the state at
	// registration time instead of firing on pre-existing data.
	baseline, err := definition.Trigger.Fetch(ctx, connection.Credential(), input.Payload)
	if err != nil {
		return Action{}, fmt.Errorf("%w: baseline fetch for %s/%s: %v", ErrAdapter, input.Service, input.Name, err)
	}

	row := Action{
		UserID:      userID,
		ServiceID:   connection.ID,
		ServiceName: input.Service,
		Name:        input.Name,
		Payload:     string(input.Payload),
		LastState:   string(baseline),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Action{}, err
	}
	return row, nil
}

func (s *Service) registerReaction(ctx context.Context, userID uint, input HalfInput) (Reaction, error) {
	if _, err := s.registry.Reaction(input.Service, input.Name); err != nil {
		return Reaction{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	connection, err := s.credentials.ByName(ctx, userID, input.Service)
	if err != nil {
		return Reaction{}, fmt.Errorf("%w: service %q is not connected", ErrInvalidInput, input.Service)
	}

	row := Reaction{
		UserID:      userID,
		ServiceID:   connection.ID,
		ServiceName: input.Service,
		Name:        input.Name,
		Payload:     string(input.Payload),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Reaction{}, err
	}
	return row, nil
}

// List returns the caller's areas with both halves resolved.
func (s *Service) List(ctx context.Context, userID uint) ([]Detail, error) {
	var rows []Area
	err := s.db.WithContext(ctx).
		Preload("Action").Preload("Reaction").
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	details := make([]Detail, 0, len(rows))
	for _, row := range rows {
		details = append(details, s.detail(row))
	}
	return details, nil
}

// Delete removes the caller's area. The configured action and reaction rows
// are removed with it.
func (s *Service) Delete(ctx context.Context, userID, areaID uint) error {
	var row Area
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", areaID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: area %d", ErrNotFound, areaID)
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Area{}, row.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Action{}, row.ActionID).Error; err != nil {
			return err
		}
		return tx.Delete(&Reaction{}, row.ReactionID).Error
	})
}

// ByID loads an area regardless of owner. Inbound delivery authenticates by
// secret, not by session, so no user scope applies here.
func (s *Service) ByID(ctx context.Context, areaID uint) (Area, error) {
	var row Area
	err := s.db.WithContext(ctx).
		Preload("Action").Preload("Reaction").
		First(&row, areaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Area{}, fmt.Errorf("%w: area %d", ErrNotFound, areaID)
	}
	if err != nil {
		return Area{}, err
	}
	return row, nil
}

// All returns every area in the system for the polling sweep.
func (s *Service) All(ctx context.Context) ([]Area, error) {
	var rows []Area
	err := s.db.WithContext(ctx).
		Preload("Action").Preload("Reaction").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ActionDetail returns the caller's configured action.
func (s *Service) ActionDetail(ctx context.Context, userID, actionID uint) (HalfDetail, error) {
	row, err := s.actionByID(ctx, userID, actionID)
	if err != nil {
		return HalfDetail{}, err
	}

	detail := HalfDetail{
		ID:      row.ID,
		Service: row.ServiceName,
		Name:    row.Name,
		Payload: json.RawMessage(row.Payload),
	}
	if s.webhookURL != nil {
		if definition, err := s.registry.Service(row.ServiceName); err == nil &&
			definition.Auth.Kind == registry.AuthWebhook {
			var owner Area
			if err := s.db.WithContext(ctx).Where("action_id = ?", row.ID).First(&owner).Error; err == nil {
				detail.WebhookURL = s.webhookURL(owner.ID)
			}
		}
	}
	return detail, nil
}

// ReactionDetail returns the caller's configured reaction.
func (s *Service) ReactionDetail(ctx context.Context, userID, reactionID uint) (HalfDetail, error) {
	row, err := s.reactionByID(ctx, userID, reactionID)
	if err != nil {
		return HalfDetail{}, err
	}
	return HalfDetail{
		ID:      row.ID,
		Service: row.ServiceName,
		Name:    row.Name,
		Payload: json.RawMessage(row.Payload),
	}, nil
}

// TriggerAction runs the action's fetch once and returns the observed state.
// The stored snapshot is not touched and nothing fires.
func (s *Service) TriggerAction(ctx context.Context, userID, actionID uint) (registry.State, error) {
	row, err := s.actionByID(ctx, userID, actionID)
	if err != nil {
		return nil, err
	}
	definition, err := s.registry.Action(row.ServiceName, row.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	authToken, err := s.credentials.AuthTokenByID(ctx, userID, row.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: service for action %d", ErrNotFound, actionID)
	}

	state, err := definition.Trigger.Fetch(ctx, authToken, json.RawMessage(row.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrAdapter, row.ServiceName, row.Name, err)
	}
	return state, nil
}

// TriggerReaction invokes the reaction once and returns the provider result.
func (s *Service) TriggerReaction(ctx context.Context, userID, reactionID uint) (json.RawMessage, error) {
	row, err := s.reactionByID(ctx, userID, reactionID)
	if err != nil {
		return nil, err
	}
	definition, err := s.registry.Reaction(row.ServiceName, row.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	authToken, err := s.credentials.AuthTokenByID(ctx, userID, row.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: service for reaction %d", ErrNotFound, reactionID)
	}

	result, err := definition.Request.Invoke(ctx, authToken, json.RawMessage(row.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrAdapter, row.ServiceName, row.Name, err)
	}
	return result, nil
}

func (s *Service) actionByID(ctx context.Context, userID, actionID uint) (Action, error) {
	var row Action
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", actionID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Action{}, fmt.Errorf("%w: action %d", ErrNotFound, actionID)
	}
	if err != nil {
		return Action{}, err
	}
	return row, nil
}

func (s *Service) reactionByID(ctx context.Context, userID, reactionID uint) (Reaction, error) {
	var row Reaction
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reactionID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reaction{}, fmt.Errorf("%w: reaction %d", ErrNotFound, reactionID)
	}
	if err != nil {
		return Reaction{}, err
	}
	return row, nil
}

// UpdateLastState overwrites an action's stored snapshot.
func (s *Service) UpdateLastState(ctx context.Context, actionID uint, state registry.State) error {
	result := s.db.WithContext(ctx).
		Model(&Action{}).
		Where("id = ?", actionID).
		Update("last_state", string(state))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: action %d", ErrNotFound, actionID)
	}
	return nil
}

func (s *Service) detail(row Area) Detail {
	detail := Detail{
		ID:   row.ID,
		Name: row.Name,
		Action: HalfDetail{
			ID:      row.Action.ID,
			Service: row.Action.ServiceName,
			Name:    row.Action.Name,
			Payload: json.RawMessage(row.Action.Payload),
		},
		Reaction: HalfDetail{
			ID:      row.Reaction.ID,
			Service: row.Reaction.ServiceName,
			Name:    row.Reaction.Name,
			Payload: json.RawMessage(row.Reaction.Payload),
		},
	}
	if s.webhookURL != nil {
		if definition, err := s.registry.Service(row.Action.ServiceName); err == nil &&
			definition.Auth.Kind == registry.AuthWebhook {
			detail.Action.WebhookURL = s.webhookURL(row.ID)
		}
	}
	return detail
}
