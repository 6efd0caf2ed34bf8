package engine

import (
	"context"
	"fmt"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/registry"
	"github.com/arealabs/area/internal/services"
	"go.uber.org/zap"
)

// Dispatcher resolves and invokes an area's reaction. Both the polling sweep
// and inbound webhook delivery fire reactions through it.
type Dispatcher struct {
	registry    *registry.Registry
	credentials *services.Store
	logger      *zap.Logger
}

// DispatcherConfig describes the dispatcher's dependencies.
type DispatcherConfig struct {
	Registry    *registry.Registry
	Credentials *services.Store
	Logger      *zap.Logger
}

// NewDispatcher constructs a reaction dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("engine: credential store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: cfg.Registry, credentials: cfg.Credentials, logger: logger}, nil
}

// Dispatch invokes the reaction configured on the area.
func (d *Dispatcher) Dispatch(ctx context.Context, row area.Area) error {
	definition, err := d.registry.Reaction(row.Reaction.ServiceName, row.Reaction.Name)
	if err != nil {
		return fmt.Errorf("engine: resolve reaction: %w", err)
	}

	authToken, err := d.credentials.AuthTokenByID(ctx, row.Reaction.UserID, row.Reaction.ServiceID)
	if err != nil {
		return fmt.Errorf("engine: resolve credential: %w", err)
	}

	payload := []byte(row.Reaction.Payload)
	if _, err := definition.Request.Invoke(ctx, authToken, payload); err != nil {
		return fmt.Errorf("engine: invoke %s/%s: %w", row.Reaction.ServiceName, row.Reaction.Name, err)
	}

	d.logger.Debug("reaction dispatched",
		zap.Uint("area_id", row.ID),
		zap.String("service", row.Reaction.ServiceName),
		zap.String("reaction", row.Reaction.Name))
	return nil
}
