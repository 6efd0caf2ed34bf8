// Package webhook accepts inbound provider deliveries addressed to a single
// area. Callers authenticate with a per-area secret derived from a shared
// key, never with a user session.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/engine"
	"github.com/arealabs/area/internal/registry"
	"go.uber.org/zap"
)

var (
	// ErrRejected covers every authentication and resolution failure on the
	// inbound path. Callers must not learn whether the area exists.
	ErrRejected = errors.New("webhook: delivery rejected")
	// ErrDispatch indicates the reaction call itself failed.
	ErrDispatch = errors.New("webhook: reaction dispatch failed")
)

// Signer derives per-area delivery secrets from the shared key and renders
// the matching delivery URLs.
type Signer struct {
	sharedSecret []byte
	publicHost   string
}

// NewSigner constructs a signer. publicHost prefixes rendered delivery URLs,
// e.g. "https://api.example.com".
func NewSigner(sharedSecret []byte, publicHost string) (*Signer, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("webhook: shared secret required")
	}
	return &Signer{
		sharedSecret: append([]byte(nil), sharedSecret...),
		publicHost:   strings.TrimRight(publicHost, "/"),
	}, nil
}

// Secret derives the delivery secret for an area id.
func (s *Signer) Secret(areaID uint) string {
	mac := hmac.New(sha256.New, s.sharedSecret)
	mac.Write([]byte(strconv.FormatUint(uint64(areaID), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// URL renders the delivery URL providers should post to.
func (s *Signer) URL(areaID uint) string {
	return fmt.Sprintf("%s/webhook/%d/%s", s.publicHost, areaID, s.Secret(areaID))
}

// ReceiverConfig describes the receiver's dependencies.
type ReceiverConfig struct {
	Signer     *Signer
	Areas      *area.Service
	Registry   *registry.Registry
	Dispatcher *engine.Dispatcher
	Logger     *zap.Logger
}

// Receiver validates and executes inbound deliveries.
type Receiver struct {
	signer     *Signer
	areas      *area.Service
	registry   *registry.Registry
	dispatcher *engine.Dispatcher
	logger     *zap.Logger
}

// NewReceiver constructs the inbound delivery receiver.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("webhook: signer required")
	}
	if cfg.Areas == nil {
		return nil, fmt.Errorf("webhook: area service required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("webhook: registry required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("webhook: dispatcher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		signer:     cfg.Signer,
		areas:      cfg.Areas,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}, nil
}

// Receive authenticates one delivery and, when the body matches the area's
// configured event, fires the reaction. It reports whether the reaction
// fired. ErrRejected covers bad secrets, unknown areas and non-webhook
// actions alike.
func (r *Receiver) Receive(ctx context.Context, areaID uint, secret string, body json.RawMessage) (bool, error) {
	expected := r.signer.Secret(areaID)
	if !hmac.Equal([]byte(expected), []byte(secret)) {
		return false, ErrRejected
	}

	row, err := r.areas.ByID(ctx, areaID)
	if err != nil {
		return false, ErrRejected
	}

	serviceDefinition, err := r.registry.Service(row.Action.ServiceName)
	if err != nil || serviceDefinition.Auth.Kind != registry.AuthWebhook {
		return false, ErrRejected
	}
	actionDefinition, err := r.registry.Action(row.Action.ServiceName, row.Action.Name)
	if err != nil {
		return false, ErrRejected
	}

	// No polled baseline exists on this path; the condition sees only the
	// delivered body.
	if !actionDefinition.Trigger.Triggered(registry.State(body), nil) {
		return false, nil
	}

	if err := r.dispatcher.Dispatch(ctx, row); err != nil {
		r.logger.Error("inbound delivery reaction failed",
			zap.Uint("area_id", areaID), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	r.logger.Info("inbound delivery fired",
		zap.Uint("area_id", areaID),
		zap.String("action", row.Action.Name),
		zap.String("reaction", row.Reaction.Name))
	return true, nil
}
