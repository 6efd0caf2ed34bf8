// Package providers implements the per-provider integration adapters and
// assembles them into the service registry catalog.
package providers

import (
	"github.com/arealabs/area/internal/config"
	"github.com/arealabs/area/internal/registry"
)

// All returns every provider definition, in catalog order.
func All(cfg config.ProviderConfig) []registry.Definition {
	return []registry.Definition{
		clockDefinition(),
		discordDefinition(cfg),
		eventbriteDefinition(),
		githubDefinition(),
		steamDefinition(cfg.SteamValidationID),
	}
}
