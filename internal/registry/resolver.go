// Package registry resolves client-supplied model names to upstream model
// identifiers. Models already carrying the upstream namespace pass through
// unchanged; everything else goes through the configured mapping table and
// falls back to the default model.
package registry

import (
	"strings"

	"github.com/ocagate/ocagate/internal/config"
)

// UpstreamPrefix is the namespace of upstream model identifiers.
const UpstreamPrefix = "oca/"

// Resolution is the outcome of resolving a client model name.
type Resolution struct {
	// Model is the upstream model identifier to request.
	Model string

	// ReasoningEffort is the effort hint attached to the resolution, empty
	// when neither the mapping nor the defaults carry one.
	ReasoningEffort string
}

// Resolver maps client model names to upstream targets. The mapping table is
// read from the configuration on every call, so a config reload takes effect
// on the next request without restarting.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a resolver over the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve maps a client model name to its upstream target. It is
// deterministic and performs no I/O.
func (r *Resolver) Resolve(clientModel string) Resolution {
	if strings.HasPrefix(clientModel, UpstreamPrefix) {
		return Resolution{Model: clientModel}
	}

	if target, ok := r.cfg.Mapping(clientModel); ok && target.Target != "" {
		return Resolution{Model: target.Target, ReasoningEffort: target.ReasoningEffort}
	}

	model, effort := r.cfg.Defaults()
	return Resolution{Model: model, ReasoningEffort: effort}
}
