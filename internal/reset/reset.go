// Package reset implements the layer reset service: a preview of what a
// reset would keep, and an atomic execute that restores the whole canonical
// namespace to the initial state while preserving a declared set of keep
// paths.
package reset

import (
	"strings"

	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/statestore"
)

// Preview is the result of previewing a reset without performing one.
type Preview struct {
	LayerID      string
	KeepPaths    []string
	HasKeepRules bool
}

// Service executes layer resets against a state store, publishing
// LAYER_RESET_EXECUTED on the event bus when a reset completes.
type Service struct {
	store        *statestore.Store
	bus          *eventbus.Bus
	initialState map[string]any
	keepPaths    map[string][]string
}

// New builds a Service. initialState is the definition's initial
// canonical state (used as the reset baseline); keepPaths maps layer id
// to its declared `reset.keep` paths. New sanitizes each layer's paths:
// it trims whitespace, drops empty entries, and preserves order.
func New(store *statestore.Store, bus *eventbus.Bus, initialState map[string]any, keepPaths map[string][]string) *Service {
	sanitized := make(map[string][]string, len(keepPaths))
	for layerID, paths := range keepPaths {
		var out []string
		for _, p := range paths {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
		sanitized[layerID] = out
	}
	return &Service{
		store:        store,
		bus:          bus,
		initialState: statestore.CloneMap(initialState),
		keepPaths:    sanitized,
	}
}

// Preview reports what executing a reset for layerID would keep, without
// performing the reset.
func (s *Service) Preview(layerID string) Preview {
	paths := s.keepPaths[layerID]
	return Preview{
		LayerID:      layerID,
		KeepPaths:    append([]string(nil), paths...),
		HasKeepRules: len(paths) > 0,
	}
}

// Execute restores the canonical namespace to a deep clone of the
// definition's initial state, re-applying every declared keep path whose
// current value is defined, then publishes LAYER_RESET_EXECUTED. The
// store's canonical namespace is replaced in a single atomic swap; no
// intermediate state is ever observable through the store.
func (s *Service) Execute(layerID, reason string) error {
	current := s.store.Snapshot()
	baseline := statestore.CloneMap(s.initialState)

	var preserved []string
	for _, path := range s.keepPaths[layerID] {
		v := current.Get(path)
		if statestore.IsMissing(v) {
			continue
		}
		statestore.SetPathIn(baseline, path, v)
		preserved = append(preserved, path)
	}

	s.store.ReplaceCanonical(baseline)

	if reason == "" {
		reason = "reset-executed"
	}
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(eventbus.Event{
		Type:    "LAYER_RESET_EXECUTED",
		Payload: map[string]any{"layerId": layerID, "preservedKeys": preserved, "reason": reason},
		Source:  "LayerResetService",
	})
}
