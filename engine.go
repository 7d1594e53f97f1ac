// Package enginecore implements the deterministic idle/incremental game
// engine core: a fixed six-phase tick loop driving a validated game
// definition through intent routing, layer updates, event dispatch, and
// monotone unlock evaluation.
package enginecore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-idle/enginecore/internal/catalog"
	"github.com/go-idle/enginecore/internal/definition"
	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/evaluator"
	"github.com/go-idle/enginecore/internal/intent"
	"github.com/go-idle/enginecore/internal/layer"
	"github.com/go-idle/enginecore/internal/modifier"
	"github.com/go-idle/enginecore/internal/reset"
	"github.com/go-idle/enginecore/internal/statestore"
	"github.com/go-idle/enginecore/internal/unlock"
)

// phases is the fixed, total order every tick advances through exactly
// once. The cursor exists to make the gate's own invariant checkable, not
// because ordinary use can ever violate it.
var phases = []string{"input", "time", "layer-update", "event-dispatch", "unlock-evaluation", "render"}

// Summary reports what happened during one Tick call.
type Summary struct {
	IntentResults []intent.Result
	Dt            float64
	UpdatedLayers []string
	Dispatch      eventbus.DispatchReport
	Unlocks       evaluator.Summary
	UI            map[string]any
}

// Engine is one running game session: a validated definition wired to a
// state store, event bus, intent router, unlock evaluator, reset service,
// and an ordered set of live layer instances.
type Engine struct {
	mu sync.Mutex

	// configuration, set at construction and fixed for the engine's life.
	maxEventsPerTick         int
	maxDispatchCyclesPerTick int
	queueSizeHint            int
	logger                   Logger
	timeSource               TimeSource
	saver                    definition.Saver
	registry                 Registry
	eventCatalog             *catalog.EventCatalog
	intentCatalog            *catalog.IntentCatalog
	layerRegistry            *layer.Registry

	// wired at Initialize; nil until then.
	initialized bool
	def         *definition.Definition
	store       *statestore.Store
	bus         *eventbus.Bus
	router      *intent.Router
	evalr       *evaluator.Evaluator
	modResolver *modifier.Resolver
	resetSvc    *reset.Service
	layers      []layer.Layer
	subTokens   []eventbus.Token

	phaseCursor    int
	pendingIntents []intent.Intent
}

// New constructs an unconfigured Engine. Call Initialize before Tick.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxEventsPerTick:         1000,
		maxDispatchCyclesPerTick: 8,
		logger:                   defaultLogger(),
		timeSource:               NewWallClockTimeSource(),
		registry:                 NewInMemoryRegistry(),
		phaseCursor:              -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize loads and validates raw as a game definition and wires every
// component the tick loop needs: the state store seeded from the
// definition's initial state, the event bus, the unlock evaluator over
// every enumerated node reference, the softcap resolver, the layer reset
// service, and one live instance per defined layer. Initialize fails
// without constructing a partial engine if the definition itself is
// invalid, if no layer registry was configured, or if any layer factory or
// Init call fails.
func (e *Engine) Initialize(raw []byte, format definition.Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return fatal(CodeAlreadyInitialized, "Initialize called twice on the same engine")
	}
	if e.layerRegistry == nil {
		return fatal(CodeNoLayerRegistry, "no layer registry configured; use WithLayerRegistry")
	}

	def, err := definition.Load(raw, format)
	if err != nil {
		return err
	}

	if e.eventCatalog == nil {
		e.eventCatalog = catalog.NewSeededEventCatalog()
	}
	if e.intentCatalog == nil {
		e.intentCatalog = catalog.NewSeededIntentCatalog()
	}

	store := statestore.New(def.State)
	bus := eventbus.New(eventbus.Config{
		Strict:                   true,
		Catalog:                  e.eventCatalog,
		MaxEventsPerTick:         e.maxEventsPerTick,
		MaxDispatchCyclesPerTick: e.maxDispatchCyclesPerTick,
		QueueSizeHint:            e.queueSizeHint,
	})

	var softcapDefs []modifier.Def
	keepPaths := make(map[string][]string, len(def.Layers))
	for _, l := range def.Layers {
		keepPaths[l.ID] = l.ResetKeep
		for _, sc := range l.Softcaps {
			softcapDefs = append(softcapDefs, modifier.Def{
				TargetRef: sc.TargetRef, Key: sc.Key, Kind: sc.Kind,
				Threshold: sc.Threshold, Params: sc.Params,
			})
		}
	}
	modResolver := modifier.NewResolver(softcapDefs)
	resetSvc := reset.New(store, bus, def.State, keepPaths)

	var targets []evaluator.Target
	def.Walk(func(ref string, cond unlock.Node) {
		targets = append(targets, evaluator.Target{Ref: ref, AST: cond})
	})
	evalr := evaluator.New(targets, bus)

	e.def = def
	e.store = store
	e.bus = bus
	e.modResolver = modResolver
	e.resetSvc = resetSvc
	e.evalr = evalr
	e.router = intent.New(e.intentCatalog, true, e.isNodeLocked)

	if err := e.router.Register("REQUEST_LAYER_RESET", func(in intent.Intent) any {
		layerID, _ := in.Payload["layerId"].(string)
		reason, _ := in.Payload["reason"].(string)
		_ = e.bus.Publish(eventbus.Event{
			Type:    "LAYER_RESET_REQUESTED",
			Payload: map[string]any{"layerId": layerID, "reason": reason},
			Source:  "IntentRouter",
		})
		return e.resetSvc.Preview(layerID)
	}); err != nil {
		return fmt.Errorf("enginecore: %w", err)
	}

	e.subTokens = append(e.subTokens, e.bus.Subscribe("LAYER_RESET_REQUESTED", func(ev eventbus.Event) {
		layerID, _ := ev.Payload["layerId"].(string)
		reason, _ := ev.Payload["reason"].(string)
		if err := e.resetSvc.Execute(layerID, reason); err != nil {
			e.logger.Printf("layer reset execute failed for %q: %v", layerID, err)
		}
	}, "LayerResetService"))

	for _, ld := range def.Layers {
		ctx := layer.NewContext(ld.ID, bus, store, modResolver, resetSvc)
		inst, err := e.layerRegistry.CreateLayer(layer.Def{ID: ld.ID, Type: ld.Type}, ctx)
		if err != nil {
			return fmt.Errorf("enginecore: %w", err)
		}
		if err := inst.Init(ctx); err != nil {
			return fatalWrap(CodeLayerInitFailed, err, "layer %q failed to initialize", ld.ID)
		}
		e.layers = append(e.layers, inst)

		layerType := ld.Type
		e.eventCatalog.ForEach(func(eventType string, entry catalog.EventEntry) {
			for _, consumer := range entry.Consumers {
				if consumer == layerType {
					e.subTokens = append(e.subTokens, bus.Subscribe(eventType, inst.OnEvent, ld.ID))
					return
				}
			}
		})
	}

	e.initialized = true
	return nil
}

// RegisterIntentHandler binds handler to intentType on the engine's intent
// router. Initialize already registers REQUEST_LAYER_RESET itself; every
// other seeded or content-pack-added intent type is the host's
// responsibility to bind, typically once right after Initialize. Binding
// the same type twice is a programming error, per the router's own
// idempotency rule.
func (e *Engine) RegisterIntentHandler(intentType string, handler intent.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fatal(CodeNotInitialized, "RegisterIntentHandler called before Initialize")
	}
	return e.router.Register(intentType, handler)
}

// EnqueueIntent queues in for routing at the start of the next Tick's
// input phase. Callers must not call EnqueueIntent from within a layer's
// Update, OnEvent, or the intent router itself: the engine is
// single-threaded and cooperative, and a re-entrant call from inside Tick
// deadlocks against Tick's own lock rather than corrupting state silently.
func (e *Engine) EnqueueIntent(in intent.Intent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fatal(CodeNotInitialized, "EnqueueIntent called before Initialize")
	}
	e.pendingIntents = append(e.pendingIntents, in)
	return nil
}

// Tick advances the engine through exactly one pass of the fixed six-phase
// loop: input, time, layer-update, event-dispatch, unlock-evaluation,
// render. Any phase failing is reported as a FatalError; the caller should
// treat a non-nil error as session-ending, not retryable.
func (e *Engine) Tick() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Summary{}, fatal(CodeNotInitialized, "Tick called before Initialize")
	}

	e.phaseCursor = -1
	var summary Summary

	if err := e.advancePhase("input"); err != nil {
		return Summary{}, err
	}
	intents := e.pendingIntents
	e.pendingIntents = nil
	summary.IntentResults = make([]intent.Result, 0, len(intents))
	for _, in := range intents {
		summary.IntentResults = append(summary.IntentResults, e.router.Route(in))
	}

	if err := e.advancePhase("time"); err != nil {
		return Summary{}, err
	}
	dt, err := e.timeSource.DeltaTime()
	if err != nil {
		return Summary{}, fatalWrap(CodeInvalidDeltaTime, err, "time source returned an error")
	}
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return Summary{}, fatal(CodeInvalidDeltaTime, "delta time must be finite and non-negative, got %v", dt)
	}
	summary.Dt = dt

	if err := e.advancePhase("layer-update"); err != nil {
		return Summary{}, err
	}
	summary.UpdatedLayers = make([]string, 0, len(e.layers))
	for _, l := range e.layers {
		if err := l.Update(dt); err != nil {
			return Summary{}, fatalWrap(CodeLayerUpdateFailed, err, "layer %q Update failed", l.ID())
		}
		summary.UpdatedLayers = append(summary.UpdatedLayers, l.ID())
	}

	if err := e.advancePhase("event-dispatch"); err != nil {
		return Summary{}, err
	}
	if _, err := e.bus.DispatchQueued(); err != nil {
		return Summary{}, fatalWrap(CodeEventBusFatal, err, "event dispatch failed")
	}
	summary.Dispatch = e.bus.GetLastDispatchReport()

	if err := e.advancePhase("unlock-evaluation"); err != nil {
		return Summary{}, err
	}
	snap := e.store.Snapshot()
	unlockSummary, err := e.evalr.EvaluateAll("end-of-tick", snap)
	if err != nil {
		return Summary{}, fatalWrap(CodeUnlockEvaluationFailed, err, "unlock evaluation failed")
	}
	if err := e.store.SetDerived("derived.unlocks", map[string]any{
		"unlockedRefs": toAnySlice(unlockSummary.UnlockedRefs),
		"unlocked":     toAnyBoolMap(unlockSummary.Unlocked),
		"transitions":  toAnySlice(unlockSummary.Transitions),
	}); err != nil {
		return Summary{}, fatalWrap(CodeDerivedWriteFailed, err, "writing unlock summary to derived state failed")
	}
	summary.Unlocks = unlockSummary

	if err := e.advancePhase("render"); err != nil {
		return Summary{}, err
	}
	summary.UI = e.renderUI(unlockSummary)

	return summary, nil
}

// advancePhase moves the phase cursor forward by one and asserts it lands
// on name, the next phase in the fixed order. It then tells the event bus
// which phase is current, so strict publishes can enforce their catalog's
// AllowedPhases.
func (e *Engine) advancePhase(name string) error {
	e.phaseCursor++
	if e.phaseCursor >= len(phases) || phases[e.phaseCursor] != name {
		return fatal(CodePhaseOrderViolation, "expected phase %q at cursor %d, attempted %q", phaseAt(e.phaseCursor), e.phaseCursor, name)
	}
	e.bus.SetAllowedPhase(name)
	return nil
}

func phaseAt(i int) string {
	if i < 0 || i >= len(phases) {
		return "<out-of-range>"
	}
	return phases[i]
}

// isNodeLocked is the predicate the intent router consults for
// reject-if-target-locked intents. It defers to the evaluator's own
// cache, which already treats an unknown reference as unlocked.
func (e *Engine) isNodeLocked(ref string) bool {
	return !e.evalr.IsUnlocked(ref)
}

// renderUI composes the host-facing UI tree: every layer, sublayer,
// section, and element the current unlock summary marks unlocked, in
// definition order. A node is omitted if it or any ancestor is locked,
// which falls out naturally from recursing only into unlocked branches.
func (e *Engine) renderUI(us evaluator.Summary) map[string]any {
	var layersOut []map[string]any
	for _, l := range e.def.Layers {
		lref := "layer:" + l.ID
		if !us.Unlocked[lref] {
			continue
		}
		var sublayersOut []map[string]any
		for _, sub := range l.Sublayers {
			sref := lref + "/sublayer:" + sub.ID
			if !us.Unlocked[sref] {
				continue
			}
			var sectionsOut []map[string]any
			for _, sec := range sub.Sections {
				secref := sref + "/section:" + sec.ID
				if !us.Unlocked[secref] {
					continue
				}
				var elementsOut []map[string]any
				for _, el := range sec.Elements {
					elref := secref + "/element:" + el.ID
					if !us.Unlocked[elref] {
						continue
					}
					elementsOut = append(elementsOut, map[string]any{
						"id": el.ID, "type": el.Type, "nodeRef": elref,
					})
				}
				sectionsOut = append(sectionsOut, map[string]any{
					"id": sec.ID, "nodeRef": secref, "elements": elementsOut,
				})
			}
			sublayersOut = append(sublayersOut, map[string]any{
				"id": sub.ID, "type": "", "nodeRef": sref, "sections": sectionsOut,
			})
		}
		layersOut = append(layersOut, map[string]any{
			"id": l.ID, "type": l.Type, "nodeRef": lref, "sublayers": sublayersOut,
		})
	}
	return map[string]any{"layers": layersOut}
}

// Destroy releases every subscription the engine registered on behalf of
// its layers and the reset service, then destroys layers in reverse
// initialization order. An engine is not usable after Destroy.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fatal(CodeNotInitialized, "Destroy called before Initialize")
	}
	for _, tok := range e.subTokens {
		e.bus.Unsubscribe(tok)
	}
	e.subTokens = nil
	for i := len(e.layers) - 1; i >= 0; i-- {
		if err := e.layers[i].Destroy(); err != nil {
			return fmt.Errorf("enginecore: layer %q Destroy failed: %w", e.layers[i].ID(), err)
		}
	}
	e.layers = nil
	e.initialized = false
	return nil
}

// ViewModels returns every live layer's GetViewModel result, keyed by
// layer id, for hosts that need a layer's internal view model alongside
// the filtered UI tree Tick already returns.
func (e *Engine) ViewModels() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.layers))
	for _, l := range e.layers {
		out[l.ID()] = l.GetViewModel()
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toAnyBoolMap(m map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Save persists the engine's full session state through the configured
// Saver, keyed by sessionID. It fails if no Saver was configured.
func (e *Engine) Save(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saver == nil {
		return fmt.Errorf("enginecore: Save called without a configured Saver (use WithSaver)")
	}
	return e.saver.Save(ctx, sessionID, e.snapshotLocked())
}

// Load restores the engine's full session state from the configured
// Saver, keyed by sessionID. Initialize must already have succeeded: Load
// restores state into an already-validated definition, it does not load
// the definition itself.
func (e *Engine) Load(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saver == nil {
		return fmt.Errorf("enginecore: Load called without a configured Saver (use WithSaver)")
	}
	snap, err := e.saver.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	return e.restoreLocked(snap)
}

// Snapshot returns the engine's current session state as a portable
// definition.Snapshot, independent of any configured Saver.
func (e *Engine) Snapshot() definition.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() definition.Snapshot {
	st := e.store.Snapshot()
	canonical, _ := st.Get("").(map[string]any)
	derived, _ := st.Get("derived").(map[string]any)

	var unlockedRefs []string
	if unlocks, ok := derived["unlocks"].(map[string]any); ok {
		if refs, ok := unlocks["unlockedRefs"].([]any); ok {
			for _, v := range refs {
				if s, ok := v.(string); ok {
					unlockedRefs = append(unlockedRefs, s)
				}
			}
		}
	}

	return definition.Snapshot{
		SchemaVersion:  e.def.SchemaVersion,
		CanonicalState: canonical,
		DerivedState:   derived,
		UnlockedRefs:   unlockedRefs,
	}
}

// Restore installs snap as the engine's current session state. It must be
// called after Initialize and before the first Tick: restoring mid-session
// would silently discard in-flight ticks and published-but-undispatched
// events.
func (e *Engine) Restore(snap definition.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restoreLocked(snap)
}

func (e *Engine) restoreLocked(snap definition.Snapshot) error {
	if !e.initialized {
		return fatal(CodeNotInitialized, "Restore called before Initialize")
	}
	if snap.SchemaVersion != "" && snap.SchemaVersion != e.def.SchemaVersion {
		return fatal(CodeSnapshotSchemaMismatch, "snapshot schemaVersion %q does not match definition %q", snap.SchemaVersion, e.def.SchemaVersion)
	}
	if snap.CanonicalState != nil {
		e.store.ReplaceCanonical(snap.CanonicalState)
	}
	if snap.DerivedState != nil {
		if err := e.store.SetDerived("derived", snap.DerivedState); err != nil {
			return fmt.Errorf("enginecore: restoring derived state failed: %w", err)
		}
	}
	for _, ref := range snap.UnlockedRefs {
		e.evalr.MarkUnlocked(ref)
	}
	return nil
}

// RegisterVersion records the engine's current state as a new version in
// the configured Registry, for hosts that want explicit milestone
// checkpoints distinct from the ordinary Save/Load path.
func (e *Engine) RegisterVersion(ctx context.Context, sessionID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Register(ctx, sessionID, e.snapshotLocked())
}
