package enginecore

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-idle/enginecore/internal/catalog"
	"github.com/go-idle/enginecore/internal/definition"
	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/intent"
	"github.com/go-idle/enginecore/internal/layer"
)

// fakeLayer is a minimal Layer satisfying test double, customizable per
// test via the onUpdate/onEvent hooks.
type fakeLayer struct {
	id, typ  string
	ctx      *layer.Context
	onInit   func(ctx *layer.Context) error
	onUpdate func(l *fakeLayer, dt float64) error
	onEvent  func(l *fakeLayer, e eventbus.Event)
}

func (l *fakeLayer) ID() string   { return l.id }
func (l *fakeLayer) Type() string { return l.typ }
func (l *fakeLayer) Init(ctx *layer.Context) error {
	l.ctx = ctx
	if l.onInit != nil {
		return l.onInit(ctx)
	}
	return nil
}
func (l *fakeLayer) Update(dt float64) error {
	if l.onUpdate != nil {
		return l.onUpdate(l, dt)
	}
	return nil
}
func (l *fakeLayer) OnEvent(e eventbus.Event) {
	if l.onEvent != nil {
		l.onEvent(l, e)
	}
}
func (l *fakeLayer) Destroy() error    { return nil }
func (l *fakeLayer) GetViewModel() any { return nil }

func factoryFor(instances map[string]*fakeLayer) layer.Factory {
	return func(d layer.Def, ctx *layer.Context) (layer.Layer, error) {
		return instances[d.ID], nil
	}
}

func TestAdvancePhase_OutOfOrderIsFatal(t *testing.T) {
	e := &Engine{phaseCursor: -1}
	err := e.advancePhase("time")
	if err == nil {
		t.Fatal("expected a fatal error advancing to the wrong first phase")
	}
	var ferr *FatalError
	if !errors.As(err, &ferr) || ferr.Code != CodePhaseOrderViolation {
		t.Errorf("err = %v, want a FatalError with code %q", err, CodePhaseOrderViolation)
	}
}

func TestInitialize_RequiresLayerRegistry(t *testing.T) {
	e := New()
	err := e.Initialize([]byte(minimalDefJSON("noop")), definition.FormatJSON)
	if err == nil {
		t.Fatal("expected Initialize to fail without a layer registry")
	}
}

func TestTick_RequiresInitialize(t *testing.T) {
	e := New()
	if _, err := e.Tick(); err == nil {
		t.Fatal("expected Tick to fail before Initialize")
	}
}

func TestTick_AdvancesAllSixPhasesExactlyOnce(t *testing.T) {
	reg := layer.NewRegistry()
	inst := &fakeLayer{id: "idle", typ: "noop"}
	reg.Register("noop", factoryFor(map[string]*fakeLayer{"idle": inst}))

	e := New(WithLayerRegistry(reg), WithTimeSource(NewFixedTimeSource(0.5)))
	if err := e.Initialize([]byte(minimalDefJSON("noop")), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	summary, err := e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dt != 0.5 {
		t.Errorf("Dt = %v, want 0.5", summary.Dt)
	}
	if e.phaseCursor != len(phases)-1 {
		t.Errorf("phaseCursor = %d, want %d", e.phaseCursor, len(phases)-1)
	}
	if len(summary.UpdatedLayers) != 1 || summary.UpdatedLayers[0] != "idle" {
		t.Errorf("UpdatedLayers = %v", summary.UpdatedLayers)
	}
}

// TestLayerOrderStability models TP3: layers update in definition order,
// every tick, regardless of how many times the engine has ticked before.
func TestLayerOrderStability(t *testing.T) {
	var order []string
	record := func(id string) func(l *fakeLayer, dt float64) error {
		return func(l *fakeLayer, dt float64) error {
			order = append(order, id)
			return nil
		}
	}

	reg := layer.NewRegistry()
	a := &fakeLayer{id: "a", typ: "tracker", onUpdate: record("a")}
	b := &fakeLayer{id: "b", typ: "tracker", onUpdate: record("b")}
	c := &fakeLayer{id: "c", typ: "tracker", onUpdate: record("c")}
	reg.Register("tracker", factoryFor(map[string]*fakeLayer{"a": a, "b": b, "c": c}))

	defJSON := `{
		"meta": {"schemaVersion": "1.0.0", "gameId": "order-test"},
		"state": {},
		"layers": [
			{"id": "a", "type": "tracker"},
			{"id": "b", "type": "tracker"},
			{"id": "c", "type": "tracker"}
		]
	}`

	e := New(WithLayerRegistry(reg), WithTimeSource(NewFixedTimeSource(1)))
	if err := e.Initialize([]byte(defJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		order = nil
		if _, err := e.Tick(); err != nil {
			t.Fatal(err)
		}
		want := []string{"a", "b", "c"}
		if len(order) != len(want) {
			t.Fatalf("tick %d: order = %v, want %v", i, order, want)
		}
		for j := range want {
			if order[j] != want[j] {
				t.Errorf("tick %d: order = %v, want %v", i, order, want)
				break
			}
		}
	}
}

// xpDefJSON is the vertical-slice content pack for TestScenario_S1: a
// single progress layer whose "jobs" section and its one element unlock
// once accumulated xp crosses 10.
const xpDefJSON = `{
	"meta": {"schemaVersion": "1.0.0", "gameId": "s1"},
	"state": {"layers": {"idle": {"resources": {"xp": 0}}}},
	"layers": [
		{
			"id": "idle",
			"type": "progressLayer",
			"sublayers": [
				{
					"id": "main",
					"sections": [
						{
							"id": "jobs",
							"unlock": {"resourceGte": ["layers.idle.resources.xp", 10]},
							"elements": [
								{
									"id": "jobButton",
									"type": "button",
									"unlock": {"resourceGte": ["layers.idle.resources.xp", 10]}
								}
							]
						}
					]
				}
			]
		}
	]
}`

// TestScenario_S1 models the spec's vertical slice: an xp-gated element
// becomes visible in the UI tree on the tick its threshold is crossed, not
// before, and the unlock evaluator reports exactly one transition per node
// the moment it crosses. The layer and sublayer carry no unlock condition,
// so they transition on the first tick.
func TestScenario_S1_VerticalSlice(t *testing.T) {
	reg := layer.NewRegistry()
	xp := &fakeLayer{
		id: "idle", typ: "progressLayer",
		onUpdate: func(l *fakeLayer, dt float64) error {
			cur, _ := l.ctx.State.Get("layers.idle.resources.xp").(float64)
			return l.ctx.State.SetOwn("resources.xp", cur+4)
		},
	}
	reg.Register("progressLayer", factoryFor(map[string]*fakeLayer{"idle": xp}))

	e := New(WithLayerRegistry(reg), WithTimeSource(NewFixedTimeSource(1)))
	if err := e.Initialize([]byte(xpDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	const sectionRef = "layer:idle/sublayer:main/section:jobs"
	const elementRef = "layer:idle/sublayer:main/section:jobs/element:jobButton"

	wantEarlyTransitions := []string{"layer:idle,layer:idle/sublayer:main", ""}
	for tick := 1; tick <= 2; tick++ {
		summary, err := e.Tick()
		if err != nil {
			t.Fatal(err)
		}
		if summary.Unlocks.Unlocked[sectionRef] {
			t.Fatalf("tick %d: section unlocked early", tick)
		}
		if got := strings.Join(summary.Unlocks.Transitions, ","); got != wantEarlyTransitions[tick-1] {
			t.Fatalf("tick %d: transitions %v, want %q", tick, summary.Unlocks.Transitions, wantEarlyTransitions[tick-1])
		}
	}

	summary, err := e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Unlocks.Unlocked[sectionRef] || !summary.Unlocks.Unlocked[elementRef] {
		t.Fatalf("tick 3: expected section and element unlocked, got %v", summary.Unlocks.Unlocked)
	}
	wantTransitions := map[string]bool{sectionRef: true, elementRef: true}
	if len(summary.Unlocks.Transitions) != 2 {
		t.Fatalf("tick 3: transitions = %v, want exactly %v", summary.Unlocks.Transitions, wantTransitions)
	}
	for _, ref := range summary.Unlocks.Transitions {
		if !wantTransitions[ref] {
			t.Errorf("unexpected transition %q", ref)
		}
	}

	layers, _ := summary.UI["layers"].([]map[string]any)
	if len(layers) != 1 {
		t.Fatalf("UI tree has %d layers, want 1", len(layers))
	}
}

func registerUnlockedEntry(cat *catalog.EventCatalog) {
	cat.Register("UNLOCKED", catalog.EventEntry{
		AllowedPhases: map[string]bool{"unlock-evaluation": true},
	})
}

func pingPongCatalog() *catalog.EventCatalog {
	cat := catalog.NewEventCatalog()
	registerUnlockedEntry(cat)
	cat.Register("PING", catalog.EventEntry{
		Consumers:     []string{"pinger"},
		AllowedPhases: map[string]bool{"layer-update": true, "event-dispatch": true},
	})
	cat.Register("PONG", catalog.EventEntry{
		Consumers:     []string{"pinger"},
		AllowedPhases: map[string]bool{"event-dispatch": true},
	})
	return cat
}

const pingPongDefJSON = `{
	"meta": {"schemaVersion": "1.0.0", "gameId": "ping-pong"},
	"state": {},
	"layers": [{"id": "pinger", "type": "pinger"}]
}`

func newPingerLayer() *fakeLayer {
	l := &fakeLayer{id: "pinger", typ: "pinger"}
	l.onUpdate = func(l *fakeLayer, dt float64) error {
		return l.ctx.Bus.Publish(eventbus.Event{Type: "PING"})
	}
	l.onEvent = func(l *fakeLayer, e eventbus.Event) {
		if e.Type == "PING" {
			_ = l.ctx.Bus.Publish(eventbus.Event{Type: "PONG"})
		}
	}
	return l
}

// TestScenario_S2_SameTickDispatchCascade models a two-hop cascade
// completing within a single tick's event-dispatch phase, across two FIFO
// cycles: PING delivered in cycle 1 triggers a PONG publish, delivered in
// cycle 2.
func TestScenario_S2_SameTickDispatchCascade(t *testing.T) {
	reg := layer.NewRegistry()
	pinger := newPingerLayer()
	reg.Register("pinger", factoryFor(map[string]*fakeLayer{"pinger": pinger}))

	e := New(WithLayerRegistry(reg), WithEventCatalog(pingPongCatalog()), WithTimeSource(NewFixedTimeSource(1)))
	if err := e.Initialize([]byte(pingPongDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	summary, err := e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dispatch.CyclesProcessed != 2 {
		t.Errorf("CyclesProcessed = %d, want 2", summary.Dispatch.CyclesProcessed)
	}
	if summary.Dispatch.DeliveredHandlers != 2 {
		t.Errorf("DeliveredHandlers = %d, want 2", summary.Dispatch.DeliveredHandlers)
	}
	if summary.Dispatch.DeferredDueToCycleLimit {
		t.Error("expected no deferral with the default cycle budget")
	}
}

// TestScenario_S3_CycleDeferral models the same cascade bounded to one
// dispatch cycle per tick: the cascade no longer completes within the tick
// it started, and the engine reports the deferral rather than silently
// dropping the second hop.
func TestScenario_S3_CycleDeferral(t *testing.T) {
	reg := layer.NewRegistry()
	pinger := newPingerLayer()
	reg.Register("pinger", factoryFor(map[string]*fakeLayer{"pinger": pinger}))

	e := New(
		WithLayerRegistry(reg),
		WithEventCatalog(pingPongCatalog()),
		WithTimeSource(NewFixedTimeSource(1)),
		WithMaxDispatchCyclesPerTick(1),
	)
	if err := e.Initialize([]byte(pingPongDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	summary, err := e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dispatch.CyclesProcessed != 1 {
		t.Errorf("CyclesProcessed = %d, want 1", summary.Dispatch.CyclesProcessed)
	}
	if !summary.Dispatch.DeferredDueToCycleLimit || summary.Dispatch.DeferredEvents == 0 {
		t.Errorf("expected a deferred event, got report %+v", summary.Dispatch)
	}
}

// TestScenario_S4_RecursivePublishGuard models a handler that republishes
// its own triggering event unconditionally: bounded by a small
// maxEventsPerTick, the engine must raise a fatal error rather than loop
// forever.
func TestScenario_S4_RecursivePublishGuard(t *testing.T) {
	cat := catalog.NewEventCatalog()
	registerUnlockedEntry(cat)
	cat.Register("LOOP", catalog.EventEntry{
		Consumers:     []string{"looper"},
		AllowedPhases: map[string]bool{"layer-update": true, "event-dispatch": true},
	})

	reg := layer.NewRegistry()
	looper := &fakeLayer{id: "looper", typ: "looper"}
	looper.onUpdate = func(l *fakeLayer, dt float64) error {
		return l.ctx.Bus.Publish(eventbus.Event{Type: "LOOP"})
	}
	looper.onEvent = func(l *fakeLayer, e eventbus.Event) {
		_ = l.ctx.Bus.Publish(eventbus.Event{Type: "LOOP"})
	}
	reg.Register("looper", factoryFor(map[string]*fakeLayer{"looper": looper}))

	defJSON := `{
		"meta": {"schemaVersion": "1.0.0", "gameId": "s4"},
		"state": {},
		"layers": [{"id": "looper", "type": "looper"}]
	}`

	e := New(
		WithLayerRegistry(reg),
		WithEventCatalog(cat),
		WithTimeSource(NewFixedTimeSource(1)),
		WithMaxEventsPerTick(3),
		WithMaxDispatchCyclesPerTick(100),
	)
	if err := e.Initialize([]byte(defJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	_, err := e.Tick()
	if err == nil {
		t.Fatal("expected a fatal error from the recursive publish loop")
	}
	var ferr *FatalError
	if !errors.As(err, &ferr) || ferr.Code != CodeEventBusFatal {
		t.Fatalf("err = %v, want a FatalError with code %q", err, CodeEventBusFatal)
	}
	if !strings.Contains(err.Error(), "maxEventsPerTick") {
		t.Errorf("error message %q does not mention maxEventsPerTick", err.Error())
	}
}

// TestScenario_S5_IntentRejectionThenSuccess models rejecting an intent
// against a locked target, then routing it successfully once the target
// unlocks and a handler is registered.
func TestScenario_S5_IntentRejectionThenSuccess(t *testing.T) {
	reg := layer.NewRegistry()
	progress := &fakeLayer{id: "idle", typ: "progressLayer"}
	reg.Register("progressLayer", factoryFor(map[string]*fakeLayer{"idle": progress}))

	e := New(WithLayerRegistry(reg), WithTimeSource(NewFixedTimeSource(1)))
	if err := e.Initialize([]byte(xpDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}

	const targetRef = "layer:idle/sublayer:main/section:jobs"

	if err := e.EnqueueIntent(intent.Intent{Type: "START_JOB", Payload: map[string]any{"targetRef": targetRef, "jobId": "x"}}); err != nil {
		t.Fatal(err)
	}
	summary, err := e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.IntentResults) != 1 || summary.IntentResults[0].Code != intent.CodeTargetLocked {
		t.Fatalf("IntentResults = %+v, want INTENT_TARGET_LOCKED", summary.IntentResults)
	}

	e.store.Set("layers.idle.resources.xp", 10.0)
	if _, err := e.Tick(); err != nil {
		t.Fatal(err)
	}

	if err := e.RegisterIntentHandler("START_JOB", func(in intent.Intent) any {
		return "started"
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.EnqueueIntent(intent.Intent{Type: "START_JOB", Payload: map[string]any{"targetRef": targetRef, "jobId": "x"}}); err != nil {
		t.Fatal(err)
	}
	summary, err = e.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.IntentResults) != 1 || summary.IntentResults[0].Code != intent.CodeRouted {
		t.Fatalf("IntentResults = %+v, want INTENT_ROUTED", summary.IntentResults)
	}
	if summary.IntentResults[0].RoutingTarget != "progressLayer" {
		t.Errorf("RoutingTarget = %q, want progressLayer", summary.IntentResults[0].RoutingTarget)
	}
}

func TestSnapshotRestore_RoundTrips(t *testing.T) {
	reg := layer.NewRegistry()
	progress := &fakeLayer{id: "idle", typ: "progressLayer"}
	reg.Register("progressLayer", factoryFor(map[string]*fakeLayer{"idle": progress}))

	e := New(WithLayerRegistry(reg), WithTimeSource(NewFixedTimeSource(1)))
	if err := e.Initialize([]byte(xpDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}
	e.store.Set("layers.idle.resources.xp", 10.0)
	if _, err := e.Tick(); err != nil {
		t.Fatal(err)
	}

	snap := e.Snapshot()
	if len(snap.UnlockedRefs) == 0 {
		t.Fatal("expected at least one unlocked ref in the snapshot")
	}

	reg2 := layer.NewRegistry()
	progress2 := &fakeLayer{id: "idle", typ: "progressLayer"}
	reg2.Register("progressLayer", factoryFor(map[string]*fakeLayer{"idle": progress2}))

	e2 := New(WithLayerRegistry(reg2), WithTimeSource(NewFixedTimeSource(1)))
	if err := e2.Initialize([]byte(xpDefJSON), definition.FormatJSON); err != nil {
		t.Fatal(err)
	}
	if err := e2.Restore(snap); err != nil {
		t.Fatal(err)
	}
	for _, ref := range snap.UnlockedRefs {
		if !e2.evalr.IsUnlocked(ref) {
			t.Errorf("restored engine does not report %q as unlocked", ref)
		}
	}
}

func minimalDefJSON(layerType string) string {
	return `{
		"meta": {"schemaVersion": "1.0.0", "gameId": "minimal"},
		"state": {},
		"layers": [{"id": "idle", "type": "` + layerType + `"}]
	}`
}
