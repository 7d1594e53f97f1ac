package reset

import (
	"reflect"
	"testing"

	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/statestore"
)

func TestPreview_SanitizesKeepPaths(t *testing.T) {
	svc := New(statestore.New(nil), eventbus.New(eventbus.Config{}), nil, map[string][]string{
		"idle": {" resources.gold ", "", "resources.gold", "  "},
	})
	p := svc.Preview("idle")
	want := []string{"resources.gold", "resources.gold"}
	if !reflect.DeepEqual(p.KeepPaths, want) {
		t.Errorf("KeepPaths = %v, want %v", p.KeepPaths, want)
	}
	if !p.HasKeepRules {
		t.Error("HasKeepRules = false, want true")
	}
}

func TestPreview_UnknownLayerHasNoKeepRules(t *testing.T) {
	svc := New(statestore.New(nil), eventbus.New(eventbus.Config{}), nil, nil)
	p := svc.Preview("nope")
	if p.HasKeepRules || len(p.KeepPaths) != 0 {
		t.Errorf("Preview() = %+v, want empty", p)
	}
}

// TestExecute_ScenarioS6 models spec Scenario S6: keep gold, drop xp.
func TestExecute_ScenarioS6(t *testing.T) {
	initial := map[string]any{"resources": map[string]any{"xp": 0.0, "gold": 0.0}}
	store := statestore.New(initial)
	bus := eventbus.New(eventbus.Config{})
	var captured eventbus.Event
	bus.Subscribe("LAYER_RESET_EXECUTED", func(e eventbus.Event) { captured = e }, "")

	svc := New(store, bus, initial, map[string][]string{"idle": {"resources.gold"}})

	if err := store.Set("resources.xp", 150.0); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("resources.gold", 200.0); err != nil {
		t.Fatal(err)
	}

	if err := svc.Execute("idle", ""); err != nil {
		t.Fatal(err)
	}

	if got := store.Get("resources.xp"); got != 0.0 {
		t.Errorf("resources.xp = %v, want 0", got)
	}
	if got := store.Get("resources.gold"); got != 200.0 {
		t.Errorf("resources.gold = %v, want 200", got)
	}

	if _, err := bus.DispatchQueued(); err != nil {
		t.Fatal(err)
	}
	if captured.Type != "LAYER_RESET_EXECUTED" {
		t.Fatalf("expected LAYER_RESET_EXECUTED delivered, got %+v", captured)
	}
	if captured.Payload["layerId"] != "idle" {
		t.Errorf("layerId = %v, want idle", captured.Payload["layerId"])
	}
	preserved, _ := captured.Payload["preservedKeys"].([]string)
	if !reflect.DeepEqual(preserved, []string{"resources.gold"}) {
		t.Errorf("preservedKeys = %v, want [resources.gold]", preserved)
	}
	if captured.Payload["reason"] != "reset-executed" {
		t.Errorf("reason = %v, want default reset-executed", captured.Payload["reason"])
	}
}

func TestExecute_KeepPathAbsentFromCurrentStateIsSkipped(t *testing.T) {
	initial := map[string]any{"resources": map[string]any{"gold": 0.0}}
	store := statestore.New(initial)
	bus := eventbus.New(eventbus.Config{})
	svc := New(store, bus, initial, map[string][]string{"idle": {"resources.neverSet"}})

	if err := svc.Execute("idle", "custom reason"); err != nil {
		t.Fatal(err)
	}
	var captured eventbus.Event
	bus.Subscribe("LAYER_RESET_EXECUTED", func(e eventbus.Event) { captured = e }, "")
	if err := svc.Execute("idle", "custom reason"); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.DispatchQueued(); err != nil {
		t.Fatal(err)
	}
	preserved, _ := captured.Payload["preservedKeys"].([]string)
	if len(preserved) != 0 {
		t.Errorf("preservedKeys = %v, want empty", preserved)
	}
	if captured.Payload["reason"] != "custom reason" {
		t.Errorf("reason = %v, want custom reason", captured.Payload["reason"])
	}
}

func TestExecute_NoKeepRulesRestoresInitialState(t *testing.T) {
	initial := map[string]any{"resources": map[string]any{"xp": 0.0}}
	store := statestore.New(initial)
	svc := New(store, eventbus.New(eventbus.Config{}), initial, nil)

	if err := store.Set("resources.xp", 42.0); err != nil {
		t.Fatal(err)
	}
	if err := svc.Execute("idle", ""); err != nil {
		t.Fatal(err)
	}
	if got := store.Get("resources.xp"); got != 0.0 {
		t.Errorf("resources.xp = %v, want 0 after reset with no keep rules", got)
	}
}
