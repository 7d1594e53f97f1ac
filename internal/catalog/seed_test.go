package catalog

import "testing"

func TestNewSeededEventCatalog_RegistersAllThree(t *testing.T) {
	cat := NewSeededEventCatalog()
	for _, typ := range []string{"UNLOCKED", "LAYER_RESET_REQUESTED", "LAYER_RESET_EXECUTED"} {
		if _, ok := cat.Lookup(typ); !ok {
			t.Errorf("missing seeded event type %q", typ)
		}
	}
}

func TestNewSeededEventCatalog_UnlockedRequiresTargetRef(t *testing.T) {
	cat := NewSeededEventCatalog()
	entry, _ := cat.Lookup("UNLOCKED")
	if err := entry.Validate(map[string]any{}); err == nil {
		t.Error("expected validation error for missing targetRef")
	}
	if err := entry.Validate(map[string]any{"targetRef": "layer:idle"}); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestNewSeededIntentCatalog_RegistersAllFive(t *testing.T) {
	cat := NewSeededIntentCatalog()
	for _, typ := range []string{"START_JOB", "STOP_JOB", "REQUEST_LAYER_RESET", "PULL_GACHA", "ACTIVATE_MINIGAME"} {
		entry, ok := cat.Lookup(typ)
		if !ok {
			t.Errorf("missing seeded intent type %q", typ)
			continue
		}
		if entry.Lock != LockPolicyRejectIfLocked {
			t.Errorf("%s lock policy = %v, want reject-if-target-locked", typ, entry.Lock)
		}
	}
}
