package catalog

import "fmt"

func requireNonEmptyString(payload map[string]any, field string) error {
	v, ok := payload[field].(string)
	if !ok || v == "" {
		return fmt.Errorf("%q is required and must be a non-empty string", field)
	}
	return nil
}

// NewSeededEventCatalog returns the event catalog for the three seeded
// event types every engine instance registers: UNLOCKED,
// LAYER_RESET_REQUESTED, and LAYER_RESET_EXECUTED.
func NewSeededEventCatalog() *EventCatalog {
	cat := NewEventCatalog()

	mustRegisterEvent(cat, "UNLOCKED", EventEntry{
		Producers:     []string{"UnlockEvaluator"},
		AllowedPhases: map[string]bool{"unlock-evaluation": true},
		Validate: func(payload map[string]any) error {
			return requireNonEmptyString(payload, "targetRef")
		},
	})

	mustRegisterEvent(cat, "LAYER_RESET_REQUESTED", EventEntry{
		Consumers:     []string{"LayerResetService"},
		AllowedPhases: map[string]bool{"input": true, "event-dispatch": true},
		Validate: func(payload map[string]any) error {
			return requireNonEmptyString(payload, "layerId")
		},
	})

	mustRegisterEvent(cat, "LAYER_RESET_EXECUTED", EventEntry{
		Producers:     []string{"LayerResetService"},
		AllowedPhases: map[string]bool{"event-dispatch": true},
		Validate: func(payload map[string]any) error {
			return requireNonEmptyString(payload, "layerId")
		},
	})

	return cat
}

// NewSeededIntentCatalog returns the intent catalog for the five seeded
// intent types: START_JOB, STOP_JOB, REQUEST_LAYER_RESET, PULL_GACHA, and
// ACTIVATE_MINIGAME. Every entry uses reject-if-target-locked.
func NewSeededIntentCatalog() *IntentCatalog {
	cat := NewIntentCatalog()

	requireTargetRef := func(payload map[string]any) error {
		return requireNonEmptyString(payload, "targetRef")
	}

	mustRegisterIntent(cat, "START_JOB", IntentEntry{RoutingTarget: "progressLayer", Lock: LockPolicyRejectIfLocked, Validate: requireTargetRef})
	mustRegisterIntent(cat, "STOP_JOB", IntentEntry{RoutingTarget: "progressLayer", Lock: LockPolicyRejectIfLocked, Validate: requireTargetRef})
	mustRegisterIntent(cat, "REQUEST_LAYER_RESET", IntentEntry{
		RoutingTarget: "LayerResetService",
		Lock:          LockPolicyRejectIfLocked,
		Validate: func(payload map[string]any) error {
			return requireNonEmptyString(payload, "layerId")
		},
	})
	mustRegisterIntent(cat, "PULL_GACHA", IntentEntry{RoutingTarget: "gachaLayer", Lock: LockPolicyRejectIfLocked, Validate: requireTargetRef})
	mustRegisterIntent(cat, "ACTIVATE_MINIGAME", IntentEntry{RoutingTarget: "minigameLayer", Lock: LockPolicyRejectIfLocked, Validate: requireTargetRef})

	return cat
}

// mustRegisterEvent/mustRegisterIntent panic on registration failure: the
// seeded catalogs are a fixed, compile-time-known table, so a failure here
// is a programming error in this file, not a runtime condition.
func mustRegisterEvent(cat *EventCatalog, eventType string, entry EventEntry) {
	if err := cat.Register(eventType, entry); err != nil {
		panic(err)
	}
}

func mustRegisterIntent(cat *IntentCatalog, intentType string, entry IntentEntry) {
	if err := cat.Register(intentType, entry); err != nil {
		panic(err)
	}
}
