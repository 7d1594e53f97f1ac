// Package intent implements the catalog-validated intent router: every
// intent is normalized, looked up against the intent catalog, optionally
// payload-validated, checked against its lock policy, and dispatched to a
// registered handler. Routing never mutates state directly.
package intent

import (
	"fmt"

	"github.com/go-idle/enginecore/internal/catalog"
)

// Intent is a typed request from the UI or an external driver.
type Intent struct {
	Type    string
	Payload map[string]any
	Source  string
}

// Result is the outcome of routing one intent. Intent routing failures are
// ordinary result values, never errors; the tick continues regardless.
type Result struct {
	OK            bool
	Code          string
	Reason        string
	RoutingTarget string
	Value         any
}

const (
	CodeRouted          = "INTENT_ROUTED"
	CodeCatalogMissing  = "INTENT_CATALOG_MISSING"
	CodePayloadInvalid  = "INTENT_PAYLOAD_INVALID"
	CodeTargetLocked    = "INTENT_TARGET_LOCKED"
	CodeHandlerMissing  = "INTENT_HANDLER_MISSING"
)

// Handler executes a routed intent's effect. Effects happen through state
// store writes or event publishes performed inside the handler, never by
// mutating the intent itself.
type Handler func(Intent) any

// IsLockedFunc reports whether a node reference is currently locked.
type IsLockedFunc func(targetRef string) bool

// Router routes intents according to the intent catalog.
type Router struct {
	catalog  *catalog.IntentCatalog
	strict   bool
	isLocked IsLockedFunc
	handlers map[string]Handler
}

// New creates a Router. isLocked is consulted only for intents whose
// catalog entry uses the reject-if-target-locked lock policy.
func New(cat *catalog.IntentCatalog, strict bool, isLocked IsLockedFunc) *Router {
	return &Router{
		catalog:  cat,
		strict:   strict,
		isLocked: isLocked,
		handlers: make(map[string]Handler),
	}
}

// Register binds handler to intentType. Registering the same type twice is
// a programming error.
func (r *Router) Register(intentType string, handler Handler) error {
	if intentType == "" {
		return fmt.Errorf("intent: type must not be empty")
	}
	if _, exists := r.handlers[intentType]; exists {
		return fmt.Errorf("intent: handler already registered for type %q", intentType)
	}
	r.handlers[intentType] = handler
	return nil
}

// Route normalizes and routes intent per §4.5.
func (r *Router) Route(in Intent) Result {
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	if in.Source == "" {
		in.Source = "ui"
	}

	entry, ok := r.catalog.Lookup(in.Type)
	if !ok {
		return Result{OK: false, Code: CodeCatalogMissing}
	}

	if r.strict && entry.Validate != nil {
		if err := entry.Validate(in.Payload); err != nil {
			return Result{OK: false, Code: CodePayloadInvalid, Reason: err.Error(), RoutingTarget: entry.RoutingTarget}
		}
	}

	if entry.Lock == catalog.LockPolicyRejectIfLocked {
		if target, ok := in.Payload["targetRef"].(string); ok && target != "" && r.isLocked != nil && r.isLocked(target) {
			return Result{OK: false, Code: CodeTargetLocked, RoutingTarget: entry.RoutingTarget}
		}
	}

	handler, ok := r.handlers[in.Type]
	if !ok {
		return Result{OK: false, Code: CodeHandlerMissing, RoutingTarget: entry.RoutingTarget}
	}

	value := handler(in)
	return Result{OK: true, Code: CodeRouted, RoutingTarget: entry.RoutingTarget, Value: value}
}
