// Package eventbus implements the validated, queue-only event bus: publish
// never runs a handler synchronously, and dispatchQueued drains the queue
// in FIFO cycles against a per-cycle subscriber snapshot.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/go-idle/enginecore/internal/catalog"
)

// Event is a normalized message travelling through the bus.
type Event struct {
	Type    string
	Payload map[string]any
	Ts      float64
	Source  string
	Phase   string // "" means unspecified; publish defaults it to the bus's allowed phase.
	Meta    map[string]any
}

// Handler receives delivered events. Handlers never run during Publish;
// they only run from within DispatchQueued.
type Handler func(Event)

// Token identifies a subscription, opaque and unique per Bus instance.
type Token uint64

// FatalError reports a programmer-error condition that must halt the tick.
type FatalError struct {
	Code    string
	Message string
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// DispatchReport summarizes one DispatchQueued call.
type DispatchReport struct {
	CyclesProcessed         int
	EventsProcessed         int
	DeliveredHandlers       int
	DeferredEvents          int
	DeferredDueToCycleLimit bool
}

type subscription struct {
	token   Token
	handler Handler
	scope   string
}

// Bus is one validated event bus instance.
type Bus struct {
	mu sync.Mutex

	queue       []Event
	subscribers map[string][]subscription
	nextToken   uint64

	allowedPhase string
	strict       bool
	catalog      *catalog.EventCatalog

	maxEventsPerTick         int
	maxDispatchCyclesPerTick int

	clockTicks float64

	lastReport DispatchReport
}

// Config configures a new Bus.
type Config struct {
	// Strict enables catalog validation on Publish. Disabled, Publish only
	// normalizes and enqueues.
	Strict                   bool
	Catalog                  *catalog.EventCatalog
	MaxEventsPerTick         int
	MaxDispatchCyclesPerTick int
	// QueueSizeHint preallocates the internal queue's backing array. Purely
	// an allocation hint; the queue still grows unbounded up to
	// MaxEventsPerTick within a dispatch cycle.
	QueueSizeHint int
}

// New creates a Bus. Zero-value MaxEventsPerTick/MaxDispatchCyclesPerTick
// default to 1000 and 8 respectively.
func New(cfg Config) *Bus {
	if cfg.MaxEventsPerTick <= 0 {
		cfg.MaxEventsPerTick = 1000
	}
	if cfg.MaxDispatchCyclesPerTick <= 0 {
		cfg.MaxDispatchCyclesPerTick = 8
	}
	b := &Bus{
		subscribers:              make(map[string][]subscription),
		strict:                   cfg.Strict,
		catalog:                  cfg.Catalog,
		maxEventsPerTick:         cfg.MaxEventsPerTick,
		maxDispatchCyclesPerTick: cfg.MaxDispatchCyclesPerTick,
	}
	if cfg.QueueSizeHint > 0 {
		b.queue = make([]Event, 0, cfg.QueueSizeHint)
	}
	return b
}

// SetAllowedPhase is called by the engine on phase entry to constrain
// strict publishes to the phases their catalog entry permits.
func (b *Bus) SetAllowedPhase(phase string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowedPhase = phase
}

func (b *Bus) nextTs() float64 {
	b.clockTicks++
	return b.clockTicks
}

// Publish normalizes and, if strict, validates event against the event
// catalog before appending it to the queue. No handler runs synchronously.
func (b *Bus) Publish(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.Meta == nil {
		event.Meta = map[string]any{}
	}
	if event.Source == "" {
		event.Source = "engine"
	}
	if event.Ts == 0 {
		event.Ts = b.nextTs()
	}
	effectivePhase := event.Phase
	if effectivePhase == "" {
		effectivePhase = b.allowedPhase
	}

	if b.strict {
		entry, ok := b.catalog.Lookup(event.Type)
		if !ok {
			return &FatalError{Code: "EVENT_CATALOG_MISSING", Message: fmt.Sprintf("unknown event type %q", event.Type)}
		}
		if entry.Validate != nil {
			if err := entry.Validate(event.Payload); err != nil {
				return &FatalError{Code: "EVENT_PAYLOAD_INVALID", Message: fmt.Sprintf("event %q: %v", event.Type, err)}
			}
		}
		if len(entry.AllowedPhases) > 0 && !entry.AllowedPhases[effectivePhase] {
			return &FatalError{Code: "EVENT_PHASE_NOT_ALLOWED", Message: fmt.Sprintf("event %q not allowed in phase %q", event.Type, effectivePhase)}
		}
	}

	event.Phase = effectivePhase
	b.queue = append(b.queue, event)
	return nil
}

// Subscribe registers handler for eventType and returns an opaque token.
func (b *Bus) Subscribe(eventType string, handler Handler, scope string) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	tok := Token(b.nextToken)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{token: tok, handler: handler, scope: scope})
	return tok
}

// Unsubscribe removes at most one subscription identified by token,
// reporting whether it existed.
func (b *Bus) Unsubscribe(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subscribers {
		for i, s := range subs {
			if s.token == token {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// DispatchQueued drains the queue in FIFO cycles, bounded by
// maxDispatchCyclesPerTick, against a per-cycle snapshot of subscribers.
// Events published by handlers land in the queue for the next cycle (or
// the next call, once the cycle budget is exhausted).
//
// The lock is held only to detach each cycle's queue/subscriber snapshot
// and to record the final report; handlers run with it released. A
// handler that calls Publish on this same bus — exactly what a
// LAYER_RESET_REQUESTED subscriber does — must not deadlock against a
// lock DispatchQueued is still holding.
func (b *Bus) DispatchQueued() (int, error) {
	report := DispatchReport{}

	for {
		b.mu.Lock()
		if len(b.queue) == 0 || report.CyclesProcessed >= b.maxDispatchCyclesPerTick {
			b.mu.Unlock()
			break
		}
		report.CyclesProcessed++

		dispatchQueue := b.queue
		b.queue = nil

		snapshot := make(map[string][]subscription, len(b.subscribers))
		for eventType, subs := range b.subscribers {
			snapshot[eventType] = append([]subscription(nil), subs...)
		}
		b.mu.Unlock()

		for _, event := range dispatchQueue {
			report.EventsProcessed++
			if report.EventsProcessed > b.maxEventsPerTick {
				b.mu.Lock()
				report.DeferredEvents = len(b.queue)
				report.DeferredDueToCycleLimit = report.DeferredEvents > 0
				b.lastReport = report
				b.mu.Unlock()
				return report.DeliveredHandlers, &FatalError{
					Code:    "MAX_EVENTS_PER_TICK_EXCEEDED",
					Message: fmt.Sprintf("maxEventsPerTick (%d) exceeded; likely a recursive publish loop", b.maxEventsPerTick),
				}
			}
			for _, sub := range snapshot[event.Type] {
				sub.handler(event)
				report.DeliveredHandlers++
			}
		}
	}

	b.mu.Lock()
	report.DeferredEvents = len(b.queue)
	report.DeferredDueToCycleLimit = report.DeferredEvents > 0
	b.lastReport = report
	b.mu.Unlock()
	return report.DeliveredHandlers, nil
}

// GetLastDispatchReport returns a copy of the most recent dispatch report.
func (b *Bus) GetLastDispatchReport() DispatchReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReport
}
