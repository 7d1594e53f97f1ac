package enginecore

import (
	"log"
	"os"

	"github.com/go-idle/enginecore/internal/catalog"
	"github.com/go-idle/enginecore/internal/definition"
	"github.com/go-idle/enginecore/internal/layer"
)

// Logger is the minimal surface the engine logs through. *log.Logger
// satisfies it without adapting; any type with a Printf method can be
// passed through WithLogger.
type Logger interface {
	Printf(format string, args ...any)
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxEventsPerTick bounds how many events DispatchQueued will process
// across all cycles in one tick before raising a recursive-publish fatal.
func WithMaxEventsPerTick(n int) Option {
	return func(e *Engine) { e.maxEventsPerTick = n }
}

// WithMaxDispatchCyclesPerTick bounds how many FIFO dispatch cycles
// event-dispatch runs before deferring remaining queued events to the next
// tick.
func WithMaxDispatchCyclesPerTick(n int) Option {
	return func(e *Engine) { e.maxDispatchCyclesPerTick = n }
}

// WithQueueSize hints the event bus's initial queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) { e.queueSizeHint = n }
}

// WithLogger configures the Engine's logger. The default logs to stderr
// with a "enginecore: " prefix.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimeSource configures the Engine's time phase delta-time source. The
// default is wall-clock.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.timeSource = ts }
}

// WithSaver configures the Saver used by Engine.Save/Engine.Load.
func WithSaver(s definition.Saver) Option {
	return func(e *Engine) { e.saver = s }
}

// WithRegistry configures the Registry used by Engine.RegisterVersion and
// friends. The default is an InMemoryRegistry.
func WithRegistry(r Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithEventCatalog overrides the seeded event catalog. Most hosts never
// need this; it exists for content packs that add their own event types
// beyond the three the engine seeds itself.
func WithEventCatalog(c *catalog.EventCatalog) Option {
	return func(e *Engine) { e.eventCatalog = c }
}

// WithIntentCatalog overrides the seeded intent catalog, for content packs
// that add intent types beyond the five the engine seeds itself.
func WithIntentCatalog(c *catalog.IntentCatalog) Option {
	return func(e *Engine) { e.intentCatalog = c }
}

// WithLayerRegistry configures the layer type -> factory registry.
// Initialize fails without one: the engine has no built-in layer types.
func WithLayerRegistry(r *layer.Registry) Option {
	return func(e *Engine) { e.layerRegistry = r }
}

func defaultLogger() Logger {
	return log.New(os.Stderr, "enginecore: ", log.LstdFlags)
}
