// Package layer implements the layer registry and the per-layer host
// context: a factory lookup with a contract assertion, and a scoped view
// over the event bus and state store that keeps a layer instance from
// reaching outside its own namespace.
package layer

import (
	"fmt"
	"strings"

	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/modifier"
	"github.com/go-idle/enginecore/internal/reset"
	"github.com/go-idle/enginecore/internal/statestore"
)

// Layer is the contract every registered layer instance must satisfy.
// GetViewModel is part of the contract for this implementation (resolving
// the open question in favor of the stricter of the two source copies).
type Layer interface {
	ID() string
	Type() string
	Init(ctx *Context) error
	Update(dt float64) error
	OnEvent(e eventbus.Event)
	Destroy() error
	GetViewModel() any
}

// Def is the minimal definition data the registry and host context need
// about a layer instance: its id and type. Everything else a concrete
// layer needs (sublayers, softcaps, reset rules...) comes from the
// definition package and is handed to the factory directly.
type Def struct {
	ID   string
	Type string
}

// Factory constructs a Layer instance for def, wired to ctx.
type Factory func(def Def, ctx *Context) (Layer, error)

// Registry maps a layer type name to the factory that builds instances of
// that type.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds factory to layerType. Empty types, nil factories, and
// duplicate registrations are all rejected.
func (r *Registry) Register(layerType string, factory Factory) error {
	if layerType == "" {
		return fmt.Errorf("layer: type must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("layer: factory for type %q must not be nil", layerType)
	}
	if _, exists := r.factories[layerType]; exists {
		return fmt.Errorf("layer: type %q already registered", layerType)
	}
	r.factories[layerType] = factory
	return nil
}

// CreateLayer looks up def.Type's factory, invokes it, and asserts the
// returned instance satisfies the Layer contract for this def: id and
// type must match exactly what was requested. A missing factory or a
// contract mismatch is fatal during initialization.
func (r *Registry) CreateLayer(def Def, ctx *Context) (Layer, error) {
	factory, ok := r.factories[def.Type]
	if !ok {
		return nil, fmt.Errorf("layer: no factory registered for type %q (layer %q)", def.Type, def.ID)
	}
	instance, err := factory(def, ctx)
	if err != nil {
		return nil, fmt.Errorf("layer: factory for type %q failed: %w", def.Type, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("layer: factory for type %q returned a nil instance", def.Type)
	}
	if instance.ID() != def.ID {
		return nil, fmt.Errorf("layer: instance id %q does not match definition id %q", instance.ID(), def.ID)
	}
	if instance.Type() != def.Type {
		return nil, fmt.Errorf("layer: instance type %q does not match definition type %q", instance.Type(), def.Type)
	}
	return instance, nil
}

// EventBusFacade is the event bus surface exposed to a layer instance.
// Publishes default Source to the owning layer's id.
type EventBusFacade struct {
	bus     *eventbus.Bus
	layerID string
}

// Publish publishes e on the underlying bus, stamping Source with the
// owning layer's id if the caller left it blank.
func (f *EventBusFacade) Publish(e eventbus.Event) error {
	if e.Source == "" {
		e.Source = f.layerID
	}
	return f.bus.Publish(e)
}

// Subscribe registers handler for eventType, scoped to this layer.
func (f *EventBusFacade) Subscribe(eventType string, handler eventbus.Handler) eventbus.Token {
	return f.bus.Subscribe(eventType, handler, f.layerID)
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (f *EventBusFacade) Unsubscribe(token eventbus.Token) bool {
	return f.bus.Unsubscribe(token)
}

// StateFacade is the state store surface exposed to a layer instance: free
// reads anywhere, writes confined to the layer's own namespace.
type StateFacade struct {
	store   *statestore.Store
	layerID string
}

// Get reads any canonical or derived path, same as the store itself.
func (f *StateFacade) Get(path string) any {
	return f.store.Get(path)
}

// GetOwn returns the subtree at layers.<layerId>.
func (f *StateFacade) GetOwn() any {
	return f.store.Get(f.ownPath(""))
}

// SetOwn writes value at layers.<layerId>.<suffix>. A suffix beginning
// with "layers." is rejected (cross-layer write guard); it never mutates
// state.
func (f *StateFacade) SetOwn(suffix string, value any) error {
	if err := f.guardSuffix(suffix); err != nil {
		return err
	}
	return f.store.Set(f.ownPath(suffix), value)
}

// PatchOwn merges partial into the object at layers.<layerId>.<suffix>.
// Same cross-layer write guard as SetOwn.
func (f *StateFacade) PatchOwn(suffix string, partial map[string]any) error {
	if err := f.guardSuffix(suffix); err != nil {
		return err
	}
	return f.store.Patch(f.ownPath(suffix), partial)
}

func (f *StateFacade) guardSuffix(suffix string) error {
	if suffix == "layers" || strings.HasPrefix(suffix, "layers.") {
		return fmt.Errorf("layer: cross-layer write rejected: suffix %q begins with \"layers.\"", suffix)
	}
	return nil
}

func (f *StateFacade) ownPath(suffix string) string {
	base := "layers." + f.layerID
	if suffix == "" {
		return base
	}
	return base + "." + suffix
}

// Context is handed to every layer instance at construction and Init
// time. It is the layer's sole window onto the rest of the engine.
type Context struct {
	LayerID string
	Bus     *EventBusFacade
	State   *StateFacade
	Modifier *modifier.Resolver
	Reset    *reset.Service
}

// NewContext builds the scoped Context for layerID.
func NewContext(layerID string, bus *eventbus.Bus, store *statestore.Store, mod *modifier.Resolver, resetSvc *reset.Service) *Context {
	return &Context{
		LayerID:  layerID,
		Bus:      &EventBusFacade{bus: bus, layerID: layerID},
		State:    &StateFacade{store: store, layerID: layerID},
		Modifier: mod,
		Reset:    resetSvc,
	}
}
