// Command idlecoredemo runs a two-layer idle session against a hardcoded
// content pack: a progress layer that earns xp over time, whose jobs
// section and the shop layer unlock once enough xp has accumulated, and a
// gacha layer that converts xp into tickets and spends them on PULL_GACHA
// intents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-idle/enginecore"
	"github.com/go-idle/enginecore/internal/catalog"
	"github.com/go-idle/enginecore/internal/definition"
	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/intent"
	"github.com/go-idle/enginecore/internal/layer"
)

const contentPack = `{
	"meta": {"schemaVersion": "1.0.0", "gameId": "idlecoredemo"},
	"state": {
		"layers": {
			"idle": {"resources": {"xp": 0}},
			"shop": {"resources": {"tickets": 0, "pulls": 0}}
		}
	},
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
								{"id": "jobButton", "type": "button", "unlock": {"resourceGte": ["layers.idle.resources.xp", 10]}}
							]
						}
					]
				}
			]
		},
		{
			"id": "shop",
			"type": "gachaLayer",
			"unlock": {"resourceGte": ["layers.idle.resources.xp", 10]}
		}
	]
}`

const xpPerSecond = 4.0
const ticketCostPerPull = 15.0

// progressLayer earns xp at a fixed rate. It owns layers.idle.*.
type progressLayer struct {
	ctx *layer.Context
}

func newProgressLayer(def layer.Def, ctx *layer.Context) (layer.Layer, error) {
	return &progressLayer{ctx: ctx}, nil
}

func (p *progressLayer) ID() string   { return p.ctx.LayerID }
func (p *progressLayer) Type() string { return "progressLayer" }
func (p *progressLayer) Init(ctx *layer.Context) error {
	p.ctx = ctx
	return nil
}
func (p *progressLayer) Update(dt float64) error {
	earned := xpPerSecond * dt
	cur, _ := p.ctx.State.Get("layers.idle.resources.xp").(float64)
	if err := p.ctx.State.SetOwn("resources.xp", cur+earned); err != nil {
		return err
	}
	return p.ctx.Bus.Publish(eventbus.Event{
		Type:    "XP_EARNED",
		Payload: map[string]any{"amount": earned},
	})
}
func (p *progressLayer) OnEvent(e eventbus.Event) {}
func (p *progressLayer) Destroy() error           { return nil }
func (p *progressLayer) GetViewModel() any {
	xp, _ := p.ctx.State.Get("layers.idle.resources.xp").(float64)
	return map[string]any{"xp": xp}
}

// gachaLayer converts every XP_EARNED event into tickets at a 1:1 rate and
// spends them on PULL_GACHA. It owns layers.shop.*.
type gachaLayer struct {
	ctx *layer.Context
}

func (g *gachaLayer) ID() string   { return g.ctx.LayerID }
func (g *gachaLayer) Type() string { return "gachaLayer" }
func (g *gachaLayer) Init(ctx *layer.Context) error {
	g.ctx = ctx
	return nil
}
func (g *gachaLayer) Update(dt float64) error { return nil }
func (g *gachaLayer) OnEvent(e eventbus.Event) {
	if e.Type != "XP_EARNED" {
		return
	}
	amount, _ := e.Payload["amount"].(float64)
	cur, _ := g.ctx.State.Get("layers.shop.resources.tickets").(float64)
	_ = g.ctx.State.SetOwn("resources.tickets", cur+amount)
}
func (g *gachaLayer) Destroy() error { return nil }
func (g *gachaLayer) GetViewModel() any {
	tickets, _ := g.ctx.State.Get("layers.shop.resources.tickets").(float64)
	pulls, _ := g.ctx.State.Get("layers.shop.resources.pulls").(float64)
	return map[string]any{"tickets": tickets, "pulls": pulls}
}

// pull spends ticketCostPerPull tickets for one gacha pull, rejecting the
// request if the layer's own balance can't cover it.
func (g *gachaLayer) pull() any {
	tickets, _ := g.ctx.State.Get("layers.shop.resources.tickets").(float64)
	if tickets < ticketCostPerPull {
		return map[string]any{"ok": false, "reason": "insufficient tickets"}
	}
	pulls, _ := g.ctx.State.Get("layers.shop.resources.pulls").(float64)
	if err := g.ctx.State.PatchOwn("resources", map[string]any{
		"tickets": tickets - ticketCostPerPull,
		"pulls":   pulls + 1,
	}); err != nil {
		return map[string]any{"ok": false, "reason": err.Error()}
	}
	return map[string]any{"ok": true, "pulls": pulls + 1}
}

func main() {
	eventCat := catalog.NewSeededEventCatalog()
	if err := eventCat.Register("XP_EARNED", catalog.EventEntry{
		Producers:     []string{"progressLayer"},
		Consumers:     []string{"gachaLayer"},
		AllowedPhases: map[string]bool{"layer-update": true},
	}); err != nil {
		panic(err)
	}

	// shop is built up front and handed out by its own factory closure, so
	// the PULL_GACHA handler registered below can call its pull method
	// directly instead of routing through the event bus for a same-process
	// synchronous spend.
	shop := &gachaLayer{}

	reg := layer.NewRegistry()
	if err := reg.Register("progressLayer", newProgressLayer); err != nil {
		panic(err)
	}
	if err := reg.Register("gachaLayer", func(def layer.Def, ctx *layer.Context) (layer.Layer, error) {
		shop.ctx = ctx
		return shop, nil
	}); err != nil {
		panic(err)
	}

	saver, err := definition.NewJSONSaver("/tmp/idlecoredemo")
	if err != nil {
		panic(err)
	}

	e := enginecore.New(
		enginecore.WithLayerRegistry(reg),
		enginecore.WithEventCatalog(eventCat),
		enginecore.WithSaver(saver),
	)

	if err := e.Initialize([]byte(contentPack), definition.FormatJSON); err != nil {
		panic(err)
	}
	defer e.Destroy()

	if err := e.RegisterIntentHandler("PULL_GACHA", func(in intent.Intent) any {
		return shop.pull()
	}); err != nil {
		panic(err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	cycles := 0
	for {
		select {
		case <-ticker.C:
			cycles++
			if cycles%5 == 0 {
				if err := e.EnqueueIntent(intent.Intent{
					Type:    "PULL_GACHA",
					Payload: map[string]any{"targetRef": "layer:shop"},
				}); err != nil {
					fmt.Printf("enqueue error: %v\n", err)
				}
			}
			summary, err := e.Tick()
			if err != nil {
				fmt.Printf("tick %d fatal: %v\n", cycles, err)
				return
			}
			fmt.Printf("\n--- tick %d (dt=%.2f) ---\n", cycles, summary.Dt)
			for _, r := range summary.IntentResults {
				fmt.Printf("intent: code=%s target=%s\n", r.Code, r.RoutingTarget)
			}
			if len(summary.Unlocks.Transitions) > 0 {
				fmt.Printf("newly unlocked: %v\n", summary.Unlocks.Transitions)
			}
			ui, _ := json.Marshal(summary.UI)
			fmt.Printf("ui: %s\n", ui)

			if cycles%10 == 0 {
				if err := e.Save(context.Background(), "demo-session"); err != nil {
					fmt.Printf("save error: %v\n", err)
				} else {
					fmt.Println("session saved")
				}
			}
			if cycles >= 30 {
				fmt.Println("demo complete after 30 ticks")
				return
			}
		case <-sig:
			fmt.Println("\nshutting down gracefully...")
			return
		}
	}
}
