package server

import (
	"log"
	"time"

	"github.com/gaia-mud/gaia/pkg/world"
)

// Ticker periodically runs on_tick across registered objects. Only an
// object's own attribute map registers it; an inherited on_tick does not
// auto-schedule, keeping tick cost proportional to registered objects.
type Ticker struct {
	game     *Game
	interval time.Duration
	stop     chan struct{}
}

// NewTicker builds the scheduler; interval defaults to one second.
func NewTicker(g *Game, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{game: g, interval: interval, stop: make(chan struct{})}
}

// Start runs the tick loop until Stop. Call in its own goroutine.
func (t *Ticker) Start() {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			t.RunOnce()
		case <-t.stop:
			return
		}
	}
}

// Stop halts the loop.
func (t *Ticker) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// RunOnce sweeps the cache for objects carrying their own on_tick and
// invokes each under a fresh context with its own budget. Failures are
// logged and never abort the sweep.
func (t *Ticker) RunOnce() {
	g := t.game
	var targets []string
	g.Cache.Each(func(obj *world.Object) {
		if _, ok := obj.Attr("on_tick"); ok {
			targets = append(targets, obj.ID)
		}
	})
	for _, id := range targets {
		ref := world.Ref(id)
		ctx := g.Env.NewContext(ref, ref, ref, nil)
		if _, err := g.Env.Invoke(ctx, ref, "on_tick", nil); err != nil {
			log.Printf("server: on_tick %s: %v", id, err)
			if g.Metrics != nil {
				g.Metrics.SoftcodeFailure()
			}
		}
	}
	if n := g.Bus.Cleanup(); n > 0 {
		log.Printf("server: pruned %d closed subscriber(s)", n)
	}
	if g.Metrics != nil {
		g.Metrics.TickCompleted(len(targets))
	}
}
