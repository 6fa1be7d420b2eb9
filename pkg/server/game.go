package server

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gaia-mud/gaia/pkg/boltstore"
	"github.com/gaia-mud/gaia/pkg/events"
	"github.com/gaia-mud/gaia/pkg/glang"
	"github.com/gaia-mud/gaia/pkg/input"
	"github.com/gaia-mud/gaia/pkg/world"
)

const defaultHuh = "I don't understand that."

// Game wires the world cache, the interpreter, the input pipeline, and
// the session layer together. One Game serves all connections.
type Game struct {
	Conf     Config
	Cache    *world.Cache
	Store    *boltstore.Store
	Accounts *boltstore.Store
	Env      *glang.Env
	Bus      *events.Bus
	Pipeline *input.Pipeline
	Binder   *input.Binder
	Conns    *ConnManager
	Texts    *TextFiles
	Metrics  *Metrics
	Audit    *AuditLog

	start    time.Time
	shutdown chan string
}

// NewGame assembles the engine over open stores.
func NewGame(cfg Config, worldStore, acctStore *boltstore.Store) *Game {
	g := &Game{
		Conf:     cfg,
		Store:    worldStore,
		Accounts: acctStore,
		Bus:      events.NewBus(),
		Texts:    &TextFiles{},
		start:    time.Now(),
		shutdown: make(chan string, 1),
	}
	g.Cache = world.NewCache(worldStore, world.CacheOptions{
		WriteBackInterval: cfg.WriteBackInterval,
		DirtyThreshold:    cfg.DirtyThreshold,
	})
	g.Conns = NewConnManager(g.Bus)

	g.Env = glang.NewEnv(g.Cache)
	g.Env.DepthLimit = cfg.DepthLimit
	g.Env.Budget = cfg.EvalBudget
	g.Env.Logf = log.Printf
	g.Env.ReadFile = os.ReadFile
	g.Env.Deliver = func(targetID, text string) {
		g.Bus.EmitTo(targetID, events.Event{Type: events.EvMessage, Text: text})
	}

	g.Pipeline = input.NewPipeline(g)
	g.Binder = input.NewBinder(g.Cache)

	g.Pipeline.User.Register("WHO", "QUIT", "CONNECT", "COMMANDS")
	g.Pipeline.Game.RegisterVerbs(
		"look", "examine", "get", "take", "drop", "put", "give",
		"go", "open", "close", "say", "inventory",
	)
	g.Binder.RegisterSynonym("take", "cmd_get")
	g.Binder.RegisterSynonym("examine", "cmd_look")
	registerAdminCommands(g.Pipeline.Admin)
	return g
}

// Visible implements input.WorldView: the actor sees the contents of its
// location, its own inventory, and itself.
func (g *Game) Visible(actorID string) []input.Candidate {
	actor, err := g.Cache.Get(actorID)
	if err != nil {
		return nil
	}
	var out []input.Candidate
	add := func(id string, inInventory bool) {
		obj, err := g.Cache.Get(id)
		if err != nil {
			return
		}
		out = append(out, input.Candidate{ID: id, Name: obj.Name, InInventory: inInventory})
	}
	if actor.LocationID != "" {
		if room, err := g.Cache.Get(actor.LocationID); err == nil {
			add(room.ID, false)
			for _, id := range room.ContentIDs {
				if id != actorID {
					add(id, false)
				}
			}
		}
	}
	for _, id := range actor.ContentIDs {
		add(id, true)
	}
	add(actorID, false)
	return out
}

// ProcessLine routes one input line for a session.
func (g *Game) ProcessLine(d *Descriptor, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	d.mu.Lock()
	d.lastCmd = time.Now()
	d.mu.Unlock()
	if g.Metrics != nil {
		g.Metrics.CommandProcessed()
	}

	// The authentication line belongs to the state machine, not to any
	// recognizer.
	if d.State() == ConnLogin {
		g.handleLogin(d, line)
		return
	}

	out := g.Pipeline.Process(line, d.ActorID(), d.IsAdmin(), d.State() == ConnEmbodied)
	switch {
	case len(out.Ambiguous) > 0:
		d.Send("Which do you mean: " + strings.Join(out.Ambiguous, ", ") + "?")
	case out.Rec == nil:
		d.Send(defaultHuh)
	case out.Rec.Mode == input.ModeAdmin:
		g.dispatchAdmin(d, out.Rec)
	case out.Rec.Mode == input.ModeUser:
		g.dispatchUser(d, out.Rec)
	default:
		g.dispatchGame(d, out.Rec)
	}
}

// dispatchGame binds the recognition to a cmd_<verb> attribute and runs
// it. Handlers receive the resolved direct and indirect objects and the
// raw line as arguments.
func (g *Game) dispatchGame(d *Descriptor, rec *input.Recognition) {
	actorID := d.ActorID()
	bind, err := g.Binder.Bind(rec, actorID, d.UserObj())
	if errors.Is(err, input.ErrUnbound) {
		d.Send("Nothing here knows how to \"" + rec.Verb + "\".")
		return
	}
	if err != nil {
		log.Printf("server: bind %q for %s: %v", rec.Verb, actorID, err)
		d.Send(defaultHuh)
		return
	}

	args := []world.Value{refOrNil(rec.Direct), refOrNil(rec.Indirect), rec.Raw}
	executor := world.Ref(bind.ExecutorID)
	ctx := g.Env.NewContext(executor, world.Ref(actorID), executor, d.Roles())
	d.setInflight(ctx)
	defer d.setInflight(nil)

	res, err := g.Env.Invoke(ctx, executor, bind.Attr, args)
	if err != nil {
		g.reportFailure(d, actorID, err)
		return
	}
	// A non-null string result is sent to the actor as a fallback for
	// handlers that just return text.
	if s, ok := res.(string); ok && s != "" {
		g.Bus.EmitTo(actorID, events.Event{Type: events.EvMessage, Source: bind.ExecutorID, Text: s})
	}
}

// reportFailure delivers the single-line softcode diagnostic to the actor
// and keeps the server running.
func (g *Game) reportFailure(d *Descriptor, actorID string, err error) {
	if g.Metrics != nil {
		g.Metrics.SoftcodeFailure()
	}
	log.Printf("server: softcode failure for %s: %v", actorID, err)
	d.Receive(events.Event{Type: events.EvDiagnostic, Target: actorID, Text: err.Error()})
}

func refOrNil(id string) world.Value {
	if id == "" {
		return nil
	}
	return world.Ref(id)
}

// RequestShutdown asks the main loop to stop.
func (g *Game) RequestShutdown(reason string) {
	select {
	case g.shutdown <- reason:
	default:
	}
}

// ShutdownRequested yields the reason once an operator asks to stop.
func (g *Game) ShutdownRequested() <-chan string {
	return g.shutdown
}

// Uptime reports how long the game has been running.
func (g *Game) Uptime() time.Duration {
	return time.Since(g.start)
}

// ApplyConfigObject folds #config attributes into the engine bounds. Read
// at startup and after /reload of #config.
func (g *Game) ApplyConfigObject() {
	if v, ok, _ := g.Cache.GetAttribute(world.ConfigID, "depth_limit"); ok {
		if n := int(world.ToNumber(v)); n > 0 {
			g.Env.DepthLimit = n
		}
	}
	if v, ok, _ := g.Cache.GetAttribute(world.ConfigID, "eval_budget_ms"); ok {
		if n := world.ToNumber(v); n > 0 {
			g.Env.Budget = time.Duration(n) * time.Millisecond
		}
	}
}

// whoReport formats the WHO listing: every embodied character with
// connect and idle times.
func (g *Game) whoReport() string {
	type row struct {
		name, id  string
		conn, idl time.Duration
	}
	var rows []row
	g.Conns.Each(func(d *Descriptor) {
		char := d.Character()
		if char == "" {
			return
		}
		name := char
		if obj, err := g.Cache.Get(char); err == nil && obj.Name != "" {
			name = obj.Name
		}
		d.mu.Lock()
		last := d.lastCmd
		d.mu.Unlock()
		rows = append(rows, row{
			name: name, id: char,
			conn: time.Since(d.ConnTime).Round(time.Second),
			idl:  time.Since(last).Round(time.Second),
		})
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-20s %-16s %10s %8s\n", "Name", "Object", "On For", "Idle")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%-20s %-16s %10s %8s\n", r.name, r.id, r.conn, r.idl)
	}
	fmt.Fprintf(&sb, "%d character(s) connected.", len(rows))
	return sb.String()
}
