package server

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gaia-mud/gaia/pkg/boltstore"
	"github.com/gaia-mud/gaia/pkg/events"
	"github.com/gaia-mud/gaia/pkg/world"
)

// newTestGame boots a game over throwaway stores with a small world:
//
//	#room  "den"  cmd_look returns the description
//	#hero  "Hero" in #room
//
// plus the bootstrap roots and a root/rootpass admin account.
func newTestGame(t *testing.T) *Game {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.WorldPath = filepath.Join(dir, "world.db")
	cfg.AccountsPath = filepath.Join(dir, "accounts.db")
	cfg.AdminLogin = "root"
	cfg.AdminPassword = "rootpass"
	cfg.Metrics = false

	worldStore, err := boltstore.Open(cfg.WorldPath)
	if err != nil {
		t.Fatalf("open world store: %v", err)
	}
	t.Cleanup(func() { worldStore.Close() })
	acctStore, err := boltstore.Open(cfg.AccountsPath)
	if err != nil {
		t.Fatalf("open accounts store: %v", err)
	}
	t.Cleanup(func() { acctStore.Close() })

	g := NewGame(cfg, worldStore, acctStore)
	g.Texts = &TextFiles{}
	if err := g.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for _, obj := range []*world.Object{
		{
			ID: "#room", Name: "den", Description: "A cozy den.",
			ParentIDs:  []string{world.RootID},
			ContentIDs: []string{"#hero"},
			Attributes: map[string]world.Value{
				"cmd_look": `[get_attr this "description"]`,
			},
		},
		{
			ID: "#hero", Name: "Hero",
			ParentIDs:  []string{world.RootID},
			LocationID: "#room",
		},
	} {
		if err := g.Cache.Put(obj); err != nil {
			t.Fatalf("seed %s: %v", obj.ID, err)
		}
	}
	return g
}

// newTestAccount stores a player account with the given characters.
func newTestAccount(t *testing.T, g *Game, login, password string, roles []world.Role, chars ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	acct := &world.Account{
		ID:           "acct-" + login,
		LoginID:      login,
		DisplayName:  login,
		PasswordHash: hash,
		CharacterIDs: chars,
		Roles:        append([]world.Role{world.RolePlayer}, roles...),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := g.Accounts.StoreAccount(acct, ""); err != nil {
		t.Fatalf("store account %s: %v", login, err)
	}
}

// newTestDescriptor builds a descriptor with no transport; output stays
// queued on the outbound channel and tests drain it synchronously.
func newTestDescriptor(g *Game) *Descriptor {
	d := NewDescriptor(g.Conns.NextID(), TransportTelnet, "test", 64,
		func(events.Event) error { return nil })
	g.Conns.Add(d)
	return d
}

// drain pops everything queued for the client, rendered as text lines.
func drain(d *Descriptor) []string {
	var out []string
	for {
		select {
		case ev := <-d.out:
			out = append(out, renderEvent(ev))
		default:
			return out
		}
	}
}

func anyContains(lines []string, want string) bool {
	for _, l := range lines {
		if strings.Contains(l, want) {
			return true
		}
	}
	return false
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	g := newTestGame(t)
	d := newTestDescriptor(g)

	g.ProcessLine(d, "connect nobody nope")
	if !anyContains(drain(d), "Invalid user or password.") {
		t.Fatal("bad login not rejected")
	}
	if d.State() != ConnLogin {
		t.Errorf("state = %v, want ConnLogin", d.State())
	}

	g.ProcessLine(d, "connect nobody nope")
	g.ProcessLine(d, "connect nobody nope")
	if !anyContains(drain(d), "Too many failed logins.") {
		t.Error("third strike did not warn")
	}
	if !d.Closed() {
		t.Error("descriptor still open after three failed logins")
	}
}

func TestLoginAndEmbody(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)

	g.ProcessLine(d, "connect alice pw")
	if d.State() != ConnAuthenticated {
		t.Fatalf("state = %v, want ConnAuthenticated", d.State())
	}
	userObj := d.UserObj()
	if userObj == "" {
		t.Fatal("no transient user object spawned")
	}
	if obj, err := g.Cache.Get(userObj); err != nil || !obj.Transient {
		t.Fatalf("user object %s: err=%v", userObj, err)
	}
	if !anyContains(drain(d), "Welcome, alice") {
		t.Error("no welcome line")
	}

	// Characters are addressed by name, case-insensitively.
	g.ProcessLine(d, "connect character hero")
	if d.State() != ConnEmbodied || d.Character() != "#hero" {
		t.Fatalf("state=%v character=%q after embody", d.State(), d.Character())
	}
	if !anyContains(drain(d), "You are now Hero.") {
		t.Error("no embodiment confirmation")
	}

	// The transient user object is gone once embodied.
	if _, err := g.Cache.Get(userObj); !errors.Is(err, world.ErrNotFound) {
		t.Errorf("user object survives embodiment: %v", err)
	}
	if d.ActorID() != "#hero" {
		t.Errorf("ActorID = %q, want #hero", d.ActorID())
	}
}

func TestEmbodimentDisplacesPriorSession(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")

	d1 := newTestDescriptor(g)
	g.ProcessLine(d1, "connect alice pw")
	g.ProcessLine(d1, "connect character hero")
	drain(d1)

	d2 := newTestDescriptor(g)
	g.ProcessLine(d2, "connect alice pw")
	g.ProcessLine(d2, "connect character hero")

	if !anyContains(drain(d1), "taken over by another session") {
		t.Error("displaced session not notified")
	}
	if !d1.Closed() {
		t.Error("displaced session still open")
	}
	if d2.Character() != "#hero" || g.Conns.ByCharacter("#hero") != d2 {
		t.Error("new session does not own the character")
	}
}

func TestGameCommandDispatch(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")
	g.ProcessLine(d, "connect character hero")
	drain(d)

	// cmd_look lives on the room; the handler's string result comes back
	// to the actor.
	g.ProcessLine(d, "look")
	if !anyContains(drain(d), "A cozy den.") {
		t.Error("look did not return the room description")
	}

	// A verb nothing handles names itself in the reply.
	g.ProcessLine(d, "say hello")
	if !anyContains(drain(d), `Nothing here knows how to "say".`) {
		t.Error("unbound verb not reported")
	}

	// An unregistered word falls off the stack entirely.
	g.ProcessLine(d, "flibber")
	if !anyContains(drain(d), defaultHuh) {
		t.Error("unrecognized line not refused")
	}
}

func TestGameCommandsNeedEmbodiment(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")
	drain(d)

	// Authenticated but not embodied: Game mode is not on the stack.
	g.ProcessLine(d, "look")
	if !anyContains(drain(d), defaultHuh) {
		t.Error("game verb accepted without a character")
	}
}

func TestSoftcodeFailureReachesActor(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	if err := g.Cache.SetAttribute("#room", "cmd_open", `[/ 1 0]`); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")
	g.ProcessLine(d, "connect character hero")
	drain(d)

	g.ProcessLine(d, "open")
	lines := drain(d)
	if !anyContains(lines, "!! ") {
		t.Errorf("no diagnostic line in %q", lines)
	}
	if !anyContains(lines, "division by zero") {
		t.Errorf("diagnostic does not name the failure: %q", lines)
	}
}

func TestAdminCommands(t *testing.T) {
	g := newTestGame(t)
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect root rootpass")
	drain(d)

	g.ProcessLine(d, "/create #shrine Shrine of Testing")
	if !anyContains(drain(d), "Created #shrine.") {
		t.Fatal("create failed")
	}
	obj, err := g.Cache.Get("#shrine")
	if err != nil || obj.Name != "Shrine of Testing" {
		t.Fatalf("created object: %+v err=%v", obj, err)
	}

	g.ProcessLine(d, "/create #shrine")
	if !anyContains(drain(d), "That ID is taken.") {
		t.Error("duplicate create not refused")
	}

	g.ProcessLine(d, "/delete #object")
	if !anyContains(drain(d), "load-bearing") {
		t.Error("root object delete not refused")
	}

	g.ProcessLine(d, "/delete #shrine")
	drain(d)
	if _, err := g.Cache.Get("#shrine"); !errors.Is(err, world.ErrNotFound) {
		t.Errorf("object survives delete: %v", err)
	}

	g.ProcessLine(d, "/eval [+ 1 2]")
	if !anyContains(drain(d), "=> 3") {
		t.Error("eval result missing")
	}

	// Command tokens match case-insensitively; the program keeps its case.
	g.ProcessLine(d, "/EVAL [concat \"A\" \"b\"]")
	if !anyContains(drain(d), "=> Ab") {
		t.Error("upper-case eval token mishandled")
	}

	g.ProcessLine(d, "/stats")
	if !anyContains(drain(d), "Objects (cache):") {
		t.Error("stats report missing")
	}
}

func TestAdminCommandsRequireAdminRole(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")
	drain(d)

	// Non-admin stacks never include the Admin recognizer.
	g.ProcessLine(d, "/create #bad")
	if !anyContains(drain(d), defaultHuh) {
		t.Error("slash command recognized for non-admin")
	}
	if _, err := g.Cache.Get("#bad"); !errors.Is(err, world.ErrNotFound) {
		t.Error("non-admin created an object")
	}
}

func TestAdminRolesAndPassword(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect root rootpass")
	drain(d)

	g.ProcessLine(d, "/roles alice +builder")
	if !anyContains(drain(d), "Roles updated for alice.") {
		t.Fatal("role grant failed")
	}
	acct, _, err := g.Accounts.FetchAccountByLogin("alice")
	if err != nil || !acct.HasRole(world.RoleBuilder) {
		t.Errorf("builder role not granted: %+v err=%v", acct, err)
	}

	g.ProcessLine(d, "/password alice newpw")
	drain(d)
	acct, _, _ = g.Accounts.FetchAccountByLogin("alice")
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte("newpw")) != nil {
		t.Error("password change did not take")
	}
}

func TestWhoReport(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")

	// WHO works pre-embodiment and even pre-auth.
	g.ProcessLine(d, "who")
	if !anyContains(drain(d), "0 character(s) connected.") {
		t.Error("empty WHO wrong")
	}

	g.ProcessLine(d, "connect character hero")
	drain(d)
	g.ProcessLine(d, "who")
	lines := drain(d)
	if !anyContains(lines, "Hero") || !anyContains(lines, "1 character(s) connected.") {
		t.Errorf("WHO after embodiment: %q", lines)
	}
}

func TestApplyConfigObject(t *testing.T) {
	g := newTestGame(t)
	if err := g.Cache.SetAttribute(world.ConfigID, "depth_limit", float64(5)); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := g.Cache.SetAttribute(world.ConfigID, "eval_budget_ms", float64(250)); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	g.ApplyConfigObject()
	if g.Env.DepthLimit != 5 {
		t.Errorf("DepthLimit = %d, want 5", g.Env.DepthLimit)
	}
	if g.Env.Budget != 250*time.Millisecond {
		t.Errorf("Budget = %v, want 250ms", g.Env.Budget)
	}
}

func TestTickerRunsOwnOnTickOnly(t *testing.T) {
	g := newTestGame(t)
	for _, obj := range []*world.Object{
		{
			ID: "#clock", ParentIDs: []string{world.RootID},
			Attributes: map[string]world.Value{
				"ticks":   float64(0),
				"on_tick": `[set_attr this "ticks" [+ [get_attr this "ticks"] 1]]`,
			},
		},
		// Inherits on_tick but must not be scheduled.
		{ID: "#clock-child", ParentIDs: []string{"#clock"},
			Attributes: map[string]world.Value{"ticks": float64(0)}},
	} {
		if err := g.Cache.Put(obj); err != nil {
			t.Fatalf("seed %s: %v", obj.ID, err)
		}
	}

	ticker := NewTicker(g, time.Hour)
	ticker.RunOnce()
	ticker.RunOnce()

	v, _, err := g.Cache.GetAttribute("#clock", "ticks")
	if err != nil || v != float64(2) {
		t.Errorf("ticks = %v err=%v, want 2", v, err)
	}
	v, _, _ = g.Cache.GetAttribute("#clock-child", "ticks")
	if v != float64(0) {
		t.Errorf("inherited on_tick ran: child ticks = %v", v)
	}
}

func TestEmbodimentAnnouncedToRoom(t *testing.T) {
	g := newTestGame(t)
	if err := g.Cache.Put(&world.Object{
		ID: "#pal", Name: "Pal",
		ParentIDs: []string{world.RootID}, LocationID: "#room",
	}); err != nil {
		t.Fatalf("seed #pal: %v", err)
	}
	if err := g.Cache.Update("#room", func(o *world.Object) error {
		o.AddContent("#pal")
		return nil
	}); err != nil {
		t.Fatalf("add #pal to room: %v", err)
	}
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	newTestAccount(t, g, "bob", "pw", nil, "#pal")

	d1 := newTestDescriptor(g)
	g.ProcessLine(d1, "connect bob pw")
	g.ProcessLine(d1, "connect character pal")
	drain(d1)

	d2 := newTestDescriptor(g)
	g.ProcessLine(d2, "connect alice pw")
	g.ProcessLine(d2, "connect character hero")

	if !anyContains(drain(d1), "Hero has connected.") {
		t.Error("room occupants not told about the arrival")
	}
	if anyContains(drain(d2), "Hero has connected.") {
		t.Error("arriving session heard its own announcement")
	}

	g.disconnect(d2)
	if !anyContains(drain(d1), "Hero has disconnected.") {
		t.Error("room occupants not told about the departure")
	}
}

func TestTickerSeesPersistedObjectsAfterRestart(t *testing.T) {
	g := newTestGame(t)
	if err := g.Cache.Put(&world.Object{
		ID: "#clock", ParentIDs: []string{world.RootID},
		Attributes: map[string]world.Value{
			"on_tick": `[set_attr this "ticked" 1]`,
		},
	}); err != nil {
		t.Fatalf("seed #clock: %v", err)
	}
	if err := g.Cache.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// A fresh engine over the same stores starts with a cold cache; the
	// warm pass must bring persisted tick objects back into the sweep.
	g2 := NewGame(g.Conf, g.Store, g.Accounts)
	if _, err := g2.WarmCache(); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}
	NewTicker(g2, time.Hour).RunOnce()

	v, ok, err := g2.Cache.GetAttribute("#clock", "ticked")
	if err != nil || !ok {
		t.Fatalf("ticked after restart: ok=%v err=%v", ok, err)
	}
	if v != float64(1) {
		t.Errorf("ticked = %v, want 1", v)
	}
}

func TestDisconnectCleansUpSessionState(t *testing.T) {
	g := newTestGame(t)
	newTestAccount(t, g, "alice", "pw", nil, "#hero")
	d := newTestDescriptor(g)
	g.ProcessLine(d, "connect alice pw")
	userObj := d.UserObj()
	drain(d)

	g.disconnect(d)
	if _, err := g.Cache.Get(userObj); !errors.Is(err, world.ErrNotFound) {
		t.Error("transient user object survives disconnect")
	}
	if g.Conns.Count() != 0 {
		t.Errorf("Count = %d after disconnect", g.Conns.Count())
	}
}
