package input

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/gaia-mud/gaia/pkg/boltstore"
	"github.com/gaia-mud/gaia/pkg/world"
)

// fakeView is a canned WorldView.
type fakeView struct {
	candidates []Candidate
}

func (v *fakeView) Visible(actorID string) []Candidate { return v.candidates }

func newTestPipeline(view WorldView) *Pipeline {
	p := NewPipeline(view)
	p.Admin.Register("who", "create", "delete", "shutdown", "eval")
	p.User.Register("WHO", "QUIT", "CONNECT", "COMMANDS")
	p.Game.RegisterVerbs("look", "get", "drop", "put")
	return p
}

func TestAdminRecognizer(t *testing.T) {
	p := newTestPipeline(&fakeView{})

	out := p.Admin.Recognize("/CREATE #thing Widget", "#a")
	if out.Rec == nil {
		t.Fatal("not recognized")
	}
	if out.Rec.Mode != ModeAdmin || out.Rec.Verb != "create" {
		t.Errorf("got %+v", out.Rec)
	}
	// Arguments keep their case.
	if out.Rec.Args[1] != "Widget" {
		t.Errorf("args = %v", out.Rec.Args)
	}

	if p.Admin.Recognize("create no slash", "#a").Recognized() {
		t.Error("recognized a line without the / prefix")
	}
	if p.Admin.Recognize("/unregistered", "#a").Recognized() {
		t.Error("recognized an unregistered command")
	}
}

func TestUserRecognizer(t *testing.T) {
	p := newTestPipeline(&fakeView{})

	out := p.User.Recognize("connect character Zara", "#a")
	if out.Rec == nil || out.Rec.Verb != "connect" {
		t.Fatalf("got %+v", out.Rec)
	}
	if out.Rec.Args[1] != "Zara" {
		t.Errorf("argument case not preserved: %v", out.Rec.Args)
	}
	if p.User.Recognize("look", "#a").Recognized() {
		t.Error("look is not a user keyword")
	}
}

func TestGameRecognizerVerbObject(t *testing.T) {
	view := &fakeView{candidates: []Candidate{
		{ID: "#sword", Name: "rusty sword"},
		{ID: "#actor", Name: "Zara"},
	}}
	p := newTestPipeline(view)

	out := p.Game.Recognize("look at the rusty sword", "#actor")
	if out.Rec == nil {
		t.Fatal("not recognized")
	}
	if out.Rec.Verb != "look" || out.Rec.Prep != "at" || out.Rec.Indirect != "#sword" {
		t.Errorf("got %+v", out.Rec)
	}

	out = p.Game.Recognize("get sword", "#actor")
	if out.Rec == nil || out.Rec.Direct != "#sword" {
		t.Errorf("partial name match: %+v", out.Rec)
	}

	if p.Game.Recognize("frobnicate sword", "#actor").Recognized() {
		t.Error("unregistered verb recognized")
	}
}

func TestGameRecognizerTieBreakers(t *testing.T) {
	view := &fakeView{candidates: []Candidate{
		{ID: "#apple-room", Name: "apple"},
		{ID: "#apple-bag", Name: "apple", InInventory: true},
		{ID: "#applet", Name: "applet gadget"},
	}}
	p := newTestPipeline(view)

	// Exact beats partial, inventory beats room.
	out := p.Game.Recognize("get apple", "#actor")
	if out.Rec == nil || out.Rec.Direct != "#apple-bag" {
		t.Errorf("got %+v", out.Rec)
	}
}

func TestGameRecognizerRecency(t *testing.T) {
	view := &fakeView{candidates: []Candidate{
		{ID: "#coin-1", Name: "gold coin"},
		{ID: "#coin-2", Name: "silver coin"},
	}}
	p := newTestPipeline(view)

	// Without any interaction the two coins are indistinguishable.
	out := p.Game.Recognize("get coin", "#actor")
	if len(out.Ambiguous) != 2 {
		t.Fatalf("got %+v, want a disambiguation request", out)
	}

	// The most recently touched coin wins the tie.
	p.Game.Touch("#actor", "#coin-2")
	out = p.Game.Recognize("get coin", "#actor")
	if out.Rec == nil || out.Rec.Direct != "#coin-2" {
		t.Fatalf("recency tie-break: %+v", out.Rec)
	}

	// A pronoun refers to the most recently touched object.
	out = p.Game.Recognize("drop it", "#actor")
	if out.Rec == nil || out.Rec.Direct != "#coin-2" {
		t.Errorf("pronoun resolution: %+v", out.Rec)
	}
}

func TestGameRecognizerDisambiguation(t *testing.T) {
	view := &fakeView{candidates: []Candidate{
		{ID: "#door-north", Name: "north door"},
		{ID: "#door-south", Name: "south door"},
	}}
	p := newTestPipeline(view)

	out := p.Game.Recognize("look door", "#actor")
	if len(out.Ambiguous) != 2 {
		t.Fatalf("got %+v, want a disambiguation request", out)
	}
	if out.Ambiguous[0] != "#door-north" || out.Ambiguous[1] != "#door-south" {
		t.Errorf("candidates %v not ordered by object ID", out.Ambiguous)
	}
}

// Stack ordering: an admin-embodied session tries Admin, then User, then
// Game; `/who` never reaches Game, and `look` falls through to it.
func TestPipelineStackOrdering(t *testing.T) {
	view := &fakeView{}
	p := newTestPipeline(view)

	out := p.Process("/who", "#actor", true, true)
	if out.Rec == nil || out.Rec.Mode != ModeAdmin {
		t.Fatalf("/who went to %+v", out.Rec)
	}

	out = p.Process("look", "#actor", true, true)
	if out.Rec == nil || out.Rec.Mode != ModeGame {
		t.Fatalf("look went to %+v", out.Rec)
	}

	// Unembodied sessions never consult Game.
	if p.Process("look", "#actor", true, false).Recognized() {
		t.Error("game verb recognized while unembodied")
	}
	// Non-admin sessions never consult Admin.
	if p.Process("/who", "#actor", false, true).Recognized() {
		t.Error("admin command recognized without the admin role")
	}
	// WHO works in every state.
	if p.Process("WHO", "#actor", false, false).Rec.Mode != ModeUser {
		t.Error("WHO should be recognized unauthenticated")
	}
}

func TestPipelineUnrecognized(t *testing.T) {
	p := newTestPipeline(&fakeView{})
	if p.Process("xyzzy plugh", "#actor", true, true).Recognized() {
		t.Error("nonsense line recognized")
	}
	if p.Process("   ", "#actor", true, true).Recognized() {
		t.Error("blank line recognized")
	}
}

func newBinderFixture(t *testing.T) (*world.Cache, *Binder) {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cache := world.NewCache(st, world.CacheOptions{})

	put := func(obj *world.Object) {
		if err := cache.Put(obj); err != nil {
			t.Fatalf("put %s: %v", obj.ID, err)
		}
	}
	put(&world.Object{ID: world.RootID})
	put(&world.Object{ID: world.CommandsID, ParentIDs: []string{world.RootID},
		Attributes: map[string]world.Value{"cmd_inventory": `[log "inventory"]`}})
	put(&world.Object{ID: "#room", ParentIDs: []string{world.RootID},
		Attributes: map[string]world.Value{"cmd_look": `[send actor [get_attr executor "description"]]`}})
	put(&world.Object{ID: "#player", ParentIDs: []string{world.RootID}, LocationID: "#room",
		Attributes: map[string]world.Value{"cmd_dance": `[log "dance"]`}})
	put(&world.Object{ID: "#box", ParentIDs: []string{world.RootID},
		Attributes: map[string]world.Value{"cmd_open": `[log "open"]`}})
	return cache, NewBinder(cache)
}

func TestBinderSearchOrder(t *testing.T) {
	_, b := newBinderFixture(t)

	// The direct object wins over everything else.
	bind, err := b.Bind(&Recognition{Mode: ModeGame, Verb: "open", Direct: "#box"}, "#player", "")
	if err != nil || bind.ExecutorID != "#box" || bind.Attr != "cmd_open" {
		t.Errorf("got %+v, %v", bind, err)
	}

	// No direct object: the actor's location is next.
	bind, err = b.Bind(&Recognition{Mode: ModeGame, Verb: "look"}, "#player", "")
	if err != nil || bind.ExecutorID != "#room" {
		t.Errorf("got %+v, %v", bind, err)
	}

	// Then the actor itself.
	bind, err = b.Bind(&Recognition{Mode: ModeGame, Verb: "dance"}, "#player", "")
	if err != nil || bind.ExecutorID != "#player" {
		t.Errorf("got %+v, %v", bind, err)
	}

	// Finally the global dispatch object.
	bind, err = b.Bind(&Recognition{Mode: ModeGame, Verb: "inventory"}, "#player", "")
	if err != nil || bind.ExecutorID != world.CommandsID {
		t.Errorf("got %+v, %v", bind, err)
	}

	// Nothing anywhere: ErrUnbound.
	if _, err = b.Bind(&Recognition{Mode: ModeGame, Verb: "fly"}, "#player", ""); !errors.Is(err, ErrUnbound) {
		t.Errorf("got %v, want ErrUnbound", err)
	}
}

func TestBinderTransientUser(t *testing.T) {
	cache, b := newBinderFixture(t)
	if err := cache.Put(&world.Object{ID: "#session-1", ParentIDs: []string{world.RootID}, Transient: true,
		Attributes: map[string]world.Value{"cmd_help": `[log "help"]`}}); err != nil {
		t.Fatal(err)
	}
	bind, err := b.Bind(&Recognition{Mode: ModeGame, Verb: "help"}, "#player", "#session-1")
	if err != nil || bind.ExecutorID != "#session-1" {
		t.Errorf("got %+v, %v", bind, err)
	}
}

func TestBinderSynonyms(t *testing.T) {
	_, b := newBinderFixture(t)
	b.RegisterSynonym("examine", "cmd_look")
	bind, err := b.Bind(&Recognition{Mode: ModeGame, Verb: "examine"}, "#player", "")
	if err != nil || bind.ExecutorID != "#room" || bind.Attr != "cmd_look" {
		t.Errorf("got %+v, %v", bind, err)
	}
}

func TestBinderInheritedHandler(t *testing.T) {
	cache, b := newBinderFixture(t)
	if err := cache.Put(&world.Object{ID: "#parlor", ParentIDs: []string{"#room"}}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(&world.Object{ID: "#guest", ParentIDs: []string{world.RootID}, LocationID: "#parlor"}); err != nil {
		t.Fatal(err)
	}
	// #parlor inherits cmd_look from #room; the executor is still #parlor.
	bind, err := b.Bind(&Recognition{Mode: ModeGame, Verb: "look"}, "#guest", "")
	if err != nil || bind.ExecutorID != "#parlor" {
		t.Errorf("got %+v, %v", bind, err)
	}
}
