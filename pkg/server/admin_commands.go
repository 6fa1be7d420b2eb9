package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gaia-mud/gaia/pkg/events"
	"github.com/gaia-mud/gaia/pkg/input"
	"github.com/gaia-mud/gaia/pkg/world"
)

func registerAdminCommands(r *input.AdminRecognizer) {
	r.Register(
		"create", "delete", "reload", "shutdown",
		"password", "roles", "eval", "stats", "dump", "who",
	)
}

// dispatchAdmin executes a /-prefixed operator command.
func (g *Game) dispatchAdmin(d *Descriptor, rec *input.Recognition) {
	// The stack only offers Admin mode to admin accounts; this guard
	// covers direct calls.
	if !d.IsAdmin() {
		d.Send(defaultHuh)
		return
	}
	if g.Audit != nil {
		g.Audit.Record(g.adminActor(d), "admin:"+rec.Verb, strings.Join(rec.Args, " "))
	}

	switch rec.Verb {
	case "create":
		g.adminCreate(d, rec.Args)
	case "delete":
		g.adminDelete(d, rec.Args)
	case "reload":
		g.adminReload(d, rec.Args)
	case "shutdown":
		reason := strings.Join(rec.Args, " ")
		if reason == "" {
			reason = "operator request"
		}
		g.Bus.EmitToAll(events.Event{Type: events.EvShutdown, Text: "Server going down: " + reason})
		g.RequestShutdown(reason)
	case "password":
		g.adminPassword(d, rec.Args)
	case "roles":
		g.adminRoles(d, rec.Args)
	case "eval":
		g.adminEval(d, rec)
	case "stats":
		d.Send(g.statsReport())
	case "dump":
		if err := g.Cache.Flush(); err != nil {
			d.Send("Dump finished with errors: " + err.Error())
			return
		}
		d.Send("World flushed to store.")
	case "who":
		d.Send(g.whoReport())
	}
}

func (g *Game) adminActor(d *Descriptor) string {
	if acct := d.Account(); acct != nil {
		return acct.LoginID
	}
	return d.Addr
}

func (g *Game) adminCreate(d *Descriptor, args []string) {
	if len(args) < 1 {
		d.Send("Usage: /create <#id|-> [name]")
		return
	}
	id := args[0]
	if id == "-" {
		id = "#obj-" + uuid.NewString()[:8]
	}
	if !strings.HasPrefix(id, "#") {
		d.Send("Object IDs start with '#'.")
		return
	}
	obj := &world.Object{
		ID:        id,
		Name:      strings.Join(args[1:], " "),
		ParentIDs: []string{world.RootID},
	}
	if acct := d.Account(); acct != nil && d.Character() != "" {
		obj.OwnerID = d.Character()
	}
	if err := g.Cache.Create(obj); err != nil {
		if errors.Is(err, world.ErrExists) {
			d.Send("That ID is taken.")
			return
		}
		d.Send("Create failed: " + err.Error())
		return
	}
	d.Send("Created " + id + ".")
}

func (g *Game) adminDelete(d *Descriptor, args []string) {
	if len(args) != 1 {
		d.Send("Usage: /delete <#id>")
		return
	}
	id := args[0]
	switch id {
	case world.RootID, world.ConfigID, world.UserID, world.CommandsID:
		d.Send("That object is load-bearing.")
		return
	}
	if err := g.Cache.Delete(id); err != nil {
		d.Send("Delete failed: " + err.Error())
		return
	}
	d.Send("Deleted " + id + ".")
}

// adminReload reads a G source file into an object's run attribute. Not a
// hot reload: running invocations keep their parse trees.
func (g *Game) adminReload(d *Descriptor, args []string) {
	if len(args) != 2 {
		d.Send("Usage: /reload <path> <#ref>")
		return
	}
	path, ref := args[0], args[1]
	data, err := g.Env.ReadFile(path)
	if err != nil {
		d.Send("Read failed: " + err.Error())
		return
	}
	if err := g.Cache.SetAttribute(ref, "run", string(data)); err != nil {
		d.Send("Reload failed: " + err.Error())
		return
	}
	if ref == world.ConfigID {
		g.ApplyConfigObject()
	}
	d.Send(fmt.Sprintf("Loaded %d bytes into %s.run.", len(data), ref))
}

func (g *Game) adminPassword(d *Descriptor, args []string) {
	if len(args) != 2 {
		d.Send("Usage: /password <user> <newpassword>")
		return
	}
	login, password := args[0], args[1]
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		d.Send("Hash failed: " + err.Error())
		return
	}
	err = g.updateAccount(login, func(a *world.Account) { a.PasswordHash = hash })
	if err != nil {
		d.Send("Password change failed: " + err.Error())
		return
	}
	d.Send("Password changed for " + login + ".")
}

func (g *Game) adminRoles(d *Descriptor, args []string) {
	if len(args) < 2 {
		d.Send("Usage: /roles <user> +role -role ...")
		return
	}
	login := args[0]
	var grant, revoke []world.Role
	for _, tok := range args[1:] {
		if len(tok) < 2 || (tok[0] != '+' && tok[0] != '-') {
			d.Send("Role changes look like +builder or -wizard.")
			return
		}
		name := strings.ToLower(tok[1:])
		if !world.ValidRole(name) {
			d.Send("Unknown role: " + name)
			return
		}
		if tok[0] == '+' {
			grant = append(grant, world.Role(name))
		} else {
			revoke = append(revoke, world.Role(name))
		}
	}
	err := g.updateAccount(login, func(a *world.Account) {
		for _, r := range grant {
			a.AddRole(r)
		}
		for _, r := range revoke {
			a.RemoveRole(r)
		}
	})
	if err != nil {
		d.Send("Role change failed: " + err.Error())
		return
	}
	d.Send("Roles updated for " + login + ".")
}

// updateAccount applies fn under optimistic-revision semantics, retrying
// one conflict.
func (g *Game) updateAccount(login string, fn func(*world.Account)) error {
	for attempt := 0; attempt < 2; attempt++ {
		acct, rev, err := g.Accounts.FetchAccountByLogin(login)
		if err != nil {
			return err
		}
		fn(acct)
		if _, err = g.Accounts.StoreAccount(acct, rev); err == nil {
			return nil
		} else if !errors.Is(err, world.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("server: update account %s: %w", login, world.ErrConflict)
}

// adminEval evaluates the raw text after "/eval" as the acting character
// (or the session user object) with the account's roles.
func (g *Game) adminEval(d *Descriptor, rec *input.Recognition) {
	// Everything after the command token is the program, whatever case
	// the token was typed in.
	src := ""
	if i := strings.IndexAny(rec.Raw, " \t"); i >= 0 {
		src = strings.TrimSpace(rec.Raw[i+1:])
	}
	if src == "" {
		d.Send("Usage: /eval <expression>")
		return
	}
	actor := world.Ref(d.ActorID())
	ctx := g.Env.NewContext(actor, actor, actor, d.Roles())
	d.setInflight(ctx)
	defer d.setInflight(nil)

	res, err := g.Env.EvalSource(ctx, src)
	if err != nil {
		g.reportFailure(d, string(actor), err)
		return
	}
	d.Send("=> " + world.ToString(res))
}

func (g *Game) statsReport() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Uptime:          %s\n", g.Uptime().Round(time.Second))
	fmt.Fprintf(&sb, "Objects (store): %d\n", g.Store.ObjectCount())
	fmt.Fprintf(&sb, "Objects (cache): %d (%d dirty)\n", g.Cache.Len(), g.Cache.DirtyCount())
	fmt.Fprintf(&sb, "Accounts:        %d\n", g.Accounts.AccountCount())
	fmt.Fprintf(&sb, "Connections:     %d", g.Conns.Count())
	return sb.String()
}
