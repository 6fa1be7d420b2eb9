package server

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gaia-mud/gaia/pkg/events"
	"github.com/gaia-mud/gaia/pkg/world"
)

// handleLogin runs the pre-auth state machine. The only lines accepted
// are `connect <user> <password>` (case-insensitive keyword), WHO and
// QUIT; three failed logins disconnect the client.
func (g *Game) handleLogin(d *Descriptor, line string) {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "quit":
		d.Send("Goodbye!")
		d.Close()
		return
	case "who":
		d.Send(g.whoReport())
		return
	case "connect":
		if len(parts) != 3 {
			d.Send("Usage: connect <user> <password>")
			return
		}
		g.tryLogin(d, parts[1], parts[2])
		return
	}
	d.Send("Please log in first: CONNECT <user> <password>")
}

func (g *Game) tryLogin(d *Descriptor, login, password string) {
	acct, rev, err := g.Accounts.FetchAccountByLogin(login)
	ok := err == nil && bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) == nil
	if !ok {
		if err != nil && !errors.Is(err, world.ErrNotFound) {
			log.Printf("server: [%d] login lookup: %v", d.ID, err)
		}
		d.mu.Lock()
		d.retries++
		retries := d.retries
		d.mu.Unlock()
		d.Send("Invalid user or password.")
		if retries >= g.Conf.MaxRetries {
			d.Send("Too many failed logins.")
			d.Close()
		}
		if g.Audit != nil {
			g.Audit.Record(login, "login_failed", d.Addr)
		}
		return
	}

	g.bindAccount(d, acct, rev)
}

// bindAccount completes authentication for a session whose credentials
// already checked out (password or token).
func (g *Game) bindAccount(d *Descriptor, acct *world.Account, rev string) {
	acct.LastLoginAt = time.Now().UTC()
	if _, err := g.Accounts.StoreAccount(acct, rev); err != nil {
		// Conflicts here only race another login; the session proceeds.
		log.Printf("server: [%d] record login time: %v", d.ID, err)
	}

	userID := g.spawnUserObject(d)
	d.mu.Lock()
	d.account = acct
	d.accRev = rev
	d.retries = 0
	d.mu.Unlock()
	g.Conns.BindUser(d, userID)

	log.Printf("server: [%d] %s logged in from %s", d.ID, acct.LoginID, d.Addr)
	if g.Audit != nil {
		g.Audit.Record(acct.LoginID, "login", d.Addr)
	}

	if motd := g.Texts.GetMotd(); motd != "" {
		d.Send(motd)
	}
	d.Send(fmt.Sprintf("Welcome, %s. Characters: %s", acct.DisplayName, g.characterList(acct)))
	d.Send("Use: connect character <name>")
}

// spawnUserObject creates the session-scoped transient user object. It is
// cache-only: never written to the store, evicted on disconnect.
func (g *Game) spawnUserObject(d *Descriptor) string {
	id := "#user-" + uuid.NewString()[:8]
	obj := &world.Object{
		ID:        id,
		Name:      "guest",
		ParentIDs: []string{world.UserID},
		Transient: true,
	}
	if err := g.Cache.Put(obj); err != nil {
		log.Printf("server: [%d] spawn user object: %v", d.ID, err)
	}
	return id
}

func (g *Game) characterList(acct *world.Account) string {
	if len(acct.CharacterIDs) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(acct.CharacterIDs))
	for _, id := range acct.CharacterIDs {
		if obj, err := g.Cache.Get(id); err == nil && obj.Name != "" {
			names = append(names, obj.Name)
		} else {
			names = append(names, id)
		}
	}
	return strings.Join(names, ", ")
}

// embody binds the session to one of its account's characters, displacing
// any other session playing it.
func (g *Game) embody(d *Descriptor, name string) {
	acct := d.Account()
	if acct == nil {
		d.Send("Log in first.")
		return
	}
	charID := ""
	for _, id := range acct.CharacterIDs {
		if strings.EqualFold(id, name) {
			charID = id
			break
		}
		if obj, err := g.Cache.Get(id); err == nil && strings.EqualFold(obj.Name, name) {
			charID = id
			break
		}
	}
	if charID == "" {
		d.Send("No such character on this account.")
		return
	}

	if displaced := g.Conns.Embody(d, charID); displaced != nil {
		displaced.Receive(events.Event{
			Type: events.EvDisconnect, Target: charID,
			Text: "Your character has been taken over by another session.",
		})
		displaced.Close()
	}

	// Drop the now-unneeded transient user object.
	if userID := d.UserObj(); userID != "" {
		g.Bus.Unsubscribe(userID, d)
		g.Cache.Evict(userID)
		g.Pipeline.Game.Forget(userID)
		d.mu.Lock()
		d.userObj = ""
		d.mu.Unlock()
	}

	obj, err := g.Cache.Get(charID)
	charName := charID
	if err == nil && obj.Name != "" {
		charName = obj.Name
	}
	d.Send("You are now " + charName + ".")
	g.Bus.EmitTo(charID, events.Event{Type: events.EvConnect, Source: charID,
		Data: map[string]any{"character": charID}})
	if err == nil && obj.LocationID != "" {
		if room, rerr := g.Cache.Get(obj.LocationID); rerr == nil {
			g.Bus.EmitToMany(room.ContentIDs, charID, events.Event{
				Type: events.EvConnect, Source: charID,
				Text: charName + " has connected.",
			})
		}
	}
	if g.Audit != nil {
		g.Audit.Record(acct.LoginID, "embody", charID)
	}
}

// disconnect tears down session-scoped world state.
func (g *Game) disconnect(d *Descriptor) {
	if userID := d.UserObj(); userID != "" {
		g.Cache.Evict(userID)
		g.Pipeline.Game.Forget(userID)
	}
	if char := d.Character(); char != "" {
		if obj, err := g.Cache.Get(char); err == nil && obj.LocationID != "" {
			if room, rerr := g.Cache.Get(obj.LocationID); rerr == nil {
				name := obj.Name
				if name == "" {
					name = char
				}
				g.Bus.EmitToMany(room.ContentIDs, char, events.Event{
					Type: events.EvDisconnect, Source: char,
					Text: name + " has disconnected.",
				})
			}
		}
		g.Pipeline.Game.Forget(char)
	}
	g.Conns.Remove(d)
}
