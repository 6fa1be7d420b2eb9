package server

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gaia-mud/gaia/pkg/world"
)

// Bootstrap ensures the load-bearing root objects and the initial admin
// account exist. Safe to run on every start; existing data is left alone.
func (g *Game) Bootstrap() error {
	if err := g.ensureRootObjects(); err != nil {
		return err
	}
	if err := g.ensureAdminAccount(); err != nil {
		return err
	}
	g.ApplyConfigObject()
	return nil
}

// WarmCache loads every persisted object into the cache. Without it the
// tick scheduler, which sweeps only cached objects, would not see an
// on_tick persisted before a restart until something else fetched its
// object.
func (g *Game) WarmCache() (int, error) {
	n := 0
	err := g.Store.EachObject(func(obj *world.Object, rev string) error {
		g.Cache.Prime(obj, rev)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("server: warm cache: %w", err)
	}
	log.Printf("server: warmed cache with %d object(s)", n)
	return n, nil
}

func (g *Game) ensureRootObjects() error {
	roots := []*world.Object{
		{
			ID:          world.RootID,
			Name:        "object",
			Description: "The root of all things.",
		},
		{
			ID:        world.ConfigID,
			Name:      "config",
			ParentIDs: []string{world.RootID},
			Attributes: map[string]world.Value{
				"depth_limit":    float64(g.Conf.DepthLimit),
				"eval_budget_ms": float64(g.Conf.EvalBudget / time.Millisecond),
				// Read-only mirrors for softcode; changing them at runtime
				// has no effect on the engine.
				"tick_interval_ms":       float64(g.Conf.TickInterval / time.Millisecond),
				"write_back_interval_ms": float64(g.Conf.WriteBackInterval / time.Millisecond),
				"dirty_threshold":        float64(g.Conf.DirtyThreshold),
			},
		},
		{
			ID:        world.UserID,
			Name:      "user",
			ParentIDs: []string{world.RootID},
		},
		{
			ID:        world.CommandsID,
			Name:      "commands",
			ParentIDs: []string{world.RootID},
		},
	}
	for _, obj := range roots {
		if _, err := g.Cache.Get(obj.ID); err == nil {
			continue
		} else if !errors.Is(err, world.ErrNotFound) {
			return fmt.Errorf("server: bootstrap %s: %w", obj.ID, err)
		}
		if err := g.Cache.Create(obj); err != nil && !errors.Is(err, world.ErrExists) {
			return fmt.Errorf("server: bootstrap %s: %w", obj.ID, err)
		}
		log.Printf("server: created root object %s", obj.ID)
	}
	return nil
}

// ensureAdminAccount creates the configured admin login on first start.
func (g *Game) ensureAdminAccount() error {
	login := g.Conf.AdminLogin
	if login == "" {
		return nil
	}
	if _, _, err := g.Accounts.FetchAccountByLogin(login); err == nil {
		return nil
	} else if !errors.Is(err, world.ErrNotFound) {
		return fmt.Errorf("server: bootstrap admin: %w", err)
	}
	if g.Conf.AdminPassword == "" {
		return fmt.Errorf("server: bootstrap admin: no password configured for %s", login)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(g.Conf.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("server: bootstrap admin: %w", err)
	}
	acct := &world.Account{
		ID:           "acct-" + uuid.NewString(),
		LoginID:      login,
		DisplayName:  login,
		PasswordHash: hash,
		Roles:        []world.Role{world.RolePlayer, world.RoleAdmin},
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := g.Accounts.StoreAccount(acct, ""); err != nil {
		return fmt.Errorf("server: bootstrap admin: %w", err)
	}
	log.Printf("server: created admin account %q", login)
	return nil
}
