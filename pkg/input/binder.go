package input

import (
	"errors"
	"sync"

	"github.com/gaia-mud/gaia/pkg/world"
)

// ErrUnbound means no object in the search order handles the verb.
var ErrUnbound = errors.New("input: no handler for verb")

// Binding names the object and attribute a game command resolved to. The
// named object becomes the executor of the invocation.
type Binding struct {
	ExecutorID string
	Attr       string
}

// Binder resolves a game recognition to a cmd_<verb> attribute. The
// search order is: the direct object, the actor's location, the actor,
// the session's transient user object, and finally the global dispatch
// object #commands. Attribute lookup on each candidate is
// inheritance-resolved.
type Binder struct {
	cache *world.Cache

	mu       sync.RWMutex
	synonyms map[string][]string
}

// NewBinder builds a binder over the world cache.
func NewBinder(cache *world.Cache) *Binder {
	return &Binder{cache: cache, synonyms: make(map[string][]string)}
}

// RegisterSynonym maps a verb to an extra attribute name tried after
// cmd_<verb>.
func (b *Binder) RegisterSynonym(verb, attr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.synonyms[verb] = append(b.synonyms[verb], attr)
}

func (b *Binder) attrNames(verb string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string{"cmd_" + verb}, b.synonyms[verb]...)
}

// Bind finds the handler for a game-mode recognition. transientID may be
// empty for embodied sessions with no session object.
func (b *Binder) Bind(rec *Recognition, actorID, transientID string) (*Binding, error) {
	candidates := make([]string, 0, 5)
	if rec.Direct != "" {
		candidates = append(candidates, rec.Direct)
	}
	if actor, err := b.cache.Get(actorID); err == nil && actor.LocationID != "" {
		candidates = append(candidates, actor.LocationID)
	}
	candidates = append(candidates, actorID)
	if transientID != "" {
		candidates = append(candidates, transientID)
	}
	candidates = append(candidates, world.CommandsID)

	attrs := b.attrNames(rec.Verb)
	for _, id := range candidates {
		for _, attr := range attrs {
			_, ok, err := b.cache.GetAttribute(id, attr)
			if err != nil {
				if errors.Is(err, world.ErrNotFound) {
					break // candidate object missing; next candidate
				}
				return nil, err
			}
			if ok {
				return &Binding{ExecutorID: id, Attr: attr}, nil
			}
		}
	}
	return nil, ErrUnbound
}
