package input

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Tag classifies a dictionary word.
type Tag uint8

const (
	TagVerb Tag = 1 << iota
	TagNoun
	TagPrep
	TagArticle
	TagPronoun
)

// Candidate is an object visible to the actor during noun resolution.
type Candidate struct {
	ID          string
	Name        string
	InInventory bool
}

// WorldView supplies the objects an actor can refer to: the contents of
// its location, its inventory, and itself.
type WorldView interface {
	Visible(actorID string) []Candidate
}

// GameRecognizer is the natural-language verb-object parser. Its
// dictionary is an immutable snapshot swapped atomically; softcode can
// register new words at runtime without locking readers.
type GameRecognizer struct {
	view WorldView
	dict atomic.Pointer[map[string]Tag]

	// Recency of interaction, per actor, for pronoun resolution and
	// tie-breaking.
	recentMu  sync.Mutex
	recent    map[string]map[string]int64
	recentSeq int64
}

// NewGameRecognizer builds a recognizer with the default closed-class
// words; verbs and game-specific nouns are registered by the engine and
// by softcode.
func NewGameRecognizer(view WorldView) *GameRecognizer {
	r := &GameRecognizer{view: view, recent: make(map[string]map[string]int64)}
	dict := map[string]Tag{}
	r.dict.Store(&dict)
	for _, w := range []string{"a", "an", "the"} {
		r.Register(w, TagArticle)
	}
	for _, w := range []string{"in", "on", "at", "with", "to", "from", "under", "behind", "into"} {
		r.Register(w, TagPrep)
	}
	for _, w := range []string{"it", "them", "him", "her"} {
		r.Register(w, TagPronoun)
	}
	return r
}

// Register tags a word in the dictionary. Words and matching are
// case-insensitive; multiple tags accumulate.
func (r *GameRecognizer) Register(word string, tag Tag) {
	word = strings.ToLower(word)
	for {
		old := r.dict.Load()
		next := make(map[string]Tag, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[word] |= tag
		if r.dict.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RegisterVerbs tags each word as a verb.
func (r *GameRecognizer) RegisterVerbs(words ...string) {
	for _, w := range words {
		r.Register(w, TagVerb)
	}
}

// Verbs returns the registered verbs, sorted.
func (r *GameRecognizer) Verbs() []string {
	d := *r.dict.Load()
	out := make([]string, 0, len(d))
	for w, t := range d {
		if t&TagVerb != 0 {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

func (r *GameRecognizer) tags(word string) Tag {
	return (*r.dict.Load())[strings.ToLower(word)]
}

// Touch records that the actor interacted with the object; the most
// recently touched object wins pronoun references and close ties.
func (r *GameRecognizer) Touch(actorID, objectID string) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	m := r.recent[actorID]
	if m == nil {
		m = make(map[string]int64)
		r.recent[actorID] = m
	}
	r.recentSeq++
	m[objectID] = r.recentSeq
}

// Forget drops an actor's recency state (on disconnect).
func (r *GameRecognizer) Forget(actorID string) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	delete(r.recent, actorID)
}

func (r *GameRecognizer) recencyOf(actorID, objectID string) int64 {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	return r.recent[actorID][objectID]
}

// Recognize parses `<verb> [direct-object] [prep indirect-object]`.
// Stage 1 is lexical cleanup (case preserved), stage 2 tags tokens
// against the dictionary, stage 3 extracts and resolves noun phrases.
func (r *GameRecognizer) Recognize(line, actorID string) Outcome {
	line = strings.Join(fields(line), " ")
	tokens := fields(line)
	if len(tokens) == 0 {
		return Outcome{}
	}
	if r.tags(tokens[0])&TagVerb == 0 {
		return Outcome{}
	}
	verb := strings.ToLower(tokens[0])

	// Split the remainder into direct and indirect phrases at the first
	// preposition, dropping articles.
	var direct, indirect []string
	prep := ""
	cur := &direct
	for _, tok := range tokens[1:] {
		t := r.tags(tok)
		if t&TagArticle != 0 {
			continue
		}
		if prep == "" && t&TagPrep != 0 {
			prep = strings.ToLower(tok)
			cur = &indirect
			continue
		}
		*cur = append(*cur, tok)
	}

	rec := &Recognition{
		Mode: ModeGame,
		Verb: verb,
		Args: tokens[1:],
		Raw:  line,
		Prep: prep,
	}

	visible := r.view.Visible(actorID)
	if len(direct) > 0 {
		id, ambiguous := r.resolve(actorID, direct, visible)
		if len(ambiguous) > 0 {
			return Outcome{Ambiguous: ambiguous}
		}
		rec.Direct = id
	}
	if len(indirect) > 0 {
		id, ambiguous := r.resolve(actorID, indirect, visible)
		if len(ambiguous) > 0 {
			return Outcome{Ambiguous: ambiguous}
		}
		rec.Indirect = id
	}

	if rec.Direct != "" {
		r.Touch(actorID, rec.Direct)
	}
	return Outcome{Rec: rec}
}

// resolve matches a noun phrase against the visible candidates, applying
// the tie-breakers in order: exact name over partial, inventory over
// room, most recently touched, and object ID for candidates the player
// could not tell apart anyway. Remaining ties become a disambiguation
// request.
func (r *GameRecognizer) resolve(actorID string, phrase []string, visible []Candidate) (string, []string) {
	want := strings.ToLower(strings.Join(phrase, " "))

	// Pronouns refer to the most recently touched visible object.
	if len(phrase) == 1 && r.tags(phrase[0])&TagPronoun != 0 {
		best := ""
		var bestSeq int64
		for _, c := range visible {
			if seq := r.recencyOf(actorID, c.ID); seq > bestSeq {
				best, bestSeq = c.ID, seq
			}
		}
		return best, nil
	}

	var exact, partial []Candidate
	for _, c := range visible {
		name := strings.ToLower(c.Name)
		switch {
		case name == want || strings.ToLower(c.ID) == want:
			exact = append(exact, c)
		case partialMatch(name, want):
			partial = append(partial, c)
		}
	}

	pool := exact
	if len(pool) == 0 {
		pool = partial
	}
	if len(pool) == 0 {
		return "", nil
	}
	if len(pool) > 1 {
		if inv := filterInventory(pool); len(inv) > 0 {
			pool = inv
		}
	}
	if len(pool) > 1 {
		if recent := r.filterRecent(actorID, pool); len(recent) == 1 {
			pool = recent
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	if len(pool) > 1 && !sameName(pool) {
		ids := make([]string, len(pool))
		for i, c := range pool {
			ids[i] = c.ID
		}
		return "", ids
	}
	return pool[0].ID, nil
}

// partialMatch accepts a phrase that prefixes the name or any word of it,
// so "sword" and "rusty" both find "rusty sword".
func partialMatch(name, want string) bool {
	if strings.HasPrefix(name, want) {
		return true
	}
	for _, w := range strings.Fields(name) {
		if strings.HasPrefix(w, want) {
			return true
		}
	}
	return false
}

func filterInventory(pool []Candidate) []Candidate {
	var out []Candidate
	for _, c := range pool {
		if c.InInventory {
			out = append(out, c)
		}
	}
	return out
}

// filterRecent keeps only the single most recently touched candidate, if
// one strictly dominates.
func (r *GameRecognizer) filterRecent(actorID string, pool []Candidate) []Candidate {
	best := -1
	var bestSeq int64
	for i, c := range pool {
		seq := r.recencyOf(actorID, c.ID)
		if seq > bestSeq {
			best, bestSeq = i, seq
		} else if seq == bestSeq {
			best = -1
		}
	}
	if best < 0 {
		return pool
	}
	return pool[best : best+1]
}

// sameName reports whether every candidate shows the player the same
// display name; such ties are broken silently by object ID.
func sameName(pool []Candidate) bool {
	for _, c := range pool[1:] {
		if !strings.EqualFold(c.Name, pool[0].Name) {
			return false
		}
	}
	return true
}
