package input

import (
	"sort"
	"strings"
	"sync/atomic"
)

// UserRecognizer matches a registered keyword set (WHO, QUIT, CONNECT,
// COMMANDS and whatever else is registered). The keyword match is
// case-insensitive; arguments are preserved as typed.
type UserRecognizer struct {
	table atomic.Pointer[map[string]bool]
}

// NewUserRecognizer starts with an empty keyword set.
func NewUserRecognizer() *UserRecognizer {
	r := &UserRecognizer{}
	empty := map[string]bool{}
	r.table.Store(&empty)
	return r
}

// Register adds keywords to the set.
func (r *UserRecognizer) Register(keywords ...string) {
	for {
		old := r.table.Load()
		next := make(map[string]bool, len(*old)+len(keywords))
		for k := range *old {
			next[k] = true
		}
		for _, k := range keywords {
			next[strings.ToLower(k)] = true
		}
		if r.table.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Keywords returns the registered keywords, sorted.
func (r *UserRecognizer) Keywords() []string {
	t := *r.table.Load()
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Recognize claims lines whose first token is a registered keyword.
func (r *UserRecognizer) Recognize(line, actorID string) Outcome {
	parts := fields(line)
	if len(parts) == 0 {
		return Outcome{}
	}
	kw := strings.ToLower(parts[0])
	if !(*r.table.Load())[kw] {
		return Outcome{}
	}
	return Outcome{Rec: &Recognition{
		Mode: ModeUser,
		Verb: kw,
		Args: parts[1:],
		Raw:  line,
	}}
}
