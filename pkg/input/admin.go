package input

import (
	"sort"
	"strings"
	"sync/atomic"
)

// AdminRecognizer matches `/command args...` against a dynamically
// registered table. The table is an immutable snapshot swapped atomically,
// so recognition never takes a lock.
type AdminRecognizer struct {
	table atomic.Pointer[map[string]bool]
}

// NewAdminRecognizer starts with an empty command table.
func NewAdminRecognizer() *AdminRecognizer {
	r := &AdminRecognizer{}
	empty := map[string]bool{}
	r.table.Store(&empty)
	return r
}

// Register adds commands to the table. Matching is case-insensitive.
func (r *AdminRecognizer) Register(names ...string) {
	for {
		old := r.table.Load()
		next := make(map[string]bool, len(*old)+len(names))
		for k := range *old {
			next[k] = true
		}
		for _, n := range names {
			next[strings.ToLower(n)] = true
		}
		if r.table.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Commands returns the registered command names, sorted.
func (r *AdminRecognizer) Commands() []string {
	t := *r.table.Load()
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Recognize claims lines starting with '/' whose first token names a
// registered command. Arguments keep their typed case.
func (r *AdminRecognizer) Recognize(line, actorID string) Outcome {
	if !strings.HasPrefix(line, "/") {
		return Outcome{}
	}
	parts := fields(line[1:])
	if len(parts) == 0 {
		return Outcome{}
	}
	cmd := strings.ToLower(parts[0])
	if !(*r.table.Load())[cmd] {
		return Outcome{}
	}
	return Outcome{Rec: &Recognition{
		Mode: ModeAdmin,
		Verb: cmd,
		Args: parts[1:],
		Raw:  line,
	}}
}
