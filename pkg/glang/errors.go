package glang

import "fmt"

// FailKind classifies a G-level failure.
type FailKind int

const (
	ParseFailure FailKind = iota
	UnresolvedCallee
	TypeCoercion
	Permission
	NotFound
	StoreConflict
	Timeout
	DepthLimit
)

func (k FailKind) String() string {
	switch k {
	case ParseFailure:
		return "parse failure"
	case UnresolvedCallee:
		return "unresolved callee"
	case TypeCoercion:
		return "type coercion"
	case Permission:
		return "permission denied"
	case NotFound:
		return "not found"
	case StoreConflict:
		return "store conflict"
	case Timeout:
		return "timeout"
	case DepthLimit:
		return "depth limit"
	}
	return "failure"
}

// Failure is a G evaluation or parse failure. It carries the source text and
// the span of the failing expression so the diagnostic can quote it.
type Failure struct {
	Kind   FailKind
	Reason string
	Src    string
	Span   Span
}

// Error renders the single-line diagnostic reported to the actor.
func (f *Failure) Error() string {
	quoted := f.Span.Slice(f.Src)
	if quoted != "" {
		return fmt.Sprintf("%s: %s (in `%s`)", f.Kind, f.Reason, quoted)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// failAt builds a Failure pinned to a node's span.
func failAt(kind FailKind, src string, span Span, format string, args ...any) *Failure {
	return &Failure{
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		Src:    src,
		Span:   span,
	}
}
