package glang

import (
	"strconv"
	"strings"

	"github.com/gaia-mud/gaia/pkg/world"
)

// Node is a parsed G expression.
type Node interface {
	Span() Span
	unparse(sb *strings.Builder)
}

// ListNode is `[head arg ...]`. Whether the head acts as a callee is decided
// at evaluation time by the head-position rules.
type ListNode struct {
	Elems []Node
	span  Span
}

// LiteralNode is a string, number, boolean or nil literal.
type LiteralNode struct {
	Val  world.Value
	span Span
}

// SymbolNode is a bare identifier. As a callee it names a form, builtin or
// bound callable; as data it evaluates to its binding, or to its own name if
// unbound.
type SymbolNode struct {
	Name string
	span Span
}

// ObjectRefNode is `#name` or `#ns:name`, including the leading '#'.
type ObjectRefNode struct {
	ID   string
	span Span
}

// AttrAccessNode is `<target>.<attr>`, left-associative.
type AttrAccessNode struct {
	Target Node
	Attr   string
	span   Span
}

// ExecNode is an execution form: `@ref` (invoke run), `@ref.attr`, or
// `@var` (VarName set, Target nil).
type ExecNode struct {
	Target  Node
	Attr    string
	VarName string
	span    Span
}

// SendNode is `<target>"<payload>"`. Payload is a string LiteralNode or an
// ExecNode evaluated under this=target.
type SendNode struct {
	Target  Node
	Payload Node
	span    Span
}

func (n *ListNode) Span() Span       { return n.span }
func (n *LiteralNode) Span() Span    { return n.span }
func (n *SymbolNode) Span() Span     { return n.span }
func (n *ObjectRefNode) Span() Span  { return n.span }
func (n *AttrAccessNode) Span() Span { return n.span }
func (n *ExecNode) Span() Span       { return n.span }
func (n *SendNode) Span() Span       { return n.span }

// Unparse renders a node back to G source. Reparsing the result yields an
// equal tree.
func Unparse(n Node) string {
	var sb strings.Builder
	n.unparse(&sb)
	return sb.String()
}

func (n *ListNode) unparse(sb *strings.Builder) {
	sb.WriteByte('[')
	for i, e := range n.Elems {
		if i > 0 {
			sb.WriteByte(' ')
		}
		e.unparse(sb)
	}
	sb.WriteByte(']')
}

func (n *LiteralNode) unparse(sb *strings.Builder) {
	switch v := n.Val.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		sb.WriteString(strconv.Quote(v))
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		sb.WriteString(world.ToString(v))
	}
}

func (n *SymbolNode) unparse(sb *strings.Builder)    { sb.WriteString(n.Name) }
func (n *ObjectRefNode) unparse(sb *strings.Builder) { sb.WriteString(n.ID) }

func (n *AttrAccessNode) unparse(sb *strings.Builder) {
	n.Target.unparse(sb)
	sb.WriteByte('.')
	sb.WriteString(n.Attr)
}

func (n *ExecNode) unparse(sb *strings.Builder) {
	sb.WriteByte('@')
	if n.VarName != "" {
		sb.WriteString(n.VarName)
		return
	}
	n.Target.unparse(sb)
	if n.Attr != "" {
		sb.WriteByte('.')
		sb.WriteString(n.Attr)
	}
}

func (n *SendNode) unparse(sb *strings.Builder) {
	n.Target.unparse(sb)
	sb.WriteByte('"')
	if lit, ok := n.Payload.(*LiteralNode); ok {
		if s, ok := lit.Val.(string); ok {
			esc := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\t", "\\t")
			sb.WriteString(esc.Replace(s))
			sb.WriteByte('"')
			return
		}
	}
	n.Payload.unparse(sb)
	sb.WriteByte('"')
}
