package glang

import "fmt"

// TokenType enumerates the lexical categories of G.
type TokenType int

const (
	EOF TokenType = iota
	LBRACKET
	RBRACKET
	COMMA
	OpAt
	OpDot
	OpColon
	OpQuote // message operator: '"' immediately after a send target
	ObjRef
	String
	Number
	Symbol
)

func (t TokenType) String() string {
	switch t {
	case EOF:
		return "EOF"
	case LBRACKET:
		return "'['"
	case RBRACKET:
		return "']'"
	case COMMA:
		return "','"
	case OpAt:
		return "'@'"
	case OpDot:
		return "'.'"
	case OpColon:
		return "':'"
	case OpQuote:
		return "message operator"
	case ObjRef:
		return "object reference"
	case String:
		return "string"
	case Number:
		return "number"
	case Symbol:
		return "symbol"
	}
	return "unknown"
}

// Span marks a half-open byte range in the source text.
type Span struct {
	Begin int
	End   int
}

// Slice returns the source text the span covers.
func (s Span) Slice(src string) string {
	if s.Begin < 0 || s.End > len(src) || s.Begin > s.End {
		return ""
	}
	return src[s.Begin:s.End]
}

// Token is one lexeme. Text is the raw source slice; Val carries the
// unescaped value for String tokens and the raw payload for OpQuote tokens.
type Token struct {
	Type TokenType
	Text string
	Val  string
	Span Span
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q", t.Type, t.Text)
}
