package glang

import (
	"strings"
)

// lexer tokenizes G source. The '"' character is overloaded: it opens a
// string literal except when it immediately follows a send target (an object
// reference or the tail of an @-expression), where it is the message
// operator and the text up to the closing quote is the message payload.
type lexer struct {
	src string
	pos int

	// prev tracks the last emitted token and whether any whitespace or
	// comment separated it from the current position; both feed the
	// message-operator disambiguation.
	prev      Token
	prevPrev  Token
	separated bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src, separated: true}
}

// Lex tokenizes the whole input, returning a ParseFailure on bad input.
func Lex(src string) ([]Token, error) {
	lx := newLexer(src)
	var toks []Token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks, nil
		}
	}
}

func isSymbolChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("_-+*/%<>=!?^&", c) >= 0
}

func isRefChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return c == '_' || c == '-'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// sendTargetBefore reports whether the token stream so far ends in a send
// target: an object reference, or a symbol reached through '@' or '.'.
func (lx *lexer) sendTargetBefore() bool {
	if lx.separated {
		return false
	}
	switch lx.prev.Type {
	case ObjRef:
		return true
	case Symbol:
		return lx.prevPrev.Type == OpAt || lx.prevPrev.Type == OpDot
	}
	return false
}

func (lx *lexer) emit(t TokenType, begin int, val string) (Token, error) {
	tok := Token{Type: t, Text: lx.src[begin:lx.pos], Val: val, Span: Span{begin, lx.pos}}
	lx.prevPrev = lx.prev
	lx.prev = tok
	lx.separated = false
	return tok, nil
}

func (lx *lexer) fail(begin int, reason string) (Token, error) {
	end := lx.pos
	if end <= begin {
		end = begin + 1
		if end > len(lx.src) {
			end = len(lx.src)
		}
	}
	return Token{}, &Failure{
		Kind:   ParseFailure,
		Reason: reason,
		Src:    lx.src,
		Span:   Span{begin, end},
	}
}

func (lx *lexer) next() (Token, error) {
	// Skip whitespace and line comments.
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			lx.pos++
			lx.separated = true
			continue
		}
		if c == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '/' {
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			lx.separated = true
			continue
		}
		break
	}

	begin := lx.pos
	if lx.pos >= len(lx.src) {
		return lx.emit(EOF, begin, "")
	}

	c := lx.src[lx.pos]
	switch {
	case c == '[':
		lx.pos++
		return lx.emit(LBRACKET, begin, "")
	case c == ']':
		lx.pos++
		return lx.emit(RBRACKET, begin, "")
	case c == ',':
		lx.pos++
		return lx.emit(COMMA, begin, "")
	case c == '@':
		lx.pos++
		return lx.emit(OpAt, begin, "")
	case c == '.':
		lx.pos++
		return lx.emit(OpDot, begin, "")
	case c == ':':
		lx.pos++
		return lx.emit(OpColon, begin, "")

	case c == '"':
		if lx.sendTargetBefore() {
			// Message operator: capture the raw payload up to the
			// closing quote.
			lx.pos++
			payload, err := lx.scanRawQuoted(begin)
			if err != nil {
				return Token{}, err
			}
			return lx.emit(OpQuote, begin, payload)
		}
		lx.pos++
		val, err := lx.scanString(begin)
		if err != nil {
			return Token{}, err
		}
		return lx.emit(String, begin, val)

	case c == '#':
		lx.pos++
		colons := 0
		for lx.pos < len(lx.src) {
			ch := lx.src[lx.pos]
			if isRefChar(ch) {
				lx.pos++
				continue
			}
			if ch == ':' && colons == 0 && lx.pos+1 < len(lx.src) && isRefChar(lx.src[lx.pos+1]) {
				colons++
				lx.pos++
				continue
			}
			break
		}
		if lx.pos == begin+1 {
			return lx.fail(begin, "empty object reference")
		}
		return lx.emit(ObjRef, begin, lx.src[begin:lx.pos])

	case isDigit(c), (c == '-' || c == '+') && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]):
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]) {
			lx.pos++
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.pos++
			}
		}
		// A digit run flowing into symbol characters is a symbol that
		// merely starts with a sign (e.g. "1st" is invalid; "-x" is a
		// symbol). Symbols must not start with a digit.
		return lx.emit(Number, begin, lx.src[begin:lx.pos])

	case isSymbolChar(c) && !isDigit(c):
		lx.pos++
		for lx.pos < len(lx.src) && isSymbolChar(lx.src[lx.pos]) {
			lx.pos++
		}
		return lx.emit(Symbol, begin, lx.src[begin:lx.pos])
	}

	lx.pos++
	return lx.fail(begin, "unexpected character "+string(c))
}

// scanString consumes a double-quoted string literal body (the opening quote
// is already consumed) and returns the unescaped value.
func (lx *lexer) scanString(begin int) (string, error) {
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch c {
		case '"':
			lx.pos++
			return sb.String(), nil
		case '\\':
			lx.pos++
			if lx.pos >= len(lx.src) {
				_, err := lx.fail(begin, "unterminated string escape")
				return "", err
			}
			switch lx.src[lx.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(lx.src[lx.pos])
			}
			lx.pos++
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	_, err := lx.fail(begin, "unterminated string literal")
	return "", err
}

// scanRawQuoted consumes a message payload up to the closing quote without
// unescaping, so an @-expression payload can be re-lexed by the parser.
func (lx *lexer) scanRawQuoted(begin int) (string, error) {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' && lx.pos+1 < len(lx.src) {
			lx.pos += 2
			continue
		}
		if c == '"' {
			raw := lx.src[start:lx.pos]
			lx.pos++
			return raw, nil
		}
		lx.pos++
	}
	_, err := lx.fail(begin, "unterminated message payload")
	return "", err
}

// Unescape applies string-literal escape processing to a raw payload.
func Unescape(raw string) string {
	if !strings.ContainsRune(raw, '\\') {
		return raw
	}
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(raw[i])
			}
			continue
		}
		sb.WriteByte(raw[i])
	}
	return sb.String()
}
