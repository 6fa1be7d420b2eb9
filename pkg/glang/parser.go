package glang

import (
	"strconv"
)

// parser builds expression trees from the token stream. Commas are
// separators identical to spaces: runs of them never introduce null
// elements, but an explicit `""` literal is a real element.
type parser struct {
	src  string
	toks []Token
	pos  int
}

// Parse parses a complete G fragment. The fragment must be a single
// expression; trailing tokens are a parse failure.
func Parse(src string) (Node, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != EOF {
		return nil, failAt(ParseFailure, src, tok.Span, "unexpected %s after expression", tok.Type)
	}
	return n, nil
}

func newParser(src string) (*parser, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{src: src, toks: toks}, nil
}

func (p *parser) peek() Token {
	return p.toks[p.pos]
}

func (p *parser) advance() Token {
	tok := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) parseExpr() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case LBRACKET:
		return p.parseList()
	case String:
		p.advance()
		return &LiteralNode{Val: tok.Val, span: tok.Span}, nil
	case Number:
		p.advance()
		n, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, failAt(ParseFailure, p.src, tok.Span, "bad number %s", tok.Text)
		}
		return &LiteralNode{Val: n, span: tok.Span}, nil
	case Symbol:
		p.advance()
		switch tok.Text {
		case "true":
			return &LiteralNode{Val: true, span: tok.Span}, nil
		case "false":
			return &LiteralNode{Val: false, span: tok.Span}, nil
		case "null", "nil":
			return &LiteralNode{Val: nil, span: tok.Span}, nil
		}
		return &SymbolNode{Name: tok.Text, span: tok.Span}, nil
	case ObjRef:
		return p.parseRefExpr()
	case OpAt:
		return p.parseExec()
	}
	return nil, failAt(ParseFailure, p.src, tok.Span, "unexpected %s", tok.Type)
}

// parseList parses `[...]`, splitting elements on spaces and commas.
func (p *parser) parseList() (Node, error) {
	open := p.advance() // '['
	var elems []Node
	for {
		tok := p.peek()
		switch tok.Type {
		case RBRACKET:
			close := p.advance()
			return &ListNode{Elems: elems, span: Span{open.Span.Begin, close.Span.End}}, nil
		case COMMA:
			p.advance() // separator, same as space
		case EOF:
			return nil, failAt(ParseFailure, p.src, Span{open.Span.Begin, len(p.src)}, "unterminated list")
		default:
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
	}
}

// parseRefExpr parses an object reference with optional left-associative
// `.attr` chains and an optional trailing send.
func (p *parser) parseRefExpr() (Node, error) {
	tok := p.advance()
	var n Node = &ObjectRefNode{ID: tok.Text, span: tok.Span}
	n, err := p.parseAttrChain(n)
	if err != nil {
		return nil, err
	}
	return p.parseOptionalSend(n)
}

// parseAttrChain consumes `.sym` suffixes.
func (p *parser) parseAttrChain(target Node) (Node, error) {
	for p.peek().Type == OpDot {
		dot := p.advance()
		sym := p.peek()
		if sym.Type != Symbol {
			return nil, failAt(ParseFailure, p.src, dot.Span, "expected attribute name after '.'")
		}
		p.advance()
		target = &AttrAccessNode{
			Target: target,
			Attr:   sym.Text,
			span:   Span{target.Span().Begin, sym.Span.End},
		}
	}
	return target, nil
}

// parseExec parses `@ref`, `@ref.attr` and `@var`, with an optional
// trailing send.
func (p *parser) parseExec() (Node, error) {
	at := p.advance() // '@'
	tok := p.peek()
	switch tok.Type {
	case ObjRef:
		p.advance()
		var target Node = &ObjectRefNode{ID: tok.Text, span: tok.Span}
		attr := ""
		end := tok.Span.End
		for p.peek().Type == OpDot {
			p.advance()
			sym := p.peek()
			if sym.Type != Symbol {
				return nil, failAt(ParseFailure, p.src, sym.Span, "expected attribute name after '.'")
			}
			p.advance()
			if attr != "" {
				target = &AttrAccessNode{Target: target, Attr: attr, span: Span{at.Span.Begin, end}}
			}
			attr = sym.Text
			end = sym.Span.End
		}
		return p.parseOptionalSend(&ExecNode{Target: target, Attr: attr, span: Span{at.Span.Begin, end}})

	case Symbol:
		p.advance()
		attr := ""
		end := tok.Span.End
		if p.peek().Type == OpDot {
			p.advance()
			sym := p.peek()
			if sym.Type != Symbol {
				return nil, failAt(ParseFailure, p.src, sym.Span, "expected attribute name after '.'")
			}
			p.advance()
			attr = sym.Text
			end = sym.Span.End
		}
		return p.parseOptionalSend(&ExecNode{VarName: tok.Text, Attr: attr, span: Span{at.Span.Begin, end}})
	}
	return nil, failAt(ParseFailure, p.src, at.Span, "expected object reference or symbol after '@'")
}

// parseOptionalSend wraps target in a SendNode when the message operator
// follows. The raw payload is either a string literal or an @-execution.
func (p *parser) parseOptionalSend(target Node) (Node, error) {
	if p.peek().Type != OpQuote {
		return target, nil
	}
	tok := p.advance()
	raw := tok.Val

	var payload Node
	if len(raw) > 0 && raw[0] == '@' {
		sub, err := Parse(raw)
		if err != nil {
			return nil, failAt(ParseFailure, p.src, tok.Span, "bad message payload: %v", err)
		}
		payload = sub
	} else {
		payload = &LiteralNode{Val: Unescape(raw), span: tok.Span}
	}
	return &SendNode{
		Target:  target,
		Payload: payload,
		span:    Span{target.Span().Begin, tok.Span.End},
	}, nil
}
