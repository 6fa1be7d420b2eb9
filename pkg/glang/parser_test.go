package glang

import (
	"errors"
	"strings"
	"testing"
)

// reparse is the canonical-form helper: two programs are structurally equal
// iff their reparsed unparse forms match. Spans differ between passes, so
// trees are compared through their rendered source.
func reparse(t *testing.T, src string) string {
	t.Helper()
	n, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return Unparse(n)
}

func TestParserIdempotence(t *testing.T) {
	programs := []string{
		`[+ 1 2]`,
		`[concat "a b" "c"]`,
		`[if [equals x 1] "one" "other"]`,
		`[get_attr #room:lobby "description"]`,
		`#player.name`,
		`@#door.open`,
		`@handler`,
		`#room"hello there"`,
		`#room"@this.describe"`,
		`[send @actor [get_attr @executor "description"]]`,
		`[list 1 -2 3.5 true null "x"]`,
		`[a [b [c d]] e]`,
		`[]`,
	}
	for _, p := range programs {
		once := reparse(t, p)
		twice := reparse(t, once)
		if once != twice {
			t.Errorf("reparse of %q unstable: %q then %q", p, once, twice)
		}
	}
}

func TestCommaSpaceEquivalence(t *testing.T) {
	want := reparse(t, `[a b c]`)
	for _, p := range []string{`[a, b, c]`, `[a,,b,,,c]`, `[ a , b , c ]`} {
		if got := reparse(t, p); got != want {
			t.Errorf("parse %q = %q, want %q", p, got, want)
		}
	}
}

func TestEmptyStringIsRealElement(t *testing.T) {
	n, err := Parse(`[a,b,"",c]`)
	if err != nil {
		t.Fatal(err)
	}
	list, ok := n.(*ListNode)
	if !ok {
		t.Fatalf("got %T, want list", n)
	}
	if len(list.Elems) != 4 {
		t.Fatalf("got %d elements, want 4", len(list.Elems))
	}
	lit, ok := list.Elems[2].(*LiteralNode)
	if !ok || lit.Val != "" {
		t.Errorf("third element = %#v, want empty string literal", list.Elems[2])
	}
}

func TestStringLiteralVersusMessageOperator(t *testing.T) {
	// In argument position the quote opens a string literal.
	n, err := Parse(`[log "hi"]`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*ListNode).Elems[1].(*LiteralNode); !ok {
		t.Errorf("expected string literal argument, got %T", n.(*ListNode).Elems[1])
	}

	// Immediately after a send target it is the message operator.
	n, err = Parse(`#room"hi"`)
	if err != nil {
		t.Fatal(err)
	}
	send, ok := n.(*SendNode)
	if !ok {
		t.Fatalf("got %T, want send", n)
	}
	if ref, ok := send.Target.(*ObjectRefNode); !ok || ref.ID != "#room" {
		t.Errorf("send target = %#v", send.Target)
	}

	// A separating space turns it back into a literal, which is then a
	// trailing token and a parse failure at top level.
	if _, err := Parse(`#room "hi"`); err == nil {
		t.Error("expected failure for detached quote after reference")
	}
}

func TestSendPayloadExecution(t *testing.T) {
	n, err := Parse(`#room"@this.describe"`)
	if err != nil {
		t.Fatal(err)
	}
	send := n.(*SendNode)
	exec, ok := send.Payload.(*ExecNode)
	if !ok {
		t.Fatalf("payload = %T, want execution", send.Payload)
	}
	if exec.VarName != "this" || exec.Attr != "describe" {
		t.Errorf("payload = @%s.%s", exec.VarName, exec.Attr)
	}
}

func TestExecutionForms(t *testing.T) {
	n, err := Parse(`@#clock`)
	if err != nil {
		t.Fatal(err)
	}
	exec := n.(*ExecNode)
	if exec.Attr != "" || exec.VarName != "" {
		t.Errorf("bare execution should target run: %#v", exec)
	}

	n, err = Parse(`@#clock.advance`)
	if err != nil {
		t.Fatal(err)
	}
	if exec := n.(*ExecNode); exec.Attr != "advance" {
		t.Errorf("attr = %q, want advance", exec.Attr)
	}

	n, err = Parse(`@handler`)
	if err != nil {
		t.Fatal(err)
	}
	if exec := n.(*ExecNode); exec.VarName != "handler" {
		t.Errorf("var = %q, want handler", exec.VarName)
	}
}

func TestObjectRefNamespace(t *testing.T) {
	n, err := Parse(`#core:config`)
	if err != nil {
		t.Fatal(err)
	}
	if ref := n.(*ObjectRefNode); ref.ID != "#core:config" {
		t.Errorf("ref = %q", ref.ID)
	}
}

func TestLineComments(t *testing.T) {
	got := reparse(t, "[+ 1 // add them\n 2]")
	if got != reparse(t, `[+ 1 2]`) {
		t.Errorf("comment changed parse: %q", got)
	}
}

func TestParseFailures(t *testing.T) {
	cases := []string{
		`[unterminated`,
		`"unterminated`,
		`#`,
		`[a] trailing`,
		`@`,
	}
	for _, src := range cases {
		_, err := Parse(src)
		if err == nil {
			t.Errorf("parse %q: expected failure", src)
			continue
		}
		var f *Failure
		if !errors.As(err, &f) || f.Kind != ParseFailure {
			t.Errorf("parse %q: got %v, want parse failure", src, err)
		}
	}
}

func TestFailureDiagnosticQuotesSource(t *testing.T) {
	src := `[a] trailing`
	_, err := Parse(src)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "trailing") {
		t.Errorf("diagnostic %q does not quote the failing span", err)
	}
}
