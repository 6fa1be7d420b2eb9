package glang

import (
	"strings"

	"github.com/gaia-mud/gaia/pkg/world"
)

// specialForm receives its call node unevaluated and applies its own
// evaluation rule.
type specialForm func(env *Env, ctx *Context, call *ListNode) (world.Value, error)

// builtin is an ordinary function: arguments arrive evaluated.
type builtin struct {
	name string
	fn   func(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error)
}

var specialForms map[string]specialForm
var builtins map[string]builtin

func init() {
	specialForms = map[string]specialForm{
		"if":     sfIf,
		"define": sfDefine,
		"return": sfReturn,
		"and":    sfAnd,
		"or":     sfOr,
		"quote":  sfQuote,
	}

	builtins = make(map[string]builtin)
	for _, b := range []builtin{
		{"log", bLog},
		{"+", bAdd},
		{"-", bSub},
		{"*", bMul},
		{"/", bDiv},
		{"mod", bMod},
		{"equals", bEquals},
		{"not", bNot},
		{"<", cmp(func(a, b float64) bool { return a < b })},
		{">", cmp(func(a, b float64) bool { return a > b })},
		{"<=", cmp(func(a, b float64) bool { return a <= b })},
		{">=", cmp(func(a, b float64) bool { return a >= b })},
		{"concat", bConcat},
		{"strlen", bStrlen},
		{"substr", bSubstr},
		{"list", bList},
		{"listlength", bListLength},
		{"nth", bNth},
		{"append", bAppend},
		{"get_attr", bGetAttr},
		{"set_attr", bSetAttr},
		{"get_object", bGetObject},
		{"send", bSend},
		{"load", bLoad},
	} {
		builtins[b.name] = b
	}
}

// --- special forms ---

func sfIf(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	if len(call.Elems) < 3 || len(call.Elems) > 4 {
		return nil, arityFail(ctx, call, "if", "condition, then branch and optional else branch")
	}
	cond, err := env.eval(ctx, call.Elems[1])
	if err != nil {
		return nil, err
	}
	if world.Truthy(cond) {
		return env.eval(ctx, call.Elems[2])
	}
	if len(call.Elems) == 4 {
		return env.eval(ctx, call.Elems[3])
	}
	return nil, nil
}

func sfDefine(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	if len(call.Elems) != 3 {
		return nil, arityFail(ctx, call, "define", "a name and a value")
	}
	sym, ok := call.Elems[1].(*SymbolNode)
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[1].Span(), "define needs a symbol name")
	}
	v, err := env.eval(ctx, call.Elems[2])
	if err != nil {
		return nil, err
	}
	ctx.frame.define(sym.Name, v)
	return v, nil
}

func sfReturn(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	if len(call.Elems) > 2 {
		return nil, arityFail(ctx, call, "return", "at most one value")
	}
	var v world.Value
	if len(call.Elems) == 2 {
		var err error
		v, err = env.eval(ctx, call.Elems[1])
		if err != nil {
			return nil, err
		}
	}
	return nil, returnSignal{val: v}
}

func sfAnd(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	var last world.Value = true
	for _, e := range call.Elems[1:] {
		v, err := env.eval(ctx, e)
		if err != nil {
			return nil, err
		}
		if !world.Truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func sfOr(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	for _, e := range call.Elems[1:] {
		v, err := env.eval(ctx, e)
		if err != nil {
			return nil, err
		}
		if world.Truthy(v) {
			return v, nil
		}
	}
	return nil, nil
}

// quote returns its argument as source text, so quoted code can be bound
// to a variable and executed later via @var.
func sfQuote(env *Env, ctx *Context, call *ListNode) (world.Value, error) {
	if len(call.Elems) != 2 {
		return nil, arityFail(ctx, call, "quote", "exactly one expression")
	}
	return Unparse(call.Elems[1]), nil
}

// --- builtins ---

func bLog(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = world.ToString(a)
	}
	if env.Logf != nil {
		env.Logf("glang: %s: %s", ctx.Executor, strings.Join(parts, " "))
	}
	return nil, nil
}

func bAdd(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	acc := 0.0
	for i, a := range args {
		n, err := numArg(ctx, call.Elems[i+1], a)
		if err != nil {
			return nil, err
		}
		acc += n
	}
	return acc, nil
}

func bSub(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) == 0 {
		return nil, arityFail(ctx, call, "-", "at least one number")
	}
	first, err := numArg(ctx, call.Elems[1], args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return -first, nil
	}
	acc := first
	for i, a := range args[1:] {
		n, err := numArg(ctx, call.Elems[i+2], a)
		if err != nil {
			return nil, err
		}
		acc -= n
	}
	return acc, nil
}

func bMul(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	acc := 1.0
	for i, a := range args {
		n, err := numArg(ctx, call.Elems[i+1], a)
		if err != nil {
			return nil, err
		}
		acc *= n
	}
	return acc, nil
}

func bDiv(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) < 2 {
		return nil, arityFail(ctx, call, "/", "at least two numbers")
	}
	acc, err := numArg(ctx, call.Elems[1], args[0])
	if err != nil {
		return nil, err
	}
	for i, a := range args[1:] {
		n, err := numArg(ctx, call.Elems[i+2], a)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, failAt(TypeCoercion, ctx.src, call.Span(), "division by zero")
		}
		acc /= n
	}
	return acc, nil
}

func bMod(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "mod", "two numbers")
	}
	a, err := numArg(ctx, call.Elems[1], args[0])
	if err != nil {
		return nil, err
	}
	b, err := numArg(ctx, call.Elems[2], args[1])
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, failAt(TypeCoercion, ctx.src, call.Span(), "division by zero")
	}
	return float64(int64(a) % int64(b)), nil
}

func bEquals(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "equals", "two values")
	}
	return world.Equal(args[0], args[1]), nil
}

func bNot(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 1 {
		return nil, arityFail(ctx, call, "not", "one value")
	}
	return !world.Truthy(args[0]), nil
}

func cmp(rel func(a, b float64) bool) func(*Env, *Context, *ListNode, []world.Value) (world.Value, error) {
	return func(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
		if len(args) != 2 {
			return nil, arityFail(ctx, call, call.Elems[0].(*SymbolNode).Name, "two numbers")
		}
		a, err := numArg(ctx, call.Elems[1], args[0])
		if err != nil {
			return nil, err
		}
		b, err := numArg(ctx, call.Elems[2], args[1])
		if err != nil {
			return nil, err
		}
		return rel(a, b), nil
	}
}

func bConcat(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(world.ToString(a))
	}
	return sb.String(), nil
}

func bStrlen(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 1 {
		return nil, arityFail(ctx, call, "strlen", "one string")
	}
	return float64(len([]rune(world.ToString(args[0])))), nil
}

func bSubstr(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, arityFail(ctx, call, "substr", "a string, a start index and an optional end index")
	}
	runes := []rune(world.ToString(args[0]))
	begin := int(world.ToNumber(args[1]))
	end := len(runes)
	if len(args) == 3 {
		end = int(world.ToNumber(args[2]))
	}
	if begin < 0 {
		begin = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if begin >= end {
		return "", nil
	}
	return string(runes[begin:end]), nil
}

func bList(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	return world.List(args), nil
}

func bListLength(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 1 {
		return nil, arityFail(ctx, call, "listlength", "one value")
	}
	return float64(len(coerceList(args[0]))), nil
}

func bNth(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "nth", "a list and an index")
	}
	l := coerceList(args[0])
	i := int(world.ToNumber(args[1]))
	if i < 0 || i >= len(l) {
		return nil, nil
	}
	return l[i], nil
}

func bAppend(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "append", "a list and a value")
	}
	l := coerceList(args[0])
	out := make(world.List, len(l), len(l)+1)
	copy(out, l)
	return append(out, args[1]), nil
}

func bGetAttr(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "get_attr", "an object and an attribute name")
	}
	ref, ok := asRef(args[0])
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[1].Span(), "%s is not an object reference", world.ToString(args[0]))
	}
	v, found, err := env.Cache.GetAttribute(string(ref), world.ToString(args[1]))
	if err != nil {
		return nil, env.storeFailure(ctx, call, err)
	}
	if !found {
		return nil, nil
	}
	return v, nil
}

func bSetAttr(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 3 {
		return nil, arityFail(ctx, call, "set_attr", "an object, an attribute name and a value")
	}
	ref, ok := asRef(args[0])
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[1].Span(), "%s is not an object reference", world.ToString(args[0]))
	}
	if err := env.checkWrite(ctx, ref); err != nil {
		return nil, failAt(Permission, ctx.src, call.Span(), "%v", err)
	}
	name := world.ToString(args[1])
	if err := env.Cache.SetAttribute(string(ref), name, args[2]); err != nil {
		return nil, env.storeFailure(ctx, call, err)
	}
	return args[2], nil
}

func bGetObject(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 1 {
		return nil, arityFail(ctx, call, "get_object", "one object reference")
	}
	ref, ok := asRef(args[0])
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[1].Span(), "%s is not an object reference", world.ToString(args[0]))
	}
	if _, err := env.Cache.Get(string(ref)); err != nil {
		return nil, env.storeFailure(ctx, call, err)
	}
	return ref, nil
}

func bSend(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) != 2 {
		return nil, arityFail(ctx, call, "send", "a target and a payload")
	}
	ref, ok := asRef(args[0])
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[1].Span(), "%s is not an object reference", world.ToString(args[0]))
	}
	return nil, env.Send(ctx, ref, args[1])
}

func bLoad(env *Env, ctx *Context, call *ListNode, args []world.Value) (world.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, arityFail(ctx, call, "load", "a path, an object and an optional attribute name")
	}
	if !ctx.HasRole(world.RoleAdmin) {
		return nil, failAt(Permission, ctx.src, call.Span(), "load requires the admin role")
	}
	if env.ReadFile == nil {
		return nil, failAt(Permission, ctx.src, call.Span(), "load is not available")
	}
	ref, ok := asRef(args[1])
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Elems[2].Span(), "%s is not an object reference", world.ToString(args[1]))
	}
	src, err := env.ReadFile(world.ToString(args[0]))
	if err != nil {
		return nil, failAt(NotFound, ctx.src, call.Span(), "%v", err)
	}
	attr := "run"
	if len(args) == 3 {
		attr = world.ToString(args[2])
	}
	if err := env.Cache.SetAttribute(string(ref), attr, string(src)); err != nil {
		return nil, env.storeFailure(ctx, call, err)
	}
	return nil, nil
}

// --- helpers ---

// checkWrite enforces attribute-write permissions: builder and above write
// anywhere; a plain player writes only to itself and objects it owns.
func (env *Env) checkWrite(ctx *Context, target world.Ref) error {
	if ctx.HasRole(world.RoleAdmin) || ctx.HasRole(world.RoleWizard) || ctx.HasRole(world.RoleBuilder) {
		return nil
	}
	if target == ctx.Actor {
		return nil
	}
	obj, err := env.Cache.Get(string(target))
	if err != nil {
		return err
	}
	if obj.OwnerID != "" && world.Ref(obj.OwnerID) == ctx.Actor {
		return nil
	}
	return &Failure{Kind: Permission, Reason: "cannot write attributes on " + string(target)}
}

// numArg coerces a numeric builtin argument: numbers pass through, strings
// and booleans coerce by the parse-decimal-else-0 rule, composite values
// fail.
func numArg(ctx *Context, node Node, v world.Value) (float64, error) {
	switch v.(type) {
	case world.List, world.Dict, world.Ref:
		return 0, failAt(TypeCoercion, ctx.src, node.Span(), "%s is not a number", world.ToString(v))
	}
	return world.ToNumber(v), nil
}

// coerceList applies the list-as-string rule: a list stays a list; a
// string is parsed as G data, so "[a b c]" has three elements while a
// non-list string is a single element.
func coerceList(v world.Value) world.List {
	switch t := v.(type) {
	case world.List:
		return t
	case nil:
		return world.List{}
	case string:
		n, err := Parse(t)
		if err != nil {
			return world.List{v}
		}
		ln, ok := n.(*ListNode)
		if !ok {
			return world.List{v}
		}
		out := make(world.List, 0, len(ln.Elems))
		for _, e := range ln.Elems {
			out = append(out, nodeToData(e))
		}
		return out
	}
	return world.List{v}
}

// nodeToData converts a parse tree to plain data without call semantics.
func nodeToData(n Node) world.Value {
	switch t := n.(type) {
	case *LiteralNode:
		return t.Val
	case *SymbolNode:
		return t.Name
	case *ObjectRefNode:
		return world.Ref(t.ID)
	case *ListNode:
		out := make(world.List, 0, len(t.Elems))
		for _, e := range t.Elems {
			out = append(out, nodeToData(e))
		}
		return out
	}
	return Unparse(n)
}

func arityFail(ctx *Context, call *ListNode, name, want string) error {
	return failAt(TypeCoercion, ctx.src, call.Span(), "%s expects %s", name, want)
}
