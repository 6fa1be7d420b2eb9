package glang

import (
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaia-mud/gaia/pkg/world"
)

const (
	// DefaultDepthLimit bounds the interpreter call stack. Overridable
	// through the depth_limit attribute on #config.
	DefaultDepthLimit = 128

	// DefaultBudget is the wall-clock allowance per top-level invocation.
	DefaultBudget = 500 * time.Millisecond
)

// Env is the evaluation environment shared by all invocations: the world
// cache, output delivery, logging, and the interpreter bounds. One Env
// serves the whole server.
type Env struct {
	Cache *world.Cache

	// Deliver pushes text to whatever sink is attached to the object
	// (a session, usually). Used by send when the target defines no
	// on_message handler. May be nil.
	Deliver func(targetID, text string)

	// Logf receives output of the log builtin and interpreter warnings.
	Logf func(format string, args ...any)

	// ReadFile backs the load builtin. May be nil, which disables load.
	ReadFile func(path string) ([]byte, error)

	DepthLimit int
	Budget     time.Duration

	// Striped locks serializing on_message delivery per target. The
	// table is fixed-size, so it never grows with the set of targets;
	// unrelated targets sharing a stripe just serialize a little more.
	sendLocks [64]sync.Mutex
}

// NewEnv returns an Env with default bounds.
func NewEnv(cache *world.Cache) *Env {
	return &Env{
		Cache:      cache,
		DepthLimit: DefaultDepthLimit,
		Budget:     DefaultBudget,
	}
}

func (env *Env) sendLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &env.sendLocks[h.Sum32()%uint32(len(env.sendLocks))]
}

// frame is one lexical scope of variable bindings.
type frame struct {
	vars   map[string]world.Value
	parent *frame
}

func (f *frame) lookup(name string) (world.Value, bool) {
	for s := f; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (f *frame) define(name string, v world.Value) {
	f.vars[name] = v
}

// Context carries the state of one invocation chain: the three identity
// slots, the variable frame, the depth counter, the deadline, and the
// cooperative cancellation flag. Child contexts share the cancellation
// flag, the deadline, and the parse memo with their root.
type Context struct {
	Executor world.Ref
	Actor    world.Ref
	This     world.Ref
	Roles    []world.Role

	src       string
	frame     *frame
	depth     int
	deadline  time.Time
	cancelled *atomic.Bool
	memo      map[string]Node
}

// NewContext builds a root context for a top-level invocation. The budget
// clock starts now.
func (env *Env) NewContext(executor, actor, this world.Ref, roles []world.Role) *Context {
	ctx := &Context{
		Executor:  executor,
		Actor:     actor,
		This:      this,
		Roles:     roles,
		frame:     &frame{vars: make(map[string]world.Value)},
		deadline:  time.Now().Add(env.Budget),
		cancelled: &atomic.Bool{},
		memo:      make(map[string]Node),
	}
	ctx.frame.define("executor", executor)
	ctx.frame.define("actor", actor)
	ctx.frame.define("this", this)
	return ctx
}

// Cancel sets the cooperative cancellation flag; the running invocation
// unwinds with a timeout failure at its next evaluation step.
func (ctx *Context) Cancel() {
	ctx.cancelled.Store(true)
}

// HasRole reports whether the invocation chain carries the role.
func (ctx *Context) HasRole(r world.Role) bool {
	for _, have := range ctx.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// child derives a context for code running on a new executor. The frame
// starts fresh; identity slots are rebound in it.
func (ctx *Context) child(executor, this world.Ref, src string) *Context {
	c := &Context{
		Executor:  executor,
		Actor:     ctx.Actor,
		This:      this,
		Roles:     ctx.Roles,
		src:       src,
		frame:     &frame{vars: make(map[string]world.Value)},
		depth:     ctx.depth + 1,
		deadline:  ctx.deadline,
		cancelled: ctx.cancelled,
		memo:      ctx.memo,
	}
	c.frame.define("executor", executor)
	c.frame.define("actor", ctx.Actor)
	c.frame.define("this", this)
	return c
}

// scope derives a context sharing identity but with a nested frame, for
// callable values bound in the current scope.
func (ctx *Context) scope() *Context {
	c := *ctx
	c.frame = &frame{vars: make(map[string]world.Value), parent: ctx.frame}
	c.depth = ctx.depth + 1
	return &c
}

// parseNode parses src with per-invocation memoization, so tight loops
// re-executing the same attribute source do not re-parse it.
func (ctx *Context) parseNode(src string) (Node, error) {
	if n, ok := ctx.memo[src]; ok {
		return n, nil
	}
	n, err := Parse(src)
	if err != nil {
		return nil, err
	}
	ctx.memo[src] = n
	return n, nil
}

// returnSignal unwinds to the innermost attribute invocation.
type returnSignal struct {
	val world.Value
}

func (returnSignal) Error() string { return "return outside invocation" }

// EvalSource parses and evaluates a top-level G fragment.
func (env *Env) EvalSource(ctx *Context, src string) (world.Value, error) {
	ctx.src = src
	node, err := ctx.parseNode(src)
	if err != nil {
		return nil, err
	}
	v, err := env.eval(ctx, node)
	if rs, ok := err.(returnSignal); ok {
		return rs.val, nil
	}
	return v, err
}

// eval is the single evaluation entry point; the budget and cancellation
// flag are checked here so every call and loop iteration observes them.
func (env *Env) eval(ctx *Context, n Node) (world.Value, error) {
	if ctx.cancelled.Load() || time.Now().After(ctx.deadline) {
		ctx.cancelled.Store(true)
		return nil, failAt(Timeout, ctx.src, n.Span(), "evaluation budget exhausted")
	}

	switch node := n.(type) {
	case *LiteralNode:
		return node.Val, nil

	case *ObjectRefNode:
		return world.Ref(node.ID), nil

	case *SymbolNode:
		if v, ok := ctx.frame.lookup(node.Name); ok {
			return v, nil
		}
		// Unbound symbols in data position are their own name.
		return node.Name, nil

	case *AttrAccessNode:
		ref, err := env.evalRef(ctx, node.Target)
		if err != nil {
			return nil, err
		}
		v, ok, err := env.Cache.GetAttribute(string(ref), node.Attr)
		if err != nil {
			return nil, env.storeFailure(ctx, node, err)
		}
		if !ok {
			return nil, nil
		}
		return v, nil

	case *ExecNode:
		return env.evalExec(ctx, node, nil)

	case *SendNode:
		return env.evalSend(ctx, node)

	case *ListNode:
		return env.evalList(ctx, node)
	}
	return nil, failAt(ParseFailure, ctx.src, n.Span(), "unknown expression kind")
}

// evalRef evaluates a node that must yield an object handle.
func (env *Env) evalRef(ctx *Context, n Node) (world.Ref, error) {
	v, err := env.eval(ctx, n)
	if err != nil {
		return "", err
	}
	ref, ok := asRef(v)
	if !ok {
		return "", failAt(TypeCoercion, ctx.src, n.Span(), "%s is not an object reference", world.ToString(v))
	}
	return ref, nil
}

func asRef(v world.Value) (world.Ref, bool) {
	switch t := v.(type) {
	case world.Ref:
		return t, true
	case string:
		if strings.HasPrefix(t, "#") && len(t) > 1 {
			return world.Ref(t), true
		}
	}
	return "", false
}

// evalList applies the head-position rules.
func (env *Env) evalList(ctx *Context, n *ListNode) (world.Value, error) {
	if len(n.Elems) == 0 {
		return world.List{}, nil
	}

	switch head := n.Elems[0].(type) {
	case *SymbolNode:
		if sf, ok := specialForms[head.Name]; ok {
			return sf(env, ctx, n)
		}
		if b, ok := builtins[head.Name]; ok {
			args, err := env.evalArgs(ctx, n.Elems[1:])
			if err != nil {
				return nil, err
			}
			return b.fn(env, ctx, n, args)
		}
		if bound, ok := ctx.frame.lookup(head.Name); ok {
			args, err := env.evalArgs(ctx, n.Elems[1:])
			if err != nil {
				return nil, err
			}
			return env.applyValue(ctx, n, bound, args)
		}
		return nil, failAt(UnresolvedCallee, ctx.src, n.Span(), "%s", head.Name)

	case *ExecNode:
		args, err := env.evalArgs(ctx, n.Elems[1:])
		if err != nil {
			return nil, err
		}
		return env.evalExec(ctx, head, args)

	case *AttrAccessNode:
		args, err := env.evalArgs(ctx, n.Elems[1:])
		if err != nil {
			return nil, err
		}
		ref, err := env.evalRef(ctx, head.Target)
		if err != nil {
			return nil, err
		}
		return env.Invoke(ctx, ref, head.Attr, args)

	case *ObjectRefNode:
		args, err := env.evalArgs(ctx, n.Elems[1:])
		if err != nil {
			return nil, err
		}
		return env.Invoke(ctx, world.Ref(head.ID), "run", args)
	}

	// Anything else in head position makes the list implicit data.
	elems, err := env.evalArgs(ctx, n.Elems)
	if err != nil {
		return nil, err
	}
	return world.List(elems), nil
}

func (env *Env) evalArgs(ctx *Context, nodes []Node) ([]world.Value, error) {
	args := make([]world.Value, 0, len(nodes))
	for _, a := range nodes {
		v, err := env.eval(ctx, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// evalExec handles the three execution forms.
func (env *Env) evalExec(ctx *Context, n *ExecNode, args []world.Value) (world.Value, error) {
	if n.VarName != "" {
		v, ok := ctx.frame.lookup(n.VarName)
		if !ok {
			return nil, failAt(NotFound, ctx.src, n.Span(), "variable %s is unbound", n.VarName)
		}
		if ref, isRef := asRef(v); isRef {
			if n.Attr == "" && len(args) == 0 {
				return ref, nil
			}
			attr := n.Attr
			if attr == "" {
				attr = "run"
			}
			return env.Invoke(ctx, ref, attr, args)
		}
		if src, isStr := v.(string); isStr {
			return env.evalSourceIn(ctx, src, ctx.Executor, ctx.This, args)
		}
		// A non-source, non-handle value executes to itself.
		return v, nil
	}

	ref, err := env.evalRef(ctx, n.Target)
	if err != nil {
		return nil, err
	}
	attr := n.Attr
	if attr == "" {
		attr = "run"
	}
	return env.Invoke(ctx, ref, attr, args)
}

// evalSend delivers a payload to the target's on_message handler, or to
// the attached output sink when no handler resolves.
func (env *Env) evalSend(ctx *Context, n *SendNode) (world.Value, error) {
	ref, err := env.evalRef(ctx, n.Target)
	if err != nil {
		return nil, err
	}

	var payload world.Value
	switch p := n.Payload.(type) {
	case *LiteralNode:
		payload = p.Val
	case *ExecNode:
		sub := ctx.child(ctx.Executor, ref, ctx.src)
		payload, err = env.eval(sub, p)
		if err != nil {
			return nil, err
		}
	default:
		payload, err = env.eval(ctx, n.Payload)
		if err != nil {
			return nil, err
		}
	}
	return nil, env.Send(ctx, ref, payload)
}

// Send implements the message contract: an on_message attribute resolved
// through inheritance intercepts delivery; otherwise the payload goes to
// the object's output sink verbatim. Deliveries to one target are
// serialized.
func (env *Env) Send(ctx *Context, target world.Ref, payload world.Value) error {
	src, ok, err := env.Cache.GetAttribute(string(target), "on_message")
	if err != nil {
		if env.Logf != nil {
			env.Logf("glang: send to %s: %v", target, err)
		}
		return nil
	}
	if !ok || src == nil {
		if env.Deliver != nil {
			env.Deliver(string(target), world.ToString(payload))
		}
		return nil
	}

	mu := env.sendLock(string(target))
	mu.Lock()
	defer mu.Unlock()
	_, err = env.Invoke(ctx, target, "on_message", []world.Value{payload})
	return err
}

// Invoke runs the G source stored at (ref, attr) in a child context with
// executor=this=ref. A non-source attribute value is returned as-is.
func (env *Env) Invoke(ctx *Context, ref world.Ref, attr string, args []world.Value) (world.Value, error) {
	limit := env.DepthLimit
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if ctx.depth+1 > limit {
		return nil, failAt(DepthLimit, ctx.src, Span{}, "call depth exceeds %d", limit)
	}

	v, ok, err := env.Cache.GetAttribute(string(ref), attr)
	if err != nil {
		return nil, env.storeFailure(ctx, nil, err)
	}
	if !ok {
		return nil, &Failure{Kind: NotFound, Reason: "object " + string(ref) + " has no attribute " + attr}
	}
	src, isSource := v.(string)
	if !isSource {
		return v, nil
	}

	node, err := ctx.parseNode(src)
	if err != nil {
		return nil, err
	}
	child := ctx.child(ref, ref, src)
	bindArgs(child, args)
	res, err := env.eval(child, node)
	if rs, isReturn := err.(returnSignal); isReturn {
		return rs.val, nil
	}
	return res, err
}

// evalSourceIn evaluates stored G source in a fresh child context without
// changing the executor, for the @var form and bound callables.
func (env *Env) evalSourceIn(ctx *Context, src string, executor, this world.Ref, args []world.Value) (world.Value, error) {
	limit := env.DepthLimit
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if ctx.depth+1 > limit {
		return nil, failAt(DepthLimit, ctx.src, Span{}, "call depth exceeds %d", limit)
	}
	node, err := ctx.parseNode(src)
	if err != nil {
		return nil, err
	}
	child := ctx.child(executor, this, src)
	bindArgs(child, args)
	res, err := env.eval(child, node)
	if rs, isReturn := err.(returnSignal); isReturn {
		return rs.val, nil
	}
	return res, err
}

// applyValue calls a value bound in the variable frame. Handles invoke
// their run attribute; source strings evaluate in a nested scope that can
// still see the defining frame, so self-referencing definitions recurse.
func (env *Env) applyValue(ctx *Context, call *ListNode, v world.Value, args []world.Value) (world.Value, error) {
	if ref, ok := asRef(v); ok {
		return env.Invoke(ctx, ref, "run", args)
	}
	src, ok := v.(string)
	if !ok {
		return nil, failAt(TypeCoercion, ctx.src, call.Span(), "%s is not callable", world.ToString(v))
	}

	limit := env.DepthLimit
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if ctx.depth+1 > limit {
		return nil, failAt(DepthLimit, ctx.src, call.Span(), "call depth exceeds %d", limit)
	}
	node, err := ctx.parseNode(src)
	if err != nil {
		return nil, err
	}
	child := ctx.scope()
	child.src = src
	bindArgs(child, args)
	res, err := env.eval(child, node)
	if rs, isReturn := err.(returnSignal); isReturn {
		return rs.val, nil
	}
	return res, err
}

// bindArgs exposes call arguments as the args list plus positional slots.
func bindArgs(ctx *Context, args []world.Value) {
	ctx.frame.define("args", world.List(args))
	for i, a := range args {
		ctx.frame.define("arg"+strconv.Itoa(i), a)
	}
}

// storeFailure translates cache errors into G failures.
func (env *Env) storeFailure(ctx *Context, n Node, err error) error {
	span := Span{}
	if n != nil {
		span = n.Span()
	}
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return failAt(NotFound, ctx.src, span, "%v", err)
	case isConflict(err):
		return failAt(StoreConflict, ctx.src, span, "%v", err)
	}
	return failAt(StoreConflict, ctx.src, span, "%v", err)
}

func isNotFound(err error) bool { return errors.Is(err, world.ErrNotFound) }
func isConflict(err error) bool { return errors.Is(err, world.ErrConflict) }
