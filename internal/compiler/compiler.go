// Package compiler turns construction plans into cached, invokable units. A unit is
// a tree of closures built once; plans larger than the unit budget are split into
// separately compiled sub-units that the parent calls.
package compiler

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// DefaultBudget is the default maximum estimated size of a single unit.
const DefaultBudget = 1024

type routine func(env Env, in reflect.Value) (reflect.Value, error)

// Unit is a compiled plan. Units are immutable and safe for concurrent use.
type Unit struct {
	ID       uint64
	Name     string
	Size     int
	Subunits []*Unit

	run routine
}

// Invoke runs the unit.
func (u *Unit) Invoke(env Env) (reflect.Value, error) {
	return u.run(env, reflect.Value{})
}

// InvokeWith runs the unit with in as its input value.
func (u *Unit) InvokeWith(env Env, in reflect.Value) (reflect.Value, error) {
	return u.run(env, in)
}

// Count returns the number of units in the tree rooted at u.
func (u *Unit) Count() int {
	n := 1
	for _, s := range u.Subunits {
		n += s.Count()
	}
	return n
}

// Stats is a snapshot of compiler activity.
type Stats struct {
	Cached   int
	Compiled uint64
	Splits   uint64
}

// Compiler compiles plans and caches the result per identity. Compilation is
// serialized; running compiled units takes no lock.
type Compiler struct {
	mu     sync.Mutex
	budget int
	units  map[any]*Unit
	seq    uint64
	log    *zap.Logger

	compiled uint64
	splits   uint64
}

// New creates a compiler. A non-positive budget selects DefaultBudget.
func New(budget int, log *zap.Logger) *Compiler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Compiler{
		budget: budget,
		units:  make(map[any]*Unit),
		log:    log,
	}
}

// Budget returns the unit size budget.
func (c *Compiler) Budget() int {
	return c.budget
}

// Compile returns the unit for id, compiling plan on the first request. Later
// requests for the same id return the cached unit and ignore plan.
func (c *Compiler) Compile(id any, name string, plan *Node) (*Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.units[id]; ok {
		return u, nil
	}

	u, err := c.build(name, plan.Clone())
	if err != nil {
		return nil, err
	}

	c.units[id] = u
	c.log.Debug("unit compiled",
		zap.String("unit", name),
		zap.Int("size", u.Size),
		zap.Int("subunits", u.Count()-1),
	)

	return u, nil
}

// Lookup returns the cached unit for id.
func (c *Compiler) Lookup(id any) (*Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.units[id]
	return u, ok
}

// Stats returns a snapshot of the compiler counters.
func (c *Compiler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Cached:   len(c.units),
		Compiled: c.compiled,
		Splits:   c.splits,
	}
}

func (c *Compiler) build(name string, root *Node) (*Unit, error) {
	var subs []*Unit
	for root.Size() > c.budget {
		idx := largestKid(root)
		if idx < 0 {
			return nil, CompilationError{
				Unit:   name,
				Reason: fmt.Sprintf("%s alone exceeds the unit budget of %d", root.label(), c.budget),
			}
		}

		kid := root.Kids[idx]
		sub, err := c.build(fmt.Sprintf("%s/%d", name, len(subs)+1), kid)
		if err != nil {
			return nil, err
		}

		c.splits++
		subs = append(subs, sub)
		root.Kids[idx] = &Node{Op: OpUnit, Name: sub.Name, Type: kid.Type, unit: sub}
	}

	c.seq++
	c.compiled++

	return &Unit{
		ID:       c.seq,
		Name:     name,
		Size:     root.Size(),
		Subunits: subs,
		run:      emit(root),
	}, nil
}

// largestKid returns the index of the biggest kid worth extracting, or -1.
func largestKid(n *Node) int {
	best, bestSize := -1, costSplice
	for i, k := range n.Kids {
		if k.Op == OpUnit {
			continue
		}
		if s := k.Size(); s > bestSize {
			best, bestSize = i, s
		}
	}
	return best
}

func emit(n *Node) routine {
	switch n.Op {
	case OpConst:
		v := n.Value
		return func(Env, reflect.Value) (reflect.Value, error) {
			return v, nil
		}

	case OpInput:
		return func(_ Env, in reflect.Value) (reflect.Value, error) {
			return in, nil
		}

	case OpNew:
		elem := n.Type.Elem()
		return func(Env, reflect.Value) (reflect.Value, error) {
			return reflect.New(elem), nil
		}

	case OpCall:
		args := emitAll(n.Kids)
		fn, site := n.Fn, n.label()
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			vals, err := evalAll(env, in, args)
			if err != nil {
				return reflect.Value{}, err
			}
			out, err := call(site, fn, vals)
			if err != nil {
				return reflect.Value{}, err
			}
			return out[0], nil
		}

	case OpInject:
		inst := emit(n.Kids[0])
		steps := emitAll(n.Kids[1:])
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			v, err := inst(env, in)
			if err != nil {
				return reflect.Value{}, err
			}
			for _, step := range steps {
				if _, err := step(env, v); err != nil {
					return reflect.Value{}, err
				}
			}
			return v, nil
		}

	case OpSetField:
		val := emit(n.Kids[0])
		path := n.Path
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			x, err := val(env, reflect.Value{})
			if err != nil {
				return reflect.Value{}, err
			}
			locate(in, path, false).Set(x)
			return in, nil
		}

	case OpInvoke:
		args := emitAll(n.Kids)
		fn, site, path := n.Fn, n.label(), n.Path
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			vals, err := evalAll(env, reflect.Value{}, args)
			if err != nil {
				return reflect.Value{}, err
			}
			recv := locate(in, path, true).Addr()
			if _, err := call(site, fn, append([]reflect.Value{recv}, vals...)); err != nil {
				return reflect.Value{}, err
			}
			return in, nil
		}

	case OpHook:
		args := emitAll(n.Kids)
		hook, site, user, typ := n.Hook, n.label(), n.User, n.Type
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			vals, err := evalAll(env, in, args)
			if err != nil {
				return reflect.Value{}, err
			}

			var out reflect.Value
			if user {
				out, err = guard(site, func() (reflect.Value, error) { return hook(env, in, vals) })
			} else {
				out, err = hook(env, in, vals)
			}
			if err != nil {
				return reflect.Value{}, err
			}
			return normalize(out, typ)
		}

	case OpConvert:
		kid, conv := emit(n.Kids[0]), n.convert
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			v, err := kid(env, in)
			if err != nil {
				return reflect.Value{}, err
			}
			return conv(v)
		}

	case OpDeref:
		kid := emit(n.Kids[0])
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			v, err := kid(env, in)
			if err != nil {
				return reflect.Value{}, err
			}
			return v.Elem(), nil
		}

	case OpLink:
		link := n.Link
		return func(env Env, _ reflect.Value) (reflect.Value, error) {
			return link.Invoke(env)
		}

	case OpInline:
		kid, enter := emit(n.Kids[0]), n.Enter
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			inner, leave, err := enter.Enter(env)
			if err != nil {
				return reflect.Value{}, err
			}
			defer leave()
			return kid(inner, in)
		}

	case OpUnit:
		u := n.unit
		return func(env Env, in reflect.Value) (reflect.Value, error) {
			return u.run(env, in)
		}
	}

	panic(fmt.Sprintf("compiler: unknown op %v", n.Op))
}

func emitAll(nodes []*Node) []routine {
	out := make([]routine, len(nodes))
	for i, n := range nodes {
		out[i] = emit(n)
	}
	return out
}

func evalAll(env Env, in reflect.Value, fns []routine) ([]reflect.Value, error) {
	if len(fns) == 0 {
		return nil, nil
	}

	vals := make([]reflect.Value, len(fns))
	for i, fn := range fns {
		v, err := fn(env, in)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// call invokes user code, turning a trailing error result or a panic into an
// InvocationError.
func call(site string, fn reflect.Value, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, InvocationError{Site: site, Panic: r, Stack: debug.Stack()}
		}
	}()

	out = fn.Call(args)
	if n := len(out); n > 0 && fn.Type().Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, InvocationError{Site: site, Err: e.Interface().(error)}
		}
	}
	return out, nil
}

func guard(site string, fn func() (reflect.Value, error)) (out reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = reflect.Value{}, InvocationError{Site: site, Panic: r, Stack: debug.Stack()}
		}
	}()

	out, err = fn()
	if err != nil {
		return reflect.Value{}, InvocationError{Site: site, Err: err}
	}
	return out, nil
}

// normalize makes v carry exactly typ, as produced by a hook.
func normalize(v reflect.Value, typ reflect.Type) (reflect.Value, error) {
	switch {
	case typ == nil:
		return v, nil
	case !v.IsValid():
		return reflect.Zero(typ), nil
	case v.Type() == typ:
		return v, nil
	case v.Type().AssignableTo(typ):
		return assign(typ)(v)
	}
	return reflect.Value{}, ConversionError{From: v.Type(), To: typ, Reason: "hook produced an incompatible value"}
}

// locate walks path from the struct in points to, allocating nil embedded
// pointers. Embedded fields of unexported types are traversed the way the
// language allows promoted access through them. With deref, a final pointer is
// followed so the result is the struct itself.
func locate(in reflect.Value, path []int, deref bool) reflect.Value {
	v := in
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	for _, i := range path {
		v = follow(v)
		sf := v.Type().Field(i)
		v = v.Field(i)
		if sf.Anonymous && !sf.IsExported() {
			v = reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
		}
	}

	if deref {
		v = follow(v)
	}
	return v
}

func follow(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Pointer {
		return v
	}
	if v.IsNil() {
		v.Set(reflect.New(v.Type().Elem()))
	}
	return v.Elem()
}
