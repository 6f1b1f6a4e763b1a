package kiln

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strconv"

	"github.com/junioryono/kiln/internal/compiler"
	"github.com/junioryono/kiln/internal/graph"
	"github.com/junioryono/kiln/internal/hierarchy"
	"github.com/junioryono/kiln/internal/reflection"
	"go.uber.org/zap"
)

// assembly is one pass of recipe assembly. It runs under the injector's
// assembly lock; stack holds the bindings being assembled, outermost first.
type assembly struct {
	inj   *Injector
	stack []*Binding
	deps  [][]Key
}

// ready makes b's recipe assembled and compiled.
func (inj *Injector) ready(b *Binding) error {
	if b.Ready() {
		return nil
	}

	unlock, err := inj.lockAssembly(b.key)
	if err != nil {
		return err
	}
	defer unlock()

	a := &assembly{inj: inj}
	return a.ensure(b)
}

// lockAssembly takes the assembly lock. A rule asking the injector for an
// unassembled key runs on the goroutine already holding it; that request fails
// instead of waiting on itself.
func (inj *Injector) lockAssembly(k Key) (func(), error) {
	gid := goroutineID()
	if !inj.assemblyMu.TryLock() {
		if inj.assembler.Load() == gid {
			return nil, AssemblyReentrantError{Key: k}
		}
		inj.assemblyMu.Lock()
	}
	inj.assembler.Store(gid)

	return func() {
		inj.assembler.Store(0)
		inj.assemblyMu.Unlock()
	}, nil
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's ID from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(id, ' '); i > 0 {
		id = id[:i]
	}
	v, _ := strconv.ParseUint(string(id), 10, 64)
	return v
}

func (a *assembly) keys() []Key {
	keys := make([]Key, len(a.stack))
	for i, b := range a.stack {
		keys[i] = b.key
	}
	return keys
}

func (a *assembly) ensure(b *Binding) error {
	switch b.state.Load() {
	case ready:
		return nil
	case failed:
		return b.err
	case assembling:
		return RecursiveRecipeCreationError{Chain: append(a.keys(), b.key)}
	}

	b.state.Store(assembling)
	a.stack = append(a.stack, b)
	a.deps = append(a.deps, nil)

	err := a.assemble(b)

	deps := a.deps[len(a.deps)-1]
	chain := a.keys()
	a.stack = a.stack[:len(a.stack)-1]
	a.deps = a.deps[:len(a.deps)-1]

	if err != nil {
		var root *Error
		if !errors.As(err, &root) {
			err = &Error{Op: "assemble", Key: b.key, Chain: chain, Err: err}
		}
		a.inj.abandon(b, err)
		return err
	}

	b.recipe.Dependencies = deps
	b.state.Store(ready)

	nodes := make([]graph.NodeKey, len(deps))
	for i, k := range deps {
		nodes[i] = k.node()
	}
	if err := a.inj.graph.Add(b.key.node(), b, nodes); err != nil {
		a.inj.log.Warn("dependency graph rejected binding", zap.Stringer("key", b.key), zap.Error(err))
	}
	return nil
}

// abandon records a failed assembly. Static bindings keep the failure; derived
// bindings return to unassembled so the next request tries again.
func (inj *Injector) abandon(b *Binding, err error) {
	inj.log.Debug("assembly failed", zap.Stringer("key", b.key), zap.Error(err))

	b.recipe, b.unit, b.scope, b.provide = nil, nil, nil, nil
	if b.kind == StaticKind {
		b.err = err
		b.state.Store(failed)
		return
	}
	b.state.Store(unassembled)
}

func (a *assembly) assemble(b *Binding) error {
	inj := a.inj

	plan, typ, inst, err := a.instantiate(b)
	if err != nil {
		return err
	}

	r := &Recipe{Key: b.key, Type: typ, Instantiator: inst, binding: b}
	if b.target.members() {
		if plan, err = a.injectMembers(plan, typ, r); err != nil {
			return err
		}
		if plan, err = a.listen(plan, typ, r); err != nil {
			return err
		}
	}

	scope, err := a.scope(b, typ)
	if err != nil {
		return err
	}

	if plan, err = compiler.Convert(plan, b.key.Type); err != nil {
		return err
	}

	before := inj.compiler.Stats()
	unit, err := inj.compiler.Compile(b, b.name, plan)
	if err != nil {
		return err
	}
	after := inj.compiler.Stats()
	inj.metrics.units.Add(float64(after.Compiled - before.Compiled))
	inj.metrics.splits.Add(float64(after.Splits - before.Splits))

	r.Scope = scope
	r.plan = plan
	b.recipe, b.unit, b.scope = r, unit, scope
	b.provide = scope.Scope(b, b.construct)

	inj.metrics.recipes.Inc()
	inj.log.Debug("recipe assembled",
		zap.Stringer("key", b.key),
		zap.String("binding", b.name),
		zap.String("scope", scope.Name()),
		zap.Int("size", unit.Size),
		zap.Int("units", unit.Count()),
	)
	return nil
}

// instantiate returns the plan producing the binding's raw instance, its type
// and a name for the instantiator.
func (a *assembly) instantiate(b *Binding) (*compiler.Node, reflect.Type, string, error) {
	t := b.target

	switch t.kind {
	case constructorTarget:
		info, err := a.inj.analyzer.Analyze(t.ctor)
		if err != nil {
			return nil, nil, "", InvalidBindingError{Binding: b.name, Cause: err}
		}
		n, err := a.call(info)
		return n, info.Result, info.Name, err

	case instanceTarget:
		return compiler.Const(t.value), t.typ, t.name, nil

	case linkTarget:
		n, err := a.dependency(t.key, false)
		return n, t.key.Type, t.name, err

	case factoryTarget:
		n, err := a.factory(t)
		return n, t.typ, t.name, err

	case providerTarget:
		n, err := a.provider(b)
		return n, t.typ, t.name, err

	case injectorTarget:
		return compiler.Const(reflect.ValueOf(a.inj)), injectorType, t.name, nil

	case contextTarget:
		return &compiler.Node{Op: compiler.OpHook, Name: "context", Type: contextType, Hook: contextHook}, contextType, t.name, nil

	case jitTarget:
		return a.selectInstantiator(b)
	}

	return nil, nil, "", InvalidBindingError{Binding: b.name, Cause: fmt.Errorf("unknown target kind %d", t.kind)}
}

// contextHook yields the context of the construction asking for it.
func contextHook(env compiler.Env, _ reflect.Value, _ []reflect.Value) (reflect.Value, error) {
	f := env.(*Frame)
	if f.parent != nil {
		f = f.parent
	}
	return reflect.ValueOf(f.Context()), nil
}

// selectInstantiator picks the highest-priority candidate for a derived binding.
func (a *assembly) selectInstantiator(b *Binding) (*compiler.Node, reflect.Type, string, error) {
	typ := b.target.typ

	var (
		best     []Candidate
		priority int
	)
	for _, c := range a.inj.candidates(typ) {
		p, ok := a.prioritize(c)
		switch {
		case !ok:
		case len(best) == 0 || p > priority:
			best, priority = []Candidate{c}, p
		case p == priority:
			best = append(best, c)
		}
	}

	switch {
	case len(best) == 0:
		return nil, nil, "", NoConstructorError{Type: typ}
	case len(best) > 1:
		names := make([]string, len(best))
		for i, c := range best {
			names[i] = c.Name
		}
		return nil, nil, "", AmbiguousConstructorError{Type: typ, Priority: priority, Candidates: names}
	}

	c := best[0]
	if c.Zero() {
		return &compiler.Node{Op: compiler.OpNew, Name: c.Name, Type: typ}, typ, c.Name, nil
	}

	n, err := a.call(c.info)
	return n, typ, c.Name, err
}

// prioritize asks the instantiator rules in order; the first accepting rule
// sets the priority.
func (a *assembly) prioritize(c Candidate) (int, bool) {
	for _, rule := range a.inj.rules.Instantiators {
		if p, ok := rule(c); ok {
			return p, true
		}
	}
	return 0, false
}

// call plans a constructor call with every parameter resolved now.
func (a *assembly) call(info *reflection.ConstructorInfo) (*compiler.Node, error) {
	n := &compiler.Node{
		Op:   compiler.OpCall,
		Name: info.Name,
		Type: info.Result,
		Fn:   info.Value,
		User: true,
	}

	if info.IsParamObject {
		obj, err := a.paramObject(info)
		if err != nil {
			return nil, err
		}
		n.Kids = []*compiler.Node{obj}
		return n, nil
	}

	for _, p := range info.Parameters {
		k := a.key(p.Type, InjectionPoint{Owner: info.Result, Member: info.Name, Index: p.Index})
		dep, err := a.dependency(k, false)
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, dep)
	}
	return n, nil
}

// paramObject plans an In struct: allocate, set each field, and dereference
// when the constructor takes it by value.
func (a *assembly) paramObject(info *reflection.ConstructorInfo) (*compiler.Node, error) {
	st := info.ParamObject
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	ptr := reflect.PointerTo(st)

	obj := &compiler.Node{
		Op:   compiler.OpInject,
		Type: ptr,
		Kids: []*compiler.Node{{Op: compiler.OpNew, Type: ptr}},
	}

	for _, p := range info.Parameters {
		k := a.key(p.Type, InjectionPoint{Owner: st, Member: p.Name, Index: -1, Tag: p.Tag})
		dep, err := a.dependency(k, p.Optional)
		if err != nil {
			return nil, err
		}
		obj.Kids = append(obj.Kids, &compiler.Node{
			Op:   compiler.OpSetField,
			Name: st.Name() + "." + p.Name,
			Path: []int{p.Index},
			Kids: []*compiler.Node{dep},
		})
	}

	if info.ParamObject.Kind() == reflect.Pointer {
		return obj, nil
	}
	return &compiler.Node{Op: compiler.OpDeref, Type: st, Kids: []*compiler.Node{obj}}, nil
}

func (a *assembly) factory(t Target) (*compiler.Node, error) {
	n := &compiler.Node{Op: compiler.OpHook, Name: t.name, Type: t.typ, User: true}

	for i, k := range t.deps {
		dep, err := a.dependency(k.WithPoint(&InjectionPoint{Owner: t.typ, Member: t.name, Index: i}), false)
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, dep)
	}

	fn := t.factory
	n.Hook = func(env compiler.Env, _ reflect.Value, args []reflect.Value) (reflect.Value, error) {
		deps := make([]any, len(args))
		for i, arg := range args {
			deps[i] = arg.Interface()
		}
		v, err := fn(env.(*Frame).Context(), deps)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v), nil
	}
	return n, nil
}

// provider plans a deferred handle. The target is resolved now so a missing
// recipe fails assembly, but it is assembled only when the handle is used.
func (a *assembly) provider(b *Binding) (*compiler.Node, error) {
	t := b.target

	k := t.key
	if k.Type == nil {
		provided, _ := providedType(b.key.Type)
		k = NewKey(provided, b.key.qualifiers...)
	}
	target, err := a.inj.resolve(k)
	if err != nil {
		return nil, err
	}

	inj, typ := a.inj, t.typ
	hook := func(env compiler.Env, _ reflect.Value, _ []reflect.Value) (reflect.Value, error) {
		h := &Handle{inj: inj, key: k.WithPoint(nil), binding: target, origin: env.(*Frame).parent}
		if typ == handleType {
			return reflect.ValueOf(h), nil
		}
		return h.function(typ), nil
	}

	return &compiler.Node{Op: compiler.OpHook, Name: t.name, Type: typ, Hook: hook}, nil
}

// key builds the key an injection point asks for, with the qualifiers the
// extractors require.
func (a *assembly) key(t reflect.Type, p InjectionPoint) Key {
	var quals []Qualifier
	for _, extract := range a.inj.rules.RequiredQualifiers {
		quals = append(quals, extract(p)...)
	}
	return NewKey(t, quals...).WithPoint(&p)
}

// dependency resolves and assembles k and returns the plan node yielding it as
// k.Type. Small unscoped dependencies are inlined; the rest are linked and go
// through their scope.
func (a *assembly) dependency(k Key, optional bool) (*compiler.Node, error) {
	b, err := a.inj.resolve(k)
	if err == nil {
		err = a.ensure(b)
	}
	if err != nil {
		var missing NoRecipeFoundError
		if optional && errors.As(err, &missing) && missing.Key.Same(k) {
			return compiler.Const(reflect.Zero(k.Type)), nil
		}
		return nil, err
	}

	if top := len(a.deps) - 1; top >= 0 {
		a.deps[top] = append(a.deps[top], b.key)
	}

	var n *compiler.Node
	if a.inlinable(b) {
		n = &compiler.Node{
			Op:    compiler.OpInline,
			Name:  b.name,
			Type:  b.recipe.plan.Type,
			Enter: b,
			Kids:  []*compiler.Node{b.recipe.plan},
		}
	} else {
		n = &compiler.Node{Op: compiler.OpLink, Name: b.name, Type: b.key.Type, Link: b}
	}

	return compiler.Convert(n, k.Type)
}

func (a *assembly) inlinable(b *Binding) bool {
	if a.inj.cfg.DisableInlining || b.scope != Unscoped {
		return false
	}
	return b.recipe.plan.Size() <= a.inj.compiler.Budget()/2
}

// scope selects the binding's scope: the explicit binding scope, then scope
// rules, then scope annotations, then the target's and the injector's default.
func (a *assembly) scope(b *Binding, typ reflect.Type) (Scope, error) {
	if b.explicit != nil {
		return b.explicit, nil
	}

	t := b.target
	if b.kind == CreationKind || t.kind == linkTarget {
		if t.scope != nil {
			return t.scope, nil
		}
		return Unscoped, nil
	}

	rules := a.inj.rules
	for _, rule := range rules.Scopes {
		if s, ok := rule(b.key, typ); ok {
			return s, nil
		}
	}

	var annotations []reflect.Type
	for _, ann := range hierarchy.For(typ).Annotations {
		if ann.Implements(scopeAnnType) {
			annotations = append(annotations, ann)
		}
	}
	switch len(annotations) {
	case 0:
	case 1:
		s, ok := rules.ScopeAnnotations[annotations[0]]
		if !ok {
			return nil, UnknownScopeAnnotationError{Type: typ, Annotation: annotations[0]}
		}
		return s, nil
	default:
		return nil, MultipleScopeAnnotationsError{Type: typ, Annotations: annotations}
	}

	if t.scope != nil {
		return t.scope, nil
	}
	if rules.DefaultScope != nil {
		return rules.DefaultScope, nil
	}
	return Unscoped, nil
}
