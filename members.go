package kiln

import (
	"context"
	"fmt"
	"reflect"

	"github.com/junioryono/kiln/internal/compiler"
	"github.com/junioryono/kiln/internal/hierarchy"
	"github.com/junioryono/kiln/internal/reflection"
	"go.uber.org/zap"
)

// injectMembers wraps plan with the member steps of typ. Steps run level by
// level from the root of the embedding hierarchy to the leaf; within a level,
// fields come before methods.
func (a *assembly) injectMembers(plan *compiler.Node, typ reflect.Type, r *Recipe) (*compiler.Node, error) {
	steps, names, err := a.memberSteps(typ)
	if err != nil || len(steps) == 0 {
		return plan, err
	}

	r.Members = names
	return &compiler.Node{
		Op:   compiler.OpInject,
		Name: "members " + formatType(typ),
		Type: typ,
		Kids: append([]*compiler.Node{plan}, steps...),
	}, nil
}

type invocation struct {
	level int
	name  string
}

func (a *assembly) memberSteps(typ reflect.Type) ([]*compiler.Node, []string, error) {
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, nil, nil
	}

	var (
		table    = hierarchy.For(typ)
		steps    []*compiler.Node
		names    []string
		deferred = make(map[int][]string)
		invoked  = make(map[invocation]bool)
	)

	for i, lvl := range table.Levels {
		for _, f := range lvl.Fields {
			m := Member{Kind: FieldMember, Owner: lvl.Type, Name: f.Name, Type: f.Type, Tag: f.Tag, Exported: f.Exported}
			d, err := a.decide(m)
			if err != nil {
				return nil, nil, err
			}
			if d != Inject {
				continue
			}
			if !f.Exported {
				return nil, nil, ImmutableFieldError{Owner: lvl.Type, Field: f.Name}
			}

			step, err := a.field(lvl, f)
			if err != nil {
				return nil, nil, err
			}
			steps = append(steps, step)
			names = append(names, lvl.Type.Name()+"."+f.Name)
		}

		for _, name := range methodNames(lvl, deferred[i]) {
			if !contains(deferred[i], name) {
				m := Member{
					Kind:     MethodMember,
					Owner:    lvl.Type,
					Name:     name,
					Exported: true,
					Marked:   contains(lvl.Marks, name),
				}
				if method, ok := reflect.PointerTo(lvl.Type).MethodByName(name); ok {
					m.Type = receiverless(method.Type)
				}

				d, err := a.decide(m)
				if err != nil {
					return nil, nil, err
				}
				if d != Inject {
					continue
				}
			}

			// A declaration further down replaces this one; it is injected there.
			if j, ok := table.Index.Overrider(i, name); ok {
				deferred[j] = append(deferred[j], name)
				continue
			}

			res := table.Index.Resolve(i, name)
			switch {
			case !res.Found:
				return nil, nil, InvalidMethodError{Owner: lvl.Type, Method: name, Reason: "no such method"}
			case res.Ambiguous:
				return nil, nil, InvalidMethodError{Owner: lvl.Type, Method: name, Reason: "ambiguous selector"}
			case res.Abstract:
				return nil, nil, AbstractMethodError{Owner: lvl.Type, Method: name}
			}

			inv := invocation{level: res.Level, name: name}
			if invoked[inv] {
				continue
			}
			invoked[inv] = true

			step, err := a.method(lvl, name)
			if err != nil {
				return nil, nil, err
			}
			steps = append(steps, step)
			names = append(names, lvl.Type.Name()+"."+name+"()")
		}
	}

	custom, customNames, err := a.customInjectors(typ)
	if err != nil {
		return nil, nil, err
	}
	return append(steps, custom...), append(names, customNames...), nil
}

// decide asks the members-injector rules in order; the first decision other
// than Abstain wins.
func (a *assembly) decide(m Member) (Decision, error) {
	for _, rule := range a.inj.rules.Members {
		d, err := rule(m)
		if err != nil {
			return Abstain, err
		}
		if d != Abstain {
			return d, nil
		}
	}
	return Abstain, nil
}

func (a *assembly) field(lvl *hierarchy.Level, f hierarchy.Field) (*compiler.Node, error) {
	k := a.key(f.Type, InjectionPoint{Owner: lvl.Type, Member: f.Name, Index: -1, Tag: f.Tag})
	dep, err := a.dependency(k, reflection.ParseTag(f.Tag).Optional)
	if err != nil {
		return nil, err
	}

	return &compiler.Node{
		Op:   compiler.OpSetField,
		Name: lvl.Type.Name() + "." + f.Name,
		Path: append(append([]int(nil), lvl.Path...), f.Index),
		Kids: []*compiler.Node{dep},
	}, nil
}

func (a *assembly) method(lvl *hierarchy.Level, name string) (*compiler.Node, error) {
	m, ok := reflect.PointerTo(lvl.Type).MethodByName(name)
	if !ok {
		return nil, InvalidMethodError{Owner: lvl.Type, Method: name, Reason: "not in the method set of the pointer"}
	}

	ft := m.Type
	switch {
	case ft.IsVariadic():
		return nil, InvalidMethodError{Owner: lvl.Type, Method: name, Reason: "variadic"}
	case ft.NumOut() > 1 || (ft.NumOut() == 1 && ft.Out(0) != errorType):
		return nil, InvalidMethodError{Owner: lvl.Type, Method: name, Reason: "must return nothing or an error"}
	}

	n := &compiler.Node{
		Op:   compiler.OpInvoke,
		Name: lvl.Type.Name() + "." + name,
		Fn:   m.Func,
		Path: lvl.Path,
		User: true,
	}
	for p := 1; p < ft.NumIn(); p++ {
		k := a.key(ft.In(p), InjectionPoint{Owner: lvl.Type, Member: name, Index: p - 1})
		dep, err := a.dependency(k, false)
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, dep)
	}
	return n, nil
}

// customInjectors plans the injectors contributed by member factories. Each runs
// as a hook receiving the instance and its resolved dependencies.
func (a *assembly) customInjectors(typ reflect.Type) ([]*compiler.Node, []string, error) {
	var (
		steps []*compiler.Node
		names []string
	)
	for _, factory := range a.inj.rules.MemberFactories {
		ci, ok := factory(typ)
		if !ok {
			continue
		}

		name := ci.Name
		if name == "" {
			name = fmt.Sprintf("custom[%d]", len(steps))
		}

		n := &compiler.Node{Op: compiler.OpHook, Name: name, Type: typ, User: true}
		for i, k := range ci.Deps {
			dep, err := a.dependency(k.WithPoint(&InjectionPoint{Owner: typ.Elem(), Member: name, Index: i}), false)
			if err != nil {
				return nil, nil, err
			}
			n.Kids = append(n.Kids, dep)
		}

		inject := ci.Inject
		n.Hook = func(_ compiler.Env, in reflect.Value, args []reflect.Value) (reflect.Value, error) {
			deps := make([]any, len(args))
			for i, arg := range args {
				deps[i] = arg.Interface()
			}
			return in, inject(in.Interface(), deps)
		}

		steps = append(steps, n)
		names = append(names, name)
	}
	return steps, names, nil
}

// listen wraps plan with the listeners the rules contribute for typ, in rule
// order. A listener returning nil keeps the instance it was given.
func (a *assembly) listen(plan *compiler.Node, typ reflect.Type, r *Recipe) (*compiler.Node, error) {
	for i, rule := range a.inj.rules.Listeners {
		l, ok := rule(typ)
		if !ok || l == nil {
			continue
		}

		name := fmt.Sprintf("listener[%d] %s", i, formatType(typ))
		r.Listeners = append(r.Listeners, name)
		plan = &compiler.Node{
			Op:   compiler.OpHook,
			Name: name,
			Type: typ,
			Kids: []*compiler.Node{plan},
			User: true,
			Hook: listenerHook(l),
		}
	}
	return plan, nil
}

func listenerHook(l Listener) compiler.Hook {
	return func(env compiler.Env, _ reflect.Value, args []reflect.Value) (reflect.Value, error) {
		out, err := l(listenerContext(env), args[0].Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		if out == nil {
			return args[0], nil
		}
		return reflect.ValueOf(out), nil
	}
}

func listenerContext(env compiler.Env) context.Context {
	if f, ok := env.(*Frame); ok {
		return f.Context()
	}
	return context.Background()
}

// methodNames lists the methods considered at a level: those it declares, those
// it marks and those deferred to it, each once.
func methodNames(lvl *hierarchy.Level, deferred []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]string{lvl.Declared, lvl.Marks, deferred} {
		for _, name := range group {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func receiverless(ft reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, ft.NumIn())
	for i := 1; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i))
	}
	out := make([]reflect.Type, ft.NumOut())
	for i := range out {
		out[i] = ft.Out(i)
	}
	return reflect.FuncOf(in, out, ft.IsVariadic())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// membersID identifies the compiled member-injection unit of a type.
type membersID struct {
	typ reflect.Type
}

// MembersInjector injects the members of existing instances of one type and
// runs its listeners. It is safe for concurrent use.
type MembersInjector struct {
	inj  *Injector
	typ  reflect.Type
	unit *compiler.Unit
}

// Type returns the instance type the injector accepts.
func (m *MembersInjector) Type() reflect.Type {
	return m.typ
}

// Inject populates instance, which must be of the injector's type. It returns
// the instance, or the replacement a listener produced.
func (m *MembersInjector) Inject(ctx context.Context, instance any) (any, error) {
	v := reflect.ValueOf(instance)
	if !v.IsValid() || v.Type() != m.typ || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, m.inj.fail("inject", NewKey(m.typ), fmt.Errorf("%w: want %s, got %T", ErrNilInstance, formatType(m.typ), instance))
	}

	root := rootFrame(ctx)
	defer root.leave()

	out, err := m.unit.InvokeWith(root, v)
	if err != nil {
		return nil, m.inj.fail("inject", NewKey(m.typ), err)
	}
	return out.Interface(), nil
}

// membersInjector assembles and compiles the member-injection unit of typ.
func (inj *Injector) membersInjector(typ reflect.Type) (*MembersInjector, error) {
	if typ == nil {
		return nil, ErrNilKey
	}

	mi, _, err := inj.injectors.GetOrCreate(typ, func() (*MembersInjector, error) {
		unlock, err := inj.lockAssembly(NewKey(typ))
		if err != nil {
			return nil, err
		}
		defer unlock()

		a := &assembly{inj: inj}
		r := &Recipe{Key: NewKey(typ), Type: typ}
		input := &compiler.Node{Op: compiler.OpInput, Type: typ}

		plan, err := a.injectMembers(input, typ, r)
		if err != nil {
			return nil, err
		}
		if plan, err = a.listen(plan, typ, r); err != nil {
			return nil, err
		}

		unit, err := inj.compiler.Compile(membersID{typ}, "members "+formatType(typ), plan)
		if err != nil {
			return nil, err
		}

		inj.log.Debug("members injector compiled",
			zap.String("type", formatType(typ)),
			zap.Strings("members", r.Members),
			zap.Strings("listeners", r.Listeners),
		)
		return &MembersInjector{inj: inj, typ: typ, unit: unit}, nil
	})
	return mi, err
}
