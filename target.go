package kiln

import (
	"context"
	"fmt"
	"reflect"

	"github.com/junioryono/kiln/internal/reflection"
)

type targetKind uint8

const (
	invalidTarget targetKind = iota
	constructorTarget
	instanceTarget
	linkTarget
	factoryTarget
	providerTarget
	injectorTarget
	contextTarget
	jitTarget
)

// Factory builds an instance from resolved dependencies.
type Factory func(ctx context.Context, deps []any) (any, error)

// Target describes how a binding produces its instance. Use the To functions to
// build one.
type Target struct {
	kind targetKind
	name string
	typ  reflect.Type

	ctor    any
	value   reflect.Value
	key     Key
	deps    []Key
	factory Factory
	scope   Scope
}

// ToConstructor builds instances by calling fn, a function returning T or
// (T, error). Parameters are resolved as dependencies; members and listeners
// run on the result.
func ToConstructor(fn any) Target {
	t := Target{kind: constructorTarget, ctor: fn}
	if v := reflect.ValueOf(fn); v.Kind() == reflect.Func && !v.IsNil() {
		t.name = reflection.FuncName(v)
		if v.Type().NumOut() > 0 {
			t.typ = v.Type().Out(0)
		}
	}
	return t
}

// ToInstance always yields v. Members are injected once; the default scope is
// Singleton.
func ToInstance(v any) Target {
	return Target{
		kind:  instanceTarget,
		name:  fmt.Sprintf("instance %T", v),
		typ:   reflect.TypeOf(v),
		value: reflect.ValueOf(v),
		scope: Singleton,
	}
}

// ToType links to the binding of the concrete type t.
func ToType(t reflect.Type) Target {
	return ToKey(NewKey(t))
}

// ToKey links to the binding of k. The link itself is unscoped; the linked
// binding keeps its own scope.
func ToKey(k Key) Target {
	return Target{kind: linkTarget, name: "link " + k.String(), typ: k.Type, key: k}
}

// ToFactory builds instances of typ by calling fn with the resolved deps.
// Factories get no member injection.
func ToFactory(typ reflect.Type, deps []Key, fn Factory) Target {
	return Target{
		kind:    factoryTarget,
		name:    "factory " + formatType(typ),
		typ:     typ,
		deps:    append([]Key(nil), deps...),
		factory: fn,
	}
}

// ToProvider yields a *Handle deferring the construction of k.
func ToProvider(k Key) Target {
	return Target{kind: providerTarget, name: "provider " + k.String(), typ: handleType, key: k}
}

// In returns a copy of t whose default scope is s. An explicit binding scope
// still takes precedence.
func (t Target) In(s Scope) Target {
	t.scope = s
	return t
}

// Named returns a copy of t reported under name.
func (t Target) Named(name string) Target {
	t.name = name
	return t
}

// Type returns the type the target produces, when known before assembly.
func (t Target) Type() reflect.Type {
	return t.typ
}

func (t Target) String() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("target(%d)", t.kind)
}

// members reports whether members and listeners run on the produced value.
func (t Target) members() bool {
	switch t.kind {
	case constructorTarget, instanceTarget, jitTarget:
		return true
	}
	return false
}

func (t Target) validate() error {
	switch t.kind {
	case invalidTarget:
		return fmt.Errorf("empty target")
	case constructorTarget:
		if t.ctor == nil {
			return fmt.Errorf("constructor cannot be nil")
		}
	case instanceTarget:
		if !t.value.IsValid() {
			return ErrNilInstance
		}
		switch t.value.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			if t.value.IsNil() {
				return ErrNilInstance
			}
		}
	case linkTarget:
		if t.key.Type == nil {
			return ErrNilKey
		}
	case factoryTarget:
		if t.typ == nil {
			return fmt.Errorf("factory type cannot be nil")
		}
		if t.factory == nil {
			return fmt.Errorf("factory cannot be nil")
		}
	}
	return nil
}

// StaticBinding is an explicitly configured binding. Match selects the keys it
// serves; Key, when set, is the key it is reported and converted under.
type StaticBinding struct {
	Name   string
	Key    Key
	Match  func(Key) bool
	Target Target

	// Scope overrides every other scope source when set.
	Scope Scope
}

// Bind returns a static binding serving k, matched regardless of injection point.
func Bind(k Key, t Target) StaticBinding {
	return StaticBinding{
		Name:   fmt.Sprintf("%s -> %s", k, t),
		Key:    k,
		Match:  k.Same,
		Target: t,
	}
}

// In returns a copy of sb pinned to scope s.
func (sb StaticBinding) In(s Scope) StaticBinding {
	sb.Scope = s
	return sb
}
