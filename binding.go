package kiln

import (
	"errors"
	"reflect"
	"sync/atomic"

	"github.com/junioryono/kiln/internal/compiler"
)

// BindingKind tells how a binding came to exist.
type BindingKind uint8

const (
	// StaticKind bindings are configured explicitly.
	StaticKind BindingKind = iota
	// JITKind bindings are derived on demand and cached by type and qualifiers.
	JITKind
	// CreationKind bindings are produced by creation rules.
	CreationKind
)

func (k BindingKind) String() string {
	switch k {
	case StaticKind:
		return "static"
	case JITKind:
		return "jit"
	default:
		return "creation"
	}
}

const (
	unassembled int32 = iota
	assembling
	ready
	failed
)

// Binding is the resolved producer of one or more keys. Its recipe is assembled
// once; after that a Binding is immutable and safe for concurrent use.
type Binding struct {
	id     uint64
	inj    *Injector
	kind   BindingKind
	name   string
	key    Key
	target Target
	match  func(Key) bool

	// explicit is the scope pinned by a static binding.
	explicit Scope

	state atomic.Int32
	err   error

	recipe  *Recipe
	unit    *compiler.Unit
	scope   Scope
	provide Provision
}

var (
	_ compiler.Linker  = (*Binding)(nil)
	_ compiler.Enterer = (*Binding)(nil)
)

// Kind returns how the binding came to exist.
func (b *Binding) Kind() BindingKind {
	return b.kind
}

// Name returns the binding's display name.
func (b *Binding) Name() string {
	return b.name
}

// Key returns the key the binding produces.
func (b *Binding) Key() Key {
	return b.key
}

// Ready reports whether the recipe is assembled and compiled.
func (b *Binding) Ready() bool {
	return b.state.Load() == ready
}

// Recipe returns the assembled recipe, or nil before the binding is ready.
func (b *Binding) Recipe() *Recipe {
	if !b.Ready() {
		return nil
	}
	return b.recipe
}

// Unit returns the compiled unit, or nil before the binding is ready.
func (b *Binding) Unit() *CompiledUnit {
	if !b.Ready() {
		return nil
	}
	return b.unit
}

// Scope returns the binding's scope, or nil before the binding is ready.
func (b *Binding) Scope() Scope {
	if !b.Ready() {
		return nil
	}
	return b.scope
}

// ScopeName returns the scope name for graph rendering.
func (b *Binding) ScopeName() string {
	if s := b.Scope(); s != nil {
		return s.Name()
	}
	return ""
}

// Invoke implements compiler.Linker: the binding's value through its scope.
func (b *Binding) Invoke(env compiler.Env) (reflect.Value, error) {
	return b.provide(env.(*Frame))
}

// Enter implements compiler.Enterer for plans inlined into other units.
func (b *Binding) Enter(env compiler.Env) (compiler.Env, func(), error) {
	f, err := env.(*Frame).enter(b)
	if err != nil {
		return nil, nil, err
	}
	return f, f.leave, nil
}

// construct runs the full recipe in a new frame. Scopes wrap it.
func (b *Binding) construct(parent *Frame) (reflect.Value, error) {
	f, err := parent.enter(b)
	if err != nil {
		return reflect.Value{}, err
	}
	defer f.leave()

	v, err := b.unit.Invoke(f)
	if err != nil {
		var root *Error
		if !errors.As(err, &root) {
			err = &Error{Op: "construct", Key: b.key, Chain: f.chain(), Err: err}
		}
		return reflect.Value{}, err
	}

	b.inj.metrics.instances.WithLabelValues(b.scope.Name()).Inc()
	return v, nil
}
