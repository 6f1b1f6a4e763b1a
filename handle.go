package kiln

import (
	"context"
	"reflect"

	"github.com/junioryono/kiln/internal/compiler"
)

var handleType = reflect.TypeOf((*Handle)(nil))

// Handle is a deferred reference to the instance of a key. Nothing is built
// until Get is called, which makes handles the way to express object cycles:
// A holds a handle to B while B holds A.
//
// Get fails with ProviderNotReadyError while the target's recipe is still being
// assembled, and with ProviderReentrantError when called from within the
// construction it would start. A handle from GetProvider sees that construction
// only through the context passed to GetContext; without one, each call is an
// independent request and may run concurrently with others.
type Handle struct {
	inj     *Injector
	key     Key
	binding *Binding

	// origin is the construction the handle was injected into; nil for handles
	// returned by GetProvider.
	origin *Frame
}

// Key returns the key the handle produces.
func (h *Handle) Key() Key {
	return h.key
}

// Get returns the instance, constructing it if its scope requires.
func (h *Handle) Get() (any, error) {
	return h.value(nil)
}

// GetContext is Get within ctx. A ctx carrying an active construction joins
// that construction's chain, and custom-scope sessions in ctx apply.
func (h *Handle) GetContext(ctx context.Context) (any, error) {
	return h.value(ctx)
}

func (h *Handle) value(ctx context.Context) (any, error) {
	v, err := h.get(ctx)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (h *Handle) get(ctx context.Context) (reflect.Value, error) {
	b := h.binding
	if b.state.Load() == assembling {
		return reflect.Value{}, h.inj.fail("provide", h.key, ProviderNotReadyError{Key: h.key})
	}
	if err := h.inj.ready(b); err != nil {
		return reflect.Value{}, h.inj.fail("provide", h.key, err)
	}

	parent := FrameFrom(ctx).active()
	if parent == nil && h.origin != nil {
		parent = h.origin.active()
	}

	if ctx == nil {
		ctx = context.Background()
		if h.origin != nil {
			ctx = h.origin.ctx
		}
	}

	root := newFrame(ctx, parent, nil)
	defer root.leave()

	v, err := b.provide(root)
	if err != nil {
		return reflect.Value{}, h.inj.fail("provide", h.key, err)
	}
	if v.Type() == h.key.Type {
		return v, nil
	}

	convert, err := compiler.Converter(v.Type(), h.key.Type)
	if err == nil {
		v, err = convert(v)
	}
	if err != nil {
		return reflect.Value{}, h.inj.fail("provide", h.key, err)
	}
	return v, nil
}

// function returns the handle as a provider function of type t: one of
// func() (T, error), func() T and their variants taking a context.Context.
// The form without an error result panics when construction fails.
func (h *Handle) function(t reflect.Type) reflect.Value {
	out := t.Out(0)
	withErr := t.NumOut() == 2

	return reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		var ctx context.Context
		if len(args) == 1 && !args[0].IsNil() {
			ctx = args[0].Interface().(context.Context)
		}

		v, err := h.get(ctx)
		if !withErr {
			if err != nil {
				panic(err)
			}
			return []reflect.Value{v}
		}

		errv := reflect.Zero(errorType)
		if err != nil {
			v = reflect.Zero(out)
			errv = reflect.ValueOf(&err).Elem()
		}
		return []reflect.Value{v, errv}
	})
}
