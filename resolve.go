package kiln

import (
	"context"
	"fmt"
)

// Get returns the instance of T with the given qualifiers.
//
// Example:
//
//	db, err := kiln.Get[*sql.DB](ctx, inj, kiln.Named("primary"))
func Get[T any](ctx context.Context, inj *Injector, qualifiers ...Qualifier) (T, error) {
	var zero T
	if inj == nil {
		return zero, fmt.Errorf("%w: injector is nil", ErrInvalidConfig)
	}

	v, err := inj.instance(ctx, KeyOf[T](qualifiers...))
	if err != nil {
		return zero, err
	}

	result, ok := v.Interface().(T)
	if !ok {
		// A nil interface value converts to no dynamic type.
		return zero, nil
	}
	return result, nil
}

// MustGet is like Get but panics on failure.
func MustGet[T any](ctx context.Context, inj *Injector, qualifiers ...Qualifier) T {
	v, err := Get[T](ctx, inj, qualifiers...)
	if err != nil {
		panic(fmt.Sprintf("kiln: failed to get instance: %v", err))
	}
	return v
}

// Provider is a typed deferred handle.
type Provider[T any] struct {
	h *Handle
}

// Get returns the instance, constructing it if its scope requires.
func (p Provider[T]) Get(ctx context.Context) (T, error) {
	var zero T
	v, err := p.h.get(ctx)
	if err != nil {
		return zero, err
	}
	result, _ := v.Interface().(T)
	return result, nil
}

// Handle returns the untyped handle.
func (p Provider[T]) Handle() *Handle {
	return p.h
}

// ProviderFor returns a typed deferred handle for T with the given qualifiers.
// Nothing is assembled or built until Get is called.
func ProviderFor[T any](inj *Injector, qualifiers ...Qualifier) (Provider[T], error) {
	if inj == nil {
		return Provider[T]{}, fmt.Errorf("%w: injector is nil", ErrInvalidConfig)
	}

	h, err := inj.GetProvider(KeyOf[T](qualifiers...))
	if err != nil {
		return Provider[T]{}, err
	}
	return Provider[T]{h: h}, nil
}
