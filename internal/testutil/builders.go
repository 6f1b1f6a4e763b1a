package testutil

import (
	"testing"

	"github.com/junioryono/kiln"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// InjectorBuilder provides a fluent interface for building test injectors.
type InjectorBuilder struct {
	t       *testing.T
	modules []kiln.Module
	opts    []kiln.Option
}

// NewInjectorBuilder creates a builder logging through the test.
func NewInjectorBuilder(t *testing.T) *InjectorBuilder {
	return &InjectorBuilder{
		t:    t,
		opts: []kiln.Option{kiln.WithLogger(zaptest.NewLogger(t))},
	}
}

// Provide binds ctor.
func (b *InjectorBuilder) Provide(ctor any, opts ...kiln.BindOption) *InjectorBuilder {
	b.modules = append(b.modules, kiln.Provide(ctor, opts...))
	return b
}

// Singleton binds ctor in the singleton scope.
func (b *InjectorBuilder) Singleton(ctor any, opts ...kiln.BindOption) *InjectorBuilder {
	return b.Provide(ctor, append(opts, kiln.InScope(kiln.Singleton))...)
}

// Constructor registers instantiation candidates.
func (b *InjectorBuilder) Constructor(ctors ...any) *InjectorBuilder {
	b.modules = append(b.modules, kiln.Constructor(ctors...))
	return b
}

// Install adds static bindings.
func (b *InjectorBuilder) Install(bindings ...kiln.StaticBinding) *InjectorBuilder {
	b.modules = append(b.modules, kiln.Install(bindings...))
	return b
}

// Module adds modules.
func (b *InjectorBuilder) Module(modules ...kiln.Module) *InjectorBuilder {
	b.modules = append(b.modules, modules...)
	return b
}

// Option adds injector options.
func (b *InjectorBuilder) Option(opts ...kiln.Option) *InjectorBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build creates the injector and fails the test on error.
func (b *InjectorBuilder) Build() *kiln.Injector {
	b.t.Helper()
	inj, err := b.TryBuild()
	require.NoError(b.t, err, "failed to build injector")
	return inj
}

// TryBuild creates the injector.
func (b *InjectorBuilder) TryBuild() (*kiln.Injector, error) {
	return kiln.New(append(b.opts, kiln.WithModules(b.modules...))...)
}

// NewBasicInjector binds a logger, a database and a service.
func NewBasicInjector(t *testing.T) *kiln.Injector {
	t.Helper()
	return NewInjectorBuilder(t).
		Singleton(NewTestLogger, kiln.As(new(Logger))).
		Provide(NewDatabase).
		Constructor(NewService).
		Build()
}
