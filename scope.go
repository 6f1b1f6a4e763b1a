package kiln

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Provision produces a binding's value within a construction frame.
type Provision func(f *Frame) (reflect.Value, error)

// Scope is a lifecycle policy. Scope is called once per binding when its recipe
// is assembled and returns the provision callers go through; create runs the
// binding's full recipe.
type Scope interface {
	Name() string
	Scope(b *Binding, create Provision) Provision
}

var (
	// Unscoped runs the recipe on every request.
	Unscoped Scope = unscoped{}

	// Singleton runs the recipe once per binding and shares the result.
	Singleton Scope = singleton{}
)

type unscoped struct{}

func (unscoped) Name() string { return "unscoped" }

func (unscoped) Scope(_ *Binding, create Provision) Provision {
	return create
}

type singleton struct{}

func (singleton) Name() string { return "singleton" }

func (singleton) Scope(b *Binding, create Provision) Provision {
	c := &cell{}
	return func(f *Frame) (reflect.Value, error) {
		return c.get(b, f, create)
	}
}

// cell holds one lazily computed value: uninitialized, computing, then ready.
// A failed computation leaves the cell uninitialized.
type cell struct {
	mu     sync.Mutex
	ready  bool
	value  reflect.Value
	flight *flight
}

type flight struct {
	done  chan struct{}
	value reflect.Value
	err   error
}

func (c *cell) get(b *Binding, f *Frame, create Provision) (reflect.Value, error) {
	c.mu.Lock()
	if c.ready {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}

	if fl := c.flight; fl != nil {
		// The winner is somewhere up our own chain; waiting would never end.
		if f.constructing(b) {
			c.mu.Unlock()
			return reflect.Value{}, ProviderReentrantError{Key: b.key}
		}
		c.mu.Unlock()

		<-fl.done
		return fl.value, fl.err
	}

	fl := &flight{done: make(chan struct{})}
	c.flight = fl
	c.mu.Unlock()

	v, err := create(f)

	c.mu.Lock()
	if err == nil {
		c.value, c.ready = v, true
	}
	c.flight = nil
	c.mu.Unlock()

	fl.value, fl.err = v, err
	close(fl.done)
	return v, err
}

// SimpleScope keeps one instance per binding for each session entered on it.
// Sessions travel in the context passed to GetInstance.
type SimpleScope struct {
	name string
}

// NewSimpleScope creates a session scope called name.
func NewSimpleScope(name string) *SimpleScope {
	return &SimpleScope{name: name}
}

// Name implements Scope.
func (s *SimpleScope) Name() string {
	return s.name
}

type sessionKey struct {
	scope *SimpleScope
}

// Enter starts a fresh session and returns a context carrying it.
func (s *SimpleScope) Enter(ctx context.Context) (context.Context, *Session) {
	if ctx == nil {
		ctx = context.Background()
	}

	sess := &Session{
		id:    uuid.NewString(),
		scope: s,
		store: make(map[*Binding]*cell),
	}
	return context.WithValue(ctx, sessionKey{s}, sess), sess
}

// SessionFrom returns the session of s carried by ctx.
func (s *SimpleScope) SessionFrom(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(sessionKey{s}).(*Session)
	return sess, ok
}

// Scope implements Scope.
func (s *SimpleScope) Scope(b *Binding, create Provision) Provision {
	return func(f *Frame) (reflect.Value, error) {
		sess, ok := s.SessionFrom(f.ctx)
		if !ok {
			return reflect.Value{}, OutOfScopeError{Scope: s.name, Key: b.key}
		}

		c, err := sess.cell(b)
		if err != nil {
			return reflect.Value{}, err
		}
		return c.get(b, f, create)
	}
}

// Session is one Enter to Exit span of a SimpleScope.
type Session struct {
	id    string
	scope *SimpleScope

	mu     sync.Mutex
	store  map[*Binding]*cell
	exited bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Len returns the number of bindings with an instance in the session.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

// Exit ends the session and drops its instances. Later requests through a
// context carrying it fail with OutOfScopeError.
func (s *Session) Exit() {
	s.mu.Lock()
	s.exited = true
	s.store = nil
	s.mu.Unlock()
}

func (s *Session) cell(b *Binding) (*cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return nil, OutOfScopeError{Scope: s.scope.name, Key: b.key}
	}

	c, ok := s.store[b]
	if !ok {
		c = &cell{}
		s.store[b] = c
	}
	return c, nil
}
