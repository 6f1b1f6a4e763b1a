package kiln

import (
	"context"
	"sync/atomic"
)

// Frame is one binding construction in progress. Frames link to the
// construction that asked for them, so the active chain is always explicit.
// A Frame is the environment compiled units run in.
type Frame struct {
	ctx     context.Context
	parent  *Frame
	binding *Binding
	done    atomic.Bool
}

type frameKey struct{}

func newFrame(ctx context.Context, parent *Frame, b *Binding) *Frame {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Frame{ctx: ctx, parent: parent, binding: b}
}

// rootFrame starts a construction chain for ctx, joining the chain of any
// active frame ctx carries.
func rootFrame(ctx context.Context) *Frame {
	if ctx == nil {
		ctx = context.Background()
	}
	return newFrame(ctx, FrameFrom(ctx).active(), nil)
}

// FrameFrom returns the frame ctx carries, or nil.
func FrameFrom(ctx context.Context) *Frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey{}).(*Frame)
	return f
}

// Context returns the frame's context carrying the frame itself. Constructors
// taking a context.Context receive it, so nested requests join the chain.
func (f *Frame) Context() context.Context {
	return context.WithValue(f.ctx, frameKey{}, f)
}

// Binding returns the binding under construction, nil for a root frame.
func (f *Frame) Binding() *Binding {
	return f.binding
}

// Parent returns the frame that asked for this one.
func (f *Frame) Parent() *Frame {
	return f.parent
}

// Done reports whether the construction has finished.
func (f *Frame) Done() bool {
	return f.done.Load()
}

// active returns the nearest frame from f upwards that has not finished.
func (f *Frame) active() *Frame {
	for p := f; p != nil; p = p.parent {
		if !p.done.Load() {
			return p
		}
	}
	return nil
}

// constructing reports whether b is being constructed in the active chain.
func (f *Frame) constructing(b *Binding) bool {
	for p := f; p != nil; p = p.parent {
		if p.binding == b && !p.done.Load() {
			return true
		}
	}
	return false
}

// enter opens the frame constructing b.
func (f *Frame) enter(b *Binding) (*Frame, error) {
	if f.constructing(b) {
		return nil, ProviderReentrantError{Key: b.key}
	}
	return &Frame{ctx: f.ctx, parent: f, binding: b}, nil
}

func (f *Frame) leave() {
	f.done.Store(true)
}

// chain returns the keys under construction from the outermost to f.
func (f *Frame) chain() []Key {
	var keys []Key
	for p := f; p != nil; p = p.parent {
		if p.binding != nil {
			keys = append(keys, p.binding.key)
		}
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}
