package compiler

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine struct {
	Power int
}

type car struct {
	Engine *engine
	Seats  int
}

func newEngine(power int) *engine { return &engine{Power: power} }

func newCar(e *engine, seats int) (*car, error) {
	if seats <= 0 {
		return nil, errors.New("a car needs seats")
	}
	return &car{Engine: e, Seats: seats}, nil
}

type chassis struct {
	Wheels int
	log    []string
}

func (c *chassis) Mount(n int) {
	c.log = append(c.log, "mount")
	c.Wheels += n
}

type body struct {
	*chassis
	Color string
}

func sum(vals ...int) int {
	total := 0
	for _, v := range vals {
		total += v
	}
	return total
}

func constInt(n int) *Node {
	return Const(reflect.ValueOf(n))
}

func callNode(name string, fn any, kids ...*Node) *Node {
	v := reflect.ValueOf(fn)
	return &Node{Op: OpCall, Name: name, Type: v.Type().Out(0), Fn: v, User: true, Kids: kids}
}

// wide builds sum(newEngine(i).Power...) with n arguments.
func wide(n int) *Node {
	power := reflect.TypeOf(engine{}).Field(0)
	kids := make([]*Node, n)
	for i := range kids {
		eng := callNode("newEngine", newEngine, constInt(i+1))
		kids[i] = &Node{
			Op:   OpHook,
			Name: "power",
			Type: power.Type,
			Kids: []*Node{eng},
			Hook: func(_ Env, _ reflect.Value, args []reflect.Value) (reflect.Value, error) {
				return args[0].Elem().Field(0), nil
			},
		}
	}

	variadic := reflect.ValueOf(func(a, b, c, d, e, f, g, h, i, j, k, l int) int {
		return sum(a, b, c, d, e, f, g, h, i, j, k, l)
	})
	return &Node{Op: OpCall, Name: "sum", Type: variadic.Type().Out(0), Fn: variadic, Kids: kids}
}

func TestCompiler_Compile(t *testing.T) {
	t.Parallel()

	t.Run("runs a constructor plan", func(t *testing.T) {
		t.Parallel()

		c := New(0, nil)
		plan := callNode("newCar", newCar, callNode("newEngine", newEngine, constInt(150)), constInt(4))

		u, err := c.Compile("car", "car", plan)
		require.NoError(t, err)

		v, err := u.Invoke(nil)
		require.NoError(t, err)

		got := v.Interface().(*car)
		assert.Equal(t, 150, got.Engine.Power)
		assert.Equal(t, 4, got.Seats)
	})

	t.Run("same identity returns the cached unit", func(t *testing.T) {
		t.Parallel()

		c := New(0, nil)
		plan := callNode("newEngine", newEngine, constInt(1))

		first, err := c.Compile("id", "engine", plan)
		require.NoError(t, err)
		second, err := c.Compile("id", "engine", plan)
		require.NoError(t, err)

		assert.Same(t, first, second)
		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Compiled)
		assert.Equal(t, 1, stats.Cached)

		cached, ok := c.Lookup("id")
		require.True(t, ok)
		assert.Same(t, first, cached)
	})

	t.Run("concurrent requests compile once", func(t *testing.T) {
		t.Parallel()

		c := New(0, nil)
		plan := callNode("newEngine", newEngine, constInt(1))

		units := make([]*Unit, 16)
		var wg sync.WaitGroup
		for i := range units {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := c.Compile("shared", "engine", plan)
				assert.NoError(t, err)
				units[i] = u
			}(i)
		}
		wg.Wait()

		for _, u := range units {
			assert.Same(t, units[0], u)
		}
		assert.Equal(t, uint64(1), c.Stats().Compiled)
	})

	t.Run("user errors are wrapped", func(t *testing.T) {
		t.Parallel()

		c := New(0, nil)
		plan := callNode("newCar", newCar, callNode("newEngine", newEngine, constInt(1)), constInt(0))

		u, err := c.Compile("bad", "car", plan)
		require.NoError(t, err)

		_, err = u.Invoke(nil)
		var inv InvocationError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, "newCar", inv.Site)
		assert.EqualError(t, inv.Err, "a car needs seats")
	})

	t.Run("panics are recovered with a stack", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		c := New(0, nil)
		plan := callNode("explode", func() *engine { panic(boom) })

		u, err := c.Compile("panic", "explode", plan)
		require.NoError(t, err)

		_, err = u.Invoke(nil)
		var inv InvocationError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, boom, inv.Panic)
		assert.NotEmpty(t, inv.Stack)
		assert.ErrorIs(t, err, boom)
	})
}

func TestCompiler_Split(t *testing.T) {
	t.Parallel()

	whole, err := New(0, nil).Compile("wide", "wide", wide(12))
	require.NoError(t, err)
	assert.Empty(t, whole.Subunits)

	c := New(60, nil)
	split, err := c.Compile("wide", "wide", wide(12))
	require.NoError(t, err)
	assert.NotEmpty(t, split.Subunits)
	assert.LessOrEqual(t, split.Size, 60)
	assert.Greater(t, c.Stats().Splits, uint64(0))

	var walk func(u *Unit)
	walk = func(u *Unit) {
		assert.LessOrEqual(t, u.Size, 60, u.Name)
		for _, s := range u.Subunits {
			walk(s)
		}
	}
	walk(split)

	a, err := whole.Invoke(nil)
	require.NoError(t, err)
	b, err := split.Invoke(nil)
	require.NoError(t, err)
	assert.Equal(t, 78, a.Interface())
	assert.Equal(t, a.Interface(), b.Interface())

	t.Run("a node over budget on its own fails", func(t *testing.T) {
		t.Parallel()

		plan := callNode("sum4", func(a, b, c, d int) int { return a + b + c + d },
			constInt(1), constInt(2), constInt(3), constInt(4))

		_, err := New(5, nil).Compile("tiny", "sum4", plan)
		var ce CompilationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "sum4", ce.Unit)
	})
}

type countingEnter struct {
	mu      sync.Mutex
	entered int
	left    int
}

func (c *countingEnter) Enter(env Env) (Env, func(), error) {
	c.mu.Lock()
	c.entered++
	c.mu.Unlock()
	return env, func() {
		c.mu.Lock()
		c.left++
		c.mu.Unlock()
	}, nil
}

type linkFunc func(env Env) (reflect.Value, error)

func (f linkFunc) Invoke(env Env) (reflect.Value, error) { return f(env) }

func TestCompiler_Steps(t *testing.T) {
	t.Parallel()

	bodyType := reflect.TypeOf(&body{})
	chassisLevel := []int{0}
	mount, ok := reflect.TypeOf(&chassis{}).MethodByName("Mount")
	require.True(t, ok)

	enter := &countingEnter{}
	link := linkFunc(func(Env) (reflect.Value, error) { return reflect.ValueOf("red"), nil })

	plan := &Node{
		Op:   OpInject,
		Type: bodyType,
		Kids: []*Node{
			{Op: OpNew, Type: bodyType},
			{Op: OpSetField, Path: []int{1}, Kids: []*Node{{Op: OpLink, Type: reflect.TypeOf(""), Link: link}}},
			{Op: OpSetField, Path: []int{0, 0}, Kids: []*Node{{Op: OpInline, Type: reflect.TypeOf(0), Enter: enter, Kids: []*Node{constInt(2)}}}},
			{Op: OpInvoke, Name: "Mount", Path: chassisLevel, Fn: mount.Func, Kids: []*Node{constInt(2)}},
		},
	}

	u, err := New(0, nil).Compile("body", "body", plan)
	require.NoError(t, err)

	v, err := u.Invoke(nil)
	require.NoError(t, err)

	got := v.Interface().(*body)
	assert.Equal(t, "red", got.Color)
	require.NotNil(t, got.chassis)
	assert.Equal(t, 4, got.Wheels)
	assert.Equal(t, []string{"mount"}, got.log)
	assert.Equal(t, 1, enter.entered)
	assert.Equal(t, 1, enter.left)

	t.Run("input units run against a given value", func(t *testing.T) {
		t.Parallel()

		plan := &Node{
			Op:   OpInject,
			Type: bodyType,
			Kids: []*Node{
				{Op: OpInput, Type: bodyType},
				{Op: OpSetField, Path: []int{1}, Kids: []*Node{Const(reflect.ValueOf("blue"))}},
			},
		}

		u, err := New(0, nil).Compile("members", "members", plan)
		require.NoError(t, err)

		existing := &body{}
		out, err := u.InvokeWith(nil, reflect.ValueOf(existing))
		require.NoError(t, err)
		assert.Same(t, existing, out.Interface())
		assert.Equal(t, "blue", existing.Color)
	})
}

type shape interface{ Area() float64 }

type square struct{ side float64 }

func (s square) Area() float64 { return s.side * s.side }

func TestConvert(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, v any, to reflect.Type) (any, error) {
		t.Helper()
		node, err := Convert(Const(reflect.ValueOf(v)), to)
		if err != nil {
			return nil, err
		}
		u, err := New(0, nil).Compile(t.Name(), "convert", node)
		require.NoError(t, err)
		out, err := u.Invoke(nil)
		if err != nil {
			return nil, err
		}
		return out.Interface(), nil
	}

	tests := []struct {
		name    string
		in      any
		to      reflect.Type
		want    any
		runtime bool
		compile bool
	}{
		{name: "identity", in: 7, to: reflect.TypeOf(0), want: 7},
		{name: "widen int32 to int64", in: int32(-9), to: reflect.TypeOf(int64(0)), want: int64(-9)},
		{name: "widen uint8 to int16", in: uint8(200), to: reflect.TypeOf(int16(0)), want: int16(200)},
		{name: "widen int16 to float32", in: int16(12), to: reflect.TypeOf(float32(0)), want: float32(12)},
		{name: "narrow in range", in: 100, to: reflect.TypeOf(int8(0)), want: int8(100)},
		{name: "narrow overflow", in: 300, to: reflect.TypeOf(int8(0)), runtime: true},
		{name: "negative to unsigned", in: int64(-1), to: reflect.TypeOf(uint64(0)), runtime: true},
		{name: "unsigned over signed range", in: uint64(1 << 63), to: reflect.TypeOf(int64(0)), runtime: true},
		{name: "fraction to int", in: 1.5, to: reflect.TypeOf(0), runtime: true},
		{name: "integral float to int", in: 3.0, to: reflect.TypeOf(0), want: 3},
		{name: "box into interface", in: square{side: 2}, to: reflect.TypeOf((*shape)(nil)).Elem(), want: square{side: 2}},
		{name: "impossible", in: "text", to: reflect.TypeOf(0), compile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := run(t, tt.in, tt.to)
			switch {
			case tt.compile:
				var ce CompilationError
				assert.ErrorAs(t, err, &ce)
			case tt.runtime:
				var conv ConversionError
				assert.ErrorAs(t, err, &conv)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}

	t.Run("downcast from interface", func(t *testing.T) {
		t.Parallel()

		anyType := reflect.TypeOf((*any)(nil)).Elem()
		src := &Node{
			Op:   OpHook,
			Type: anyType,
			Hook: func(Env, reflect.Value, []reflect.Value) (reflect.Value, error) {
				return reflect.ValueOf(int32(5)), nil
			},
		}

		node, err := Convert(src, reflect.TypeOf(int64(0)))
		require.NoError(t, err)
		u, err := New(0, nil).Compile("unbox", "unbox", node)
		require.NoError(t, err)
		v, err := u.Invoke(nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.Interface())

		node, err = Convert(src, reflect.TypeOf(""))
		require.NoError(t, err)
		u, err = New(0, nil).Compile("mismatch", "mismatch", node)
		require.NoError(t, err)
		_, err = u.Invoke(nil)
		var conv ConversionError
		assert.ErrorAs(t, err, &conv)
	})
}
