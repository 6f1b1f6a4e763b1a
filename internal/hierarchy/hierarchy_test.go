package hierarchy

import (
	"io"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marker struct{}

type root struct {
	_    struct{} `inject:"Init, Start"`
	Conn string   `inject:""`
	name string
}

func (r *root) Init()  {}
func (r *root) Start() {}

type middle struct {
	root
	Cache string `inject:""`
}

func (m *middle) Flush() {}

type leaf struct {
	marker
	*middle
	Handler string `inject:""`
}

func (l *leaf) Init() {}

type closer struct {
	io.Closer
	Path string
}

type shadowed struct {
	io.Closer
}

func (s *shadowed) Close() error { return nil }

type left struct{}

func (left) Run() {}

type right struct{}

func (right) Run() {}

type both struct {
	left
	right
}

type stateless struct{}

func (stateless) Ping() {}

type mixed struct {
	stateless
	Name string
}

type cyclic struct {
	*cyclic
	Value int
}

func levelTypes(t *Table) []reflect.Type {
	out := make([]reflect.Type, 0, len(t.Levels))
	for _, l := range t.Levels {
		out = append(out, l.Type)
	}
	return out
}

func indexOf(t *Table, typ reflect.Type) int {
	for i, l := range t.Levels {
		if l.Type == typ {
			return i
		}
	}
	return -1
}

func TestFor(t *testing.T) {
	t.Parallel()

	t.Run("levels are ordered root first", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(&leaf{}))
		assert.Equal(t, []reflect.Type{
			reflect.TypeOf(root{}),
			reflect.TypeOf(middle{}),
			reflect.TypeOf(leaf{}),
		}, levelTypes(table))
		assert.Equal(t, 2, table.LeafIndex())
		assert.Equal(t, []int{1, 0}, table.Levels[0].Path)
		assert.Equal(t, []int{1}, table.Levels[1].Path)
		assert.Empty(t, table.Levels[2].Path)
	})

	t.Run("fields and marks", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(leaf{}))
		base := table.Levels[0]

		require.Len(t, base.Fields, 2)
		assert.Equal(t, "Conn", base.Fields[0].Name)
		assert.True(t, base.Fields[0].Exported)
		assert.Equal(t, "name", base.Fields[1].Name)
		assert.False(t, base.Fields[1].Exported)
		assert.Equal(t, []string{"Init", "Start"}, base.Marks)
	})

	t.Run("annotations come from the leaf only", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(leaf{}))
		assert.Equal(t, []reflect.Type{reflect.TypeOf(marker{})}, table.Annotations)
	})

	t.Run("declared methods exclude promoted ones", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(leaf{}))
		base, mid, lf := table.Levels[0], table.Levels[1], table.Levels[2]

		assert.ElementsMatch(t, []string{"Init", "Start"}, base.Declared)
		assert.Equal(t, []string{"Flush"}, mid.Declared)
		assert.Equal(t, []string{"Init"}, lf.Declared)
		assert.True(t, lf.Declares("Init"))
		assert.False(t, lf.Declares("Start"))
	})

	t.Run("tables are cached per type", func(t *testing.T) {
		t.Parallel()

		assert.Same(t, For(reflect.TypeOf(leaf{})), For(reflect.TypeOf(&leaf{})))
	})

	t.Run("non struct types produce empty tables", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(42))
		assert.Empty(t, table.Levels)
		assert.Equal(t, -1, table.LeafIndex())
		assert.NotNil(t, table.Index)
	})

	t.Run("zero-size types with methods are levels", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(mixed{}))
		assert.Equal(t, []reflect.Type{
			reflect.TypeOf(stateless{}),
			reflect.TypeOf(mixed{}),
		}, levelTypes(table))
		assert.Equal(t, []string{"Ping"}, table.Levels[0].Declared)
		assert.Equal(t, []reflect.Type{reflect.TypeOf(stateless{})}, table.Annotations)

		res := table.Index.Resolve(table.LeafIndex(), "Ping")
		assert.True(t, res.Found)
		assert.Equal(t, 0, res.Level)
	})

	t.Run("self embedding terminates", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(cyclic{}))
		require.Len(t, table.Levels, 1)
		assert.Equal(t, "Value", table.Levels[0].Fields[0].Name)
	})
}

func TestOverrideIndex(t *testing.T) {
	t.Parallel()

	t.Run("a redeclared method is overridden", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(leaf{}))
		base := indexOf(table, reflect.TypeOf(root{}))
		lf := indexOf(table, reflect.TypeOf(leaf{}))

		_, ok := table.Index.Overrider(base, "Start")
		assert.False(t, ok)
		_, ok = table.Index.Overrider(lf, "Init")
		assert.False(t, ok)

		over, ok := table.Index.Overrider(base, "Init")
		require.True(t, ok)
		assert.Equal(t, lf, over)
	})

	t.Run("resolve picks the shallowest declaration", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(leaf{}))
		lf := table.LeafIndex()

		res := table.Index.Resolve(lf, "Init")
		assert.True(t, res.Found)
		assert.False(t, res.Abstract)
		assert.Equal(t, lf, res.Level)

		res = table.Index.Resolve(lf, "Start")
		assert.True(t, res.Found)
		assert.Equal(t, indexOf(table, reflect.TypeOf(root{})), res.Level)

		res = table.Index.Resolve(lf, "Missing")
		assert.False(t, res.Found)
	})

	t.Run("interface methods are abstract", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(closer{}))
		res := table.Index.Resolve(table.LeafIndex(), "Close")
		assert.True(t, res.Found)
		assert.True(t, res.Abstract)
	})

	t.Run("a declaration shadows an embedded interface", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(shadowed{}))
		res := table.Index.Resolve(table.LeafIndex(), "Close")
		assert.True(t, res.Found)
		assert.False(t, res.Abstract)
	})

	t.Run("equal depth declarations are ambiguous", func(t *testing.T) {
		t.Parallel()

		table := For(reflect.TypeOf(both{}))
		res := table.Index.Resolve(table.LeafIndex(), "Run")
		assert.True(t, res.Found)
		assert.True(t, res.Ambiguous)
	})
}
