package digrule_test

import (
	"errors"
	"testing"

	"github.com/junioryono/kiln"
	"github.com/junioryono/kiln/digrule"
	"github.com/junioryono/kiln/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"
)

type region string

func (r region) QualifierName() string { return "region:" + string(r) }

func newContainer(t *testing.T) *dig.Container {
	t.Helper()

	c := dig.New()
	require.NoError(t, c.Provide(func() *testutil.Database {
		return &testutil.Database{Name: "from dig"}
	}))
	require.NoError(t, c.Provide(func() *testutil.Cache {
		cache := testutil.NewCache()
		cache.Set("tier", "hot")
		return cache
	}, dig.Name("hot")))
	return c
}

func TestRule_ServesContainerValues(t *testing.T) {
	t.Parallel()

	inj := testutil.NewInjectorBuilder(t).
		Module(digrule.Module(newContainer(t))).
		Singleton(testutil.NewTestLogger, kiln.As(new(testutil.Logger))).
		Constructor(testutil.NewService).
		Build()

	svc := testutil.AssertInstance[*testutil.Service](t, inj)
	assert.Equal(t, "from dig", svc.Database.Name)

	again := testutil.AssertInstance[*testutil.Database](t, inj)
	assert.Same(t, svc.Database, again)

	hot := testutil.AssertInstance[*testutil.Cache](t, inj, kiln.Named("hot"))
	tier, ok := hot.Get("tier")
	require.True(t, ok)
	assert.Equal(t, "hot", tier)

	b, err := inj.Binding(kiln.KeyOf[*testutil.Database]())
	require.NoError(t, err)
	assert.Equal(t, kiln.CreationKind, b.Kind())
	assert.Equal(t, "singleton", b.ScopeName())
}

func TestRule_LeavesOtherKeys(t *testing.T) {
	t.Parallel()

	r := digrule.New(newContainer(t))

	_, ok := r.Create(kiln.KeyOf[*testutil.Service]())
	assert.False(t, ok, "not in the container")

	_, ok = r.Create(kiln.KeyOf[*testutil.Cache]())
	assert.False(t, ok, "only the named cache is provided")

	_, ok = r.Create(kiln.KeyOf[*testutil.Database](region("eu")))
	assert.False(t, ok, "qualifiers other than names have no dig equivalent")

	_, ok = r.Create(kiln.KeyOf[*testutil.Database](kiln.Named("a"), region("eu")))
	assert.False(t, ok)

	target, ok := r.Create(kiln.KeyOf[*testutil.Cache](kiln.Named("hot")))
	require.True(t, ok)
	assert.Contains(t, target.String(), "dig")
}

func TestRule_ContainerFailure(t *testing.T) {
	t.Parallel()

	c := dig.New()
	require.NoError(t, c.Provide(func() (*testutil.Counted, error) {
		return nil, errors.New("dig constructor failed")
	}))

	inj := testutil.NewInjectorBuilder(t).
		Module(digrule.Module(c)).
		Build()

	_, err := kiln.Get[*testutil.Counted](t.Context(), inj)
	require.Error(t, err)
	assert.True(t, kiln.IsUserCode(err))
	assert.Contains(t, err.Error(), "dig constructor failed")
}
