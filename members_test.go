package kiln_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/junioryono/kiln"
	"github.com/junioryono/kiln/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	firstDep  struct{ id int }
	secondDep struct{ id int }
	thirdDep  struct{ id int }
)

type Base struct {
	First *firstDep `inject:""`
	_     struct{}  `inject:"Init"`
}

func (b *Base) Init(r *testutil.Recorder) {
	r.Record("base.Init")
}

type Mid struct {
	Base
	Second *secondDep `inject:""`
}

type Leaf struct {
	Mid
	Third *thirdDep `inject:""`
}

func (l *Leaf) Init(r *testutil.Recorder) {
	r.Record("leaf.Init")
}

func hierarchyInjector(t *testing.T, rec *testutil.Recorder) *kiln.Injector {
	return testutil.NewInjectorBuilder(t).
		Install(kiln.Bind(kiln.KeyOf[*testutil.Recorder](), kiln.ToInstance(rec))).
		Constructor(
			func(r *testutil.Recorder) *firstDep { r.Record("first"); return &firstDep{id: 1} },
			func(r *testutil.Recorder) *secondDep { r.Record("second"); return &secondDep{id: 2} },
			func(r *testutil.Recorder) *thirdDep { r.Record("third"); return &thirdDep{id: 3} },
		).
		Build()
}

func TestMembers_HierarchyOrder(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := hierarchyInjector(t, rec)

	leaf := testutil.AssertInstance[*Leaf](t, inj)
	assert.Equal(t, 1, leaf.First.id)
	assert.Equal(t, 2, leaf.Second.id)
	assert.Equal(t, 3, leaf.Third.id)

	assert.Equal(t, []string{"first", "second", "third", "leaf.Init"}, rec.Events())
	assert.Equal(t, 0, rec.Count("base.Init"), "overridden declaration never runs")
	assert.Equal(t, 1, rec.Count("leaf.Init"), "overriding declaration runs once")

	b, err := inj.Binding(kiln.KeyOf[*Leaf]())
	require.NoError(t, err)
	assert.Equal(t, []string{"Base.First", "Mid.Second", "Leaf.Third", "Leaf.Init()"}, b.Recipe().Members)
}

func TestMembers_MarkedMethodRunsOnce(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := hierarchyInjector(t, rec)

	m := testutil.AssertInstance[*Mid](t, inj)
	assert.NotNil(t, m.First)
	assert.Equal(t, 1, rec.Count("base.Init"), "not overridden below Mid")
}

type startMixin struct{}

func (startMixin) Start(r *testutil.Recorder) {
	r.Record("mixin.Start")
}

type mixinHost struct {
	startMixin
	_ struct{} `inject:"Start"`
}

func TestMembers_StatelessMixin(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := hierarchyInjector(t, rec)

	testutil.AssertInstance[*mixinHost](t, inj)
	assert.Equal(t, []string{"mixin.Start"}, rec.Events())

	b, err := inj.Binding(kiln.KeyOf[*mixinHost]())
	require.NoError(t, err)
	assert.Equal(t, []string{"mixinHost.Start()"}, b.Recipe().Members)
}

type Starter interface {
	Start()
}

type abstractStart struct {
	Starter
	_ struct{} `inject:"Start"`
}

type immutable struct {
	dep *firstDep `inject:""`
}

type badReturn struct {
	_ struct{} `inject:"Compute"`
}

func (*badReturn) Compute() int { return 1 }

type missingMethod struct {
	_ struct{} `inject:"Nowhere"`
}

type failingInit struct {
	_ struct{} `inject:"Init"`
}

var errInit = errors.New("init failed")

func (*failingInit) Init() error { return errInit }

func TestMembers_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		get   func(*kiln.Injector) error
		check func(t *testing.T, err error)
	}{
		{
			name: "abstract method",
			get:  get[*abstractStart],
			check: func(t *testing.T, err error) {
				var target kiln.AbstractMethodError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "Start", target.Method)
			},
		},
		{
			name: "immutable field",
			get:  get[*immutable],
			check: func(t *testing.T, err error) {
				var target kiln.ImmutableFieldError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "dep", target.Field)
			},
		},
		{
			name: "method with a result",
			get:  get[*badReturn],
			check: func(t *testing.T, err error) {
				var target kiln.InvalidMethodError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "Compute", target.Method)
			},
		},
		{
			name: "marked method that does not exist",
			get:  get[*missingMethod],
			check: func(t *testing.T, err error) {
				var target kiln.InvalidMethodError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "Nowhere", target.Method)
			},
		},
		{
			name: "method returning an error",
			get:  get[*failingInit],
			check: func(t *testing.T, err error) {
				assert.True(t, kiln.IsUserCode(err))
				assert.ErrorIs(t, err, errInit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inj := testutil.NewInjectorBuilder(t).Build()
			err := tt.get(inj)
			require.Error(t, err)
			if tt.name != "method returning an error" {
				assert.True(t, kiln.IsConfigurationError(err), "got %v", err)
			}
			tt.check(t, err)
		})
	}
}

func get[T any](inj *kiln.Injector) error {
	_, err := kiln.Get[T](context.Background(), inj)
	return err
}

func TestMembers_InjectMembers(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := hierarchyInjector(t, rec)

	leaf := &Leaf{}
	require.NoError(t, inj.InjectMembers(context.Background(), leaf))
	assert.NotNil(t, leaf.First)
	assert.NotNil(t, leaf.Second)
	assert.NotNil(t, leaf.Third)
	assert.Equal(t, 1, rec.Count("leaf.Init"))

	assert.ErrorIs(t, inj.InjectMembers(context.Background(), nil), kiln.ErrNilInstance)
}

func TestMembers_MembersInjector(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := hierarchyInjector(t, rec)

	mi, err := inj.GetMembersInjector(reflect.TypeOf(&Leaf{}))
	require.NoError(t, err)
	again, err := inj.GetMembersInjector(reflect.TypeOf(&Leaf{}))
	require.NoError(t, err)
	assert.Same(t, mi, again, "injectors are cached per type")

	for i := 0; i < 3; i++ {
		leaf := &Leaf{}
		out, err := mi.Inject(context.Background(), leaf)
		require.NoError(t, err)
		assert.Same(t, leaf, out)
		assert.NotNil(t, leaf.Third)
	}
	assert.Equal(t, 3, rec.Count("leaf.Init"))

	_, err = mi.Inject(context.Background(), &Mid{})
	assert.ErrorIs(t, err, kiln.ErrNilInstance)
}

type audited struct {
	Name  string
	Audit []string
}

func TestMembers_CustomInjector(t *testing.T) {
	t.Parallel()

	inj := testutil.NewInjectorBuilder(t).
		Provide(func() *testutil.Database { return &testutil.Database{Name: "audit"} }).
		Module(kiln.UseMembersInjectorFactory(func(t reflect.Type) (kiln.CustomInjector, bool) {
			if t != reflect.TypeOf(&audited{}) {
				return kiln.CustomInjector{}, false
			}
			return kiln.CustomInjector{
				Name: "audit",
				Deps: []kiln.Key{kiln.KeyOf[*testutil.Database]()},
				Inject: func(instance any, deps []any) error {
					a := instance.(*audited)
					a.Audit = append(a.Audit, deps[0].(*testutil.Database).Name)
					return nil
				},
			}, true
		})).
		Build()

	a := testutil.AssertInstance[*audited](t, inj)
	assert.Equal(t, []string{"audit"}, a.Audit)
}

func TestMembers_CustomRule(t *testing.T) {
	t.Parallel()

	type config struct {
		Log testutil.Logger
		DB  *testutil.Database
	}

	inj := testutil.NewInjectorBuilder(t).
		Singleton(testutil.NewTestLogger, kiln.As(new(testutil.Logger))).
		Module(kiln.UseMembersRule(func(m kiln.Member) (kiln.Decision, error) {
			if m.Kind == kiln.FieldMember && m.Owner == reflect.TypeOf(config{}) && m.Type.Kind() == reflect.Interface {
				return kiln.Inject, nil
			}
			return kiln.Abstain, nil
		})).
		Build()

	c := testutil.AssertInstance[*config](t, inj)
	assert.NotNil(t, c.Log)
	assert.Nil(t, c.DB, "left to the default rules, which skip untagged fields")
}

type greeter struct {
	Greeting string
}

func TestMembers_Listeners(t *testing.T) {
	t.Parallel()

	rec := &testutil.Recorder{}
	inj := testutil.NewInjectorBuilder(t).
		Module(
			kiln.Listen(reflect.TypeOf(&greeter{}), func(_ context.Context, v any) (any, error) {
				rec.Record("first")
				v.(*greeter).Greeting = "hello"
				return nil, nil
			}),
			kiln.Listen(reflect.TypeOf(&greeter{}), func(_ context.Context, v any) (any, error) {
				rec.Record("second")
				return &greeter{Greeting: v.(*greeter).Greeting + ", world"}, nil
			}),
		).
		Build()

	g := testutil.AssertInstance[*greeter](t, inj)
	assert.Equal(t, "hello, world", g.Greeting)
	assert.Equal(t, []string{"first", "second"}, rec.Events())

	b, err := inj.Binding(kiln.KeyOf[*greeter]())
	require.NoError(t, err)
	assert.Len(t, b.Recipe().Listeners, 2)
}
