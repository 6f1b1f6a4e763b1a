package reflection_test

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/junioryono/kiln/internal/reflection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Logger struct{}
type Database struct{}
type Cache struct{}

type UserService struct {
	DB  *Database
	Log *Logger
}

func NewUserService(db *Database, log *Logger) *UserService {
	return &UserService{DB: db, Log: log}
}

func NewDatabase() (*Database, error) {
	return &Database{}, nil
}

type ServiceParams struct {
	reflection.In

	DB      *Database `name:"primary"`
	Cache   *Cache    `optional:"true"`
	Logger  *Logger   `inject:"optional"`
	Skipped *Logger   `inject:"-"`
	hidden  *Logger
}

func NewFromParams(p ServiceParams) *UserService {
	return &UserService{DB: p.DB, Log: p.Logger}
}

func NewFromParamsPtr(p *ServiceParams) *UserService {
	return &UserService{DB: p.DB}
}

func TestAnalyzer_Analyze(t *testing.T) {
	t.Parallel()

	t.Run("regular parameters", func(t *testing.T) {
		t.Parallel()

		a := reflection.New()
		info, err := a.Analyze(NewUserService)
		require.NoError(t, err)

		assert.Equal(t, "reflection_test.NewUserService", info.Name)
		assert.Equal(t, reflect.TypeOf(&UserService{}), info.Result)
		assert.False(t, info.HasErrorReturn)
		assert.False(t, info.IsParamObject)
		require.Len(t, info.Parameters, 2)
		assert.Equal(t, reflect.TypeOf(&Database{}), info.Parameters[0].Type)
		assert.Equal(t, 1, info.Parameters[1].Index)
	})

	t.Run("error return", func(t *testing.T) {
		t.Parallel()

		info, err := reflection.New().Analyze(NewDatabase)
		require.NoError(t, err)
		assert.True(t, info.HasErrorReturn)
		assert.Equal(t, reflect.TypeOf(&Database{}), info.Result)
		assert.Empty(t, info.Parameters)
	})

	t.Run("parameter objects", func(t *testing.T) {
		t.Parallel()

		for _, ctor := range []any{NewFromParams, NewFromParamsPtr} {
			info, err := reflection.New().Analyze(ctor)
			require.NoError(t, err)
			assert.True(t, info.IsParamObject)
			require.Len(t, info.Parameters, 3)

			db, cache, logger := info.Parameters[0], info.Parameters[1], info.Parameters[2]
			assert.Equal(t, "DB", db.Name)
			assert.Equal(t, "primary", db.Qualifier)
			assert.False(t, db.Optional)
			assert.True(t, cache.Optional)
			assert.True(t, logger.Optional)
		}
	})

	t.Run("invalid constructors", func(t *testing.T) {
		t.Parallel()

		a := reflection.New()
		var nilFunc func() *Logger

		tests := []struct {
			name string
			ctor any
			msg  string
		}{
			{"nil", nil, "cannot be nil"},
			{"typed nil", nilFunc, "cannot be nil"},
			{"not a function", 42, "must be a function"},
			{"no results", func() {}, "must return"},
			{"only error", func() error { return nil }, "must return"},
			{"two values", func() (*Logger, *Cache) { return nil, nil }, "must return"},
			{"variadic", func(...int) *Logger { return nil }, "variadic"},
		}

		for _, tt := range tests {
			_, err := a.Analyze(tt.ctor)
			require.Error(t, err, tt.name)
			assert.True(t, strings.Contains(err.Error(), tt.msg), "%s: %v", tt.name, err)
		}
	})

	t.Run("cache keeps each constructor's value", func(t *testing.T) {
		t.Parallel()

		a := reflection.New()
		build := func(n int) func() *Logger {
			return func() *Logger {
				if n < 0 {
					panic(errors.New("unreachable"))
				}
				return &Logger{}
			}
		}

		first, second := build(1), build(2)
		i1, err := a.Analyze(first)
		require.NoError(t, err)
		size := a.CacheSize()
		assert.Equal(t, 1, size)

		again, err := a.Analyze(first)
		require.NoError(t, err)
		assert.Equal(t, size, a.CacheSize(), "analyzing the same function hits the cache")
		assert.NotSame(t, i1, again)

		i2, err := a.Analyze(second)
		require.NoError(t, err)
		assert.Equal(t, reflect.ValueOf(first).Pointer(), i1.Value.Pointer())
		assert.Equal(t, reflect.ValueOf(second).Pointer(), i2.Value.Pointer())
		assert.Equal(t, i1.Type, i2.Type)
		assert.NotSame(t, i1, i2)

		a.Clear()
		assert.Equal(t, 0, a.CacheSize())
	})

	t.Run("concurrent analysis", func(t *testing.T) {
		t.Parallel()

		a := reflection.New()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := a.Analyze(NewUserService)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, a.CacheSize())
	})
}

func TestParseTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  reflect.StructTag
		want reflection.TagInfo
	}{
		{``, reflection.TagInfo{}},
		{`name:"primary"`, reflection.TagInfo{Name: "primary"}},
		{`optional:"true"`, reflection.TagInfo{Optional: true}},
		{`optional:"false"`, reflection.TagInfo{}},
		{`inject:"optional" name:"x"`, reflection.TagInfo{Optional: true, Name: "x"}},
		{`inject:"-"`, reflection.TagInfo{Ignore: true}},
		{`inject:""`, reflection.TagInfo{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, reflection.ParseTag(tt.tag), string(tt.tag))
	}
}

func TestIsParamObject(t *testing.T) {
	t.Parallel()

	assert.True(t, reflection.IsParamObject(reflect.TypeOf(ServiceParams{})))
	assert.True(t, reflection.IsParamObject(reflect.TypeOf(&ServiceParams{})))
	assert.False(t, reflection.IsParamObject(reflect.TypeOf(UserService{})))
	assert.False(t, reflection.IsParamObject(reflect.TypeOf(0)))
}
