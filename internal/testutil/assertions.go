package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/junioryono/kiln"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertInstance gets T and fails the test on error or a nil result.
func AssertInstance[T any](t *testing.T, inj *kiln.Injector, qualifiers ...kiln.Qualifier) T {
	t.Helper()
	v, err := kiln.Get[T](context.Background(), inj, qualifiers...)
	require.NoError(t, err, "failed to get instance of %T", *new(T))
	require.NotNil(t, v, "instance is nil")
	return v
}

// AssertNotFound checks that nothing can produce T.
func AssertNotFound[T any](t *testing.T, inj *kiln.Injector, qualifiers ...kiln.Qualifier) {
	t.Helper()
	_, err := kiln.Get[T](context.Background(), inj, qualifiers...)
	require.Error(t, err)
	assert.True(t, kiln.IsNotFound(err), "expected not found error, got: %v", err)
}

// AssertRootError checks err is a *kiln.Error for the key k.
func AssertRootError(t *testing.T, err error, k kiln.Key) *kiln.Error {
	t.Helper()
	var root *kiln.Error
	require.True(t, errors.As(err, &root), "expected *kiln.Error, got %T: %v", err, err)
	assert.True(t, root.Key.Same(k), "expected key %s, got %s", k, root.Key)
	return root
}

// AssertCause checks that target appears among the causes of err.
func AssertCause(t *testing.T, err error, target error) {
	t.Helper()
	for _, c := range kiln.Causes(err) {
		if errors.Is(c, target) {
			return
		}
	}
	assert.Fail(t, "cause not found", "%v not among causes of %v", target, err)
}

// AssertPanics checks that f panics.
func AssertPanics(t *testing.T, f func(), msgAndArgs ...any) {
	t.Helper()
	assert.Panics(t, f, msgAndArgs...)
}
