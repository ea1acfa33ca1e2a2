package geoerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(Validation, "location.search", "query too short")
	assert.Equal(t, "location.search: validation: query too short", err.Error())

	wrapped := Wrap(Storage, "", errors.New("disk full"))
	assert.Equal(t, "storage: disk full", wrapped.Error())

	both := Wrapf(Timeout, "location.current", context.DeadlineExceeded, "after %s", "10s")
	assert.Equal(t, "location.current: timeout: after 10s: context deadline exceeded", both.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(Storage, "op", nil))
	assert.NoError(t, Wrapf(Storage, "op", nil, "x"))
}

func TestKindOfAndIs(t *testing.T) {
	base := Wrap(Storage, "storage.get", errors.New("boom"))
	outer := fmt.Errorf("favorites: %w", Wrap(Sync, "favorites.sync", base))

	assert.Equal(t, Sync, KindOf(outer))
	assert.True(t, Is(outer, Sync))
	assert.True(t, Is(outer, Storage))
	assert.False(t, Is(outer, NotFound))
	assert.Equal(t, Generic, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, Generic))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := New(NotFound, "", "duplicate favorite")
	err := Newf(NotFound, "favorites.add", "duplicate favorite")
	require.ErrorIs(t, err, sentinel)

	other := New(NotFound, "", "capacity reached")
	assert.NotErrorIs(t, err, other)

	var target *Error
	require.ErrorAs(t, fmt.Errorf("ctx: %w", err), &target)
	assert.Equal(t, "favorites.add", target.Op)
}

func TestUnwrapReachesCause(t *testing.T) {
	err := Wrap(Timeout, "location.current", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
