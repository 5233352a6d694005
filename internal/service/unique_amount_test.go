package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateUsesBackendCandidate(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	got, err := e.unique.Allocate(ctx, "u1", "mobilis", dec("1000"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1003")))

	owner, found, _ := e.cache.Get(ctx, uniqueAmountKey("mobilis", got))
	assert.True(t, found)
	assert.Equal(t, "u1", owner)
}

func TestAllocateFallsBackOnCollision(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	require.NoError(t, e.cache.Set(ctx, uniqueAmountKey("mobilis", dec("1003")), "u2", 0))
	require.NoError(t, e.cache.Set(ctx, uniqueAmountKey("mobilis", dec("1001")), "u3", 0))

	got, err := e.unique.Allocate(ctx, "u1", "mobilis", dec("1000"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1002")), "got %s", got)
}

func TestAllocateIsPerOperator(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	a, err := e.unique.Allocate(ctx, "u1", "mobilis", dec("1000"))
	require.NoError(t, err)
	b, err := e.unique.Allocate(ctx, "u2", "djezzy", dec("1000"))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestAllocateFallsBackOnBackendError(t *testing.T) {
	e := newTestEnv()
	e.backend.uniqueErr = errors.New("rpc timeout")

	got, err := e.unique.Allocate(context.Background(), "u1", "ooredoo", dec("500"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("501")))
}

func TestAllocateExhausted(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	for _, amount := range []string{"1001", "1002", "1003", "1004", "1005"} {
		require.NoError(t, e.cache.Set(ctx, uniqueAmountKey("mobilis", dec(amount)), "other", 0))
	}

	_, err := e.unique.Allocate(ctx, "u1", "mobilis", dec("1000"))
	assert.ErrorIs(t, err, ErrNoUniqueAmount)
}

func TestAllocateConcurrentUsersNeverShareAmount(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	seen := make(map[string]bool)
	for _, user := range []string{"u1", "u2", "u3", "u4"} {
		got, err := e.unique.Allocate(ctx, user, "mobilis", dec("2000"))
		require.NoError(t, err)
		key := got.StringFixed(2)
		assert.False(t, seen[key], "duplicate amount %s", key)
		seen[key] = true
	}
}

func TestHoldAndRelease(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	amount := dec("1003")

	require.NoError(t, e.unique.Hold(ctx, "u1", "mobilis", amount))
	assert.NoError(t, e.unique.Hold(ctx, "u1", "mobilis", amount), "owner may extend")
	assert.ErrorIs(t, e.unique.Hold(ctx, "u2", "mobilis", amount), ErrNoUniqueAmount)

	e.unique.Release(ctx, "u2", "mobilis", amount)
	assert.True(t, e.cache.has(uniqueAmountKey("mobilis", amount)), "other user cannot release")

	e.unique.Release(ctx, "u1", "mobilis", amount)
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", amount)))
	assert.NoError(t, e.unique.Hold(ctx, "u2", "mobilis", amount))
}

func TestUniqueAmountKeyFormat(t *testing.T) {
	assert.Equal(t, "opay:unique:djezzy:1003.00", uniqueAmountKey("djezzy", dec("1003")))
	assert.Equal(t, "opay:unique:djezzy:1003.50", uniqueAmountKey("djezzy", dec("1003.5")))
}

func TestLateReleaseKeepsNewOwner(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	key := uniqueAmountKey("mobilis", dec("1003"))

	require.NoError(t, e.unique.Hold(ctx, "u1", "mobilis", dec("1003")))
	e.cache.expire(key)

	got, err := e.unique.Allocate(ctx, "u2", "mobilis", dec("1000"))
	require.NoError(t, err)
	require.True(t, got.Equal(dec("1003")))

	// u1 的申请过期/审核后才释放，不能删掉 u2 的占用
	e.unique.Release(ctx, "u1", "mobilis", dec("1003"))

	third, err := e.unique.Allocate(ctx, "u3", "mobilis", dec("1000"))
	require.NoError(t, err)
	assert.False(t, third.Equal(got), "u2 and u3 share %s", got)
}

func TestHoldOutlivesRequestTimeout(t *testing.T) {
	e := newTestEnv()
	assert.Greater(t, e.unique.holdTTL, e.deposits.timeout)
	assert.GreaterOrEqual(t, e.unique.holdTTL-e.deposits.timeout, holdMargin)
}

func TestAllocateIgnoresCandidateOutsideWindow(t *testing.T) {
	e := newTestEnv()
	e.backend.uniqueAmount = dec("7")

	got, err := e.unique.Allocate(context.Background(), "u1", "mobilis", dec("1000"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1001")), "got %s", got)
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", dec("7"))))
}
