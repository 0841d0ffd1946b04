package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlay(t *testing.T) {
	testStore(t, func(*testing.T) Store { return NewOverlay(NewMemory()) })
}

func TestOverlayReadsMergeWithBase(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	require.NoError(t, base.HSet(ctx, "bal", map[string]string{"amount": "1", "activity": "hold"}))
	require.NoError(t, base.SAdd(ctx, "gt0", "a", "b"))
	require.NoError(t, base.TSAdd(ctx, "m", 1, "10"))
	require.NoError(t, base.TSAdd(ctx, "m", 3, "30"))

	o := NewOverlay(base)
	require.NoError(t, o.HSet(ctx, "bal", map[string]string{"amount": "2"}))
	require.NoError(t, o.SRem(ctx, "gt0", "a"))
	require.NoError(t, o.SAdd(ctx, "gt0", "c"))
	require.NoError(t, o.TSAdd(ctx, "m", 2, "20"))
	require.NoError(t, o.TSAdd(ctx, "m", 3, "33"))

	all, err := o.HGetAll(ctx, "bal")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"amount": "2", "activity": "hold"}, all)

	members, err := o.SMembers(ctx, "gt0")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, members)
	ok, err := o.SIsMember(ctx, "gt0", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	s, _, err := o.TSLatest(ctx, "m", 2)
	require.NoError(t, err)
	assert.Equal(t, Sample{Ts: 2, Value: "20"}, s)
	s, _, err = o.TSLatest(ctx, "m", 5)
	require.NoError(t, err)
	assert.Equal(t, Sample{Ts: 3, Value: "33"}, s)
	rng, err := o.TSRange(ctx, "m", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Ts: 2, Value: "20"}, {Ts: 3, Value: "33"}}, rng)

	wrote, err := o.HSetNX(ctx, "bal", "activity", "lend")
	require.NoError(t, err)
	assert.False(t, wrote)

	// Nothing reaches the base before Commit.
	v, _, err := base.HGet(ctx, "bal", "amount")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	baseMembers, err := base.SMembers(ctx, "gt0")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, baseMembers)
}

func TestOverlayCommit(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	o := NewOverlay(base)

	require.NoError(t, o.HSet(ctx, "bal", map[string]string{"amount": "5"}))
	require.NoError(t, o.SAdd(ctx, "gt0", "a"))
	require.NoError(t, o.Set(ctx, "cursor", "7"))
	assert.Equal(t, 3, o.Pending())

	require.NoError(t, o.Commit(ctx))
	assert.Zero(t, o.Pending())

	v, ok, err := base.Get(ctx, "cursor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", v)
	v, _, err = base.HGet(ctx, "bal", "amount")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
	ok, err = base.SIsMember(ctx, "gt0", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingApply struct {
	*Memory
	fails int
}

func (f *failingApply) Apply(ctx context.Context, ops []Op) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("connection reset")
	}
	return f.Memory.Apply(ctx, ops)
}

func TestOverlayCommitKeepsWritesOnError(t *testing.T) {
	ctx := context.Background()
	base := &failingApply{Memory: NewMemory(), fails: 1}
	o := NewOverlay(base)
	require.NoError(t, o.Set(ctx, "cursor", "3"))

	require.Error(t, o.Commit(ctx))
	assert.Equal(t, 1, o.Pending())
	_, ok, err := base.Get(ctx, "cursor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, o.Commit(ctx))
	v, _, err := base.Get(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}
