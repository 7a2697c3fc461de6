package adaptive

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/fire-monitor/internal/models"
)

func withValue(key string, v float64) models.ThresholdSet {
	ts := models.StandardThresholds()
	ts[key] = v
	return ts
}

func TestThresholdManager_EmptyIsStandard(t *testing.T) {
	m := NewThresholdManager(nil, zerolog.Nop())
	assert.Equal(t, models.StandardThresholds(), m.Current())
	_, ok := m.CurrentVersion()
	assert.False(t, ok)
	assert.Empty(t, m.ChangeLog())
}

func TestThresholdManager_SaveAndRollback(t *testing.T) {
	ctx := context.Background()
	m := NewThresholdManager(newMemStore(), zerolog.Nop())

	ts1 := withValue("co_watch", 25)
	ts2 := withValue("co_watch", 22)

	v1, err := m.Save(ctx, ts1, "first", "")
	require.NoError(t, err)
	v2, err := m.Save(ctx, ts2, "second", "ok")
	require.NoError(t, err)

	assert.Equal(t, uint32(1), v1.Version)
	assert.Equal(t, uint32(2), v2.Version)
	assert.Equal(t, "ok", v1.ValidationResult)
	assert.Equal(t, ts2, m.Current())

	cur, err := m.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ts1, cur)
	assert.Equal(t, ts1, m.Current())

	log := m.ChangeLog()
	require.Len(t, log, 2)
	assert.Equal(t, uint32(2), log[0].Version)
	assert.NotNil(t, log[0].RolledBackAt)
	assert.Nil(t, log[1].RolledBackAt)
	assert.NotNil(t, log[1].AppliedAt)
}

func TestThresholdManager_RollbackPastOldest(t *testing.T) {
	ctx := context.Background()
	m := NewThresholdManager(newMemStore(), zerolog.Nop())

	_, err := m.Save(ctx, withValue("co_watch", 25), "first", "ok")
	require.NoError(t, err)
	_, err = m.Save(ctx, withValue("co_watch", 22), "second", "ok")
	require.NoError(t, err)

	cur, err := m.Rollback(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StandardThresholds(), cur)
	assert.Equal(t, models.StandardThresholds(), m.Current())

	// nothing left to roll back
	cur, err = m.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StandardThresholds(), cur)
}

func TestThresholdManager_RollbackInvalidSteps(t *testing.T) {
	m := NewThresholdManager(nil, zerolog.Nop())
	_, err := m.Rollback(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidSteps)
}

func TestThresholdManager_SaveAfterRollback(t *testing.T) {
	ctx := context.Background()
	m := NewThresholdManager(newMemStore(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := m.Save(ctx, withValue("co_watch", float64(20+i)), "auto", "ok")
		require.NoError(t, err)
	}
	_, err := m.Rollback(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, m.Current()["co_watch"])

	v, err := m.Save(ctx, withValue("co_watch", 28), "auto", "ok")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), v.Version)
	assert.Equal(t, 28.0, m.Current()["co_watch"])

	_, err = m.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, m.Current()["co_watch"])
}

func TestThresholdManager_HistoryTruncated(t *testing.T) {
	ctx := context.Background()
	m := NewThresholdManager(nil, zerolog.Nop())

	for i := 0; i < MaxHistory+5; i++ {
		_, err := m.Save(ctx, withValue("smoke_watch", float64(5+i%5)), "auto", "ok")
		require.NoError(t, err)
	}

	log := m.ChangeLog()
	assert.Len(t, log, MaxHistory)
	assert.Equal(t, uint32(MaxHistory+5), log[0].Version)
	assert.Equal(t, uint32(6), log[MaxHistory-1].Version)
}

func TestThresholdManager_StoreFailureLeavesMemory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewThresholdManager(store, zerolog.Nop())

	ts1 := withValue("co_watch", 25)
	_, err := m.Save(ctx, ts1, "first", "ok")
	require.NoError(t, err)

	store.fail = true
	_, err = m.Save(ctx, withValue("co_watch", 21), "second", "ok")
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, ts1, m.Current())
	assert.Equal(t, 1, m.HistoryCount())

	_, err = m.Rollback(ctx, 1)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, ts1, m.Current())

	store.fail = false
	v, err := m.Save(ctx, withValue("co_watch", 21), "second", "ok")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v.Version, "failed saves do not consume versions")
}

func TestThresholdManager_LoadRehydrates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewThresholdManager(store, zerolog.Nop())

	ts1 := withValue("co_watch", 25)
	_, err := m.Save(ctx, ts1, "first", "ok")
	require.NoError(t, err)
	_, err = m.Save(ctx, withValue("co_watch", 22), "second", "ok")
	require.NoError(t, err)
	_, err = m.Rollback(ctx, 1)
	require.NoError(t, err)

	restarted := NewThresholdManager(store, zerolog.Nop())
	require.NoError(t, restarted.Load(ctx))

	assert.Equal(t, m.Current(), restarted.Current())
	assert.Equal(t, 2, restarted.HistoryCount())

	v, err := restarted.Save(ctx, withValue("co_watch", 27), "third", "ok")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v.Version)
}

func TestThresholdManager_LoadError(t *testing.T) {
	store := newMemStore()
	store.fail = true
	m := NewThresholdManager(store, zerolog.Nop())

	assert.Error(t, m.Load(context.Background()))
	assert.Equal(t, models.StandardThresholds(), m.Current())
}

func TestThresholdManager_CurrentIsCopy(t *testing.T) {
	m := NewThresholdManager(nil, zerolog.Nop())
	_, err := m.Save(context.Background(), withValue("co_watch", 25), "first", "ok")
	require.NoError(t, err)

	cur := m.Current()
	cur["co_watch"] = 1
	assert.Equal(t, 25.0, m.Current()["co_watch"])
}
