package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "amia.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetDispatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	d := &Dispatch{
		PluginID:   "echo",
		TriggerID:  "echo-cmd",
		Kind:       "text_command",
		UserID:     10001,
		GroupID:    20002,
		Summary:    "/echo hello",
		Status:     "ok",
		DurationMs: 12,
	}
	require.NoError(t, s.RecordDispatch(ctx, d))
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	got, err := s.GetDispatch(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "echo", got.PluginID)
	assert.Equal(t, "echo-cmd", got.TriggerID)
	assert.Equal(t, int64(10001), got.UserID)
	assert.Equal(t, int64(20002), got.GroupID)
	assert.Equal(t, "/echo hello", got.Summary)
	assert.Equal(t, int64(12), got.DurationMs)
}

func TestGetDispatchMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got, err := s.GetDispatch(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListDispatchesFilterAndPage(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		pid := "echo"
		if i%2 == 1 {
			pid = "dice"
		}
		require.NoError(t, s.RecordDispatch(ctx, &Dispatch{
			PluginID:  pid,
			TriggerID: "t1",
			Kind:      "text_pattern",
			Status:    "ok",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListDispatches(ctx, ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	// Newest first.
	assert.True(t, all[0].CreatedAt.After(all[4].CreatedAt))

	echo, err := s.ListDispatches(ctx, ListOpts{PluginID: "echo"})
	require.NoError(t, err)
	assert.Len(t, echo, 3)

	paged, err := s.ListDispatches(ctx, ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)

	// Offset without a limit still pages from the top.
	tail, err := s.ListDispatches(ctx, ListOpts{Offset: 3})
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestPluginStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		status := "ok"
		if i == 3 {
			status = "error"
		}
		require.NoError(t, s.RecordDispatch(ctx, &Dispatch{
			PluginID:   "echo",
			TriggerID:  "t1",
			Kind:       "text_command",
			Status:     status,
			DurationMs: int64(10 * (i + 1)),
		}))
	}

	stats, err := s.GetPluginStats(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalDispatch)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.NotNil(t, stats.LastDispatch)
	assert.InDelta(t, 25.0, stats.AvgDurationMs, 0.001)

	all, err := s.ListPluginStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "echo", all[0].PluginID)
}
