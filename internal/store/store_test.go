package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbracken/stratum/internal/budget"
	"github.com/tbracken/stratum/internal/cache"
	"github.com/tbracken/stratum/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stratum.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestWindows_SaveAndLoadActive(t *testing.T) {
	s := openTestStore(t)

	// No active window yet.
	w, err := s.LoadActiveWindow()
	require.NoError(t, err)
	assert.Nil(t, w)

	limits := budget.DefaultLimits()
	active := budget.NewWindow(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), limits)
	active.UpdateUsage(models.TierHeavy, 3, 100, 200)
	active.UpdateUsage(models.TierStandard, 5, 50, 75)
	require.NoError(t, s.SaveWindow(active))

	got, err := s.LoadActiveWindow()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)
	assert.Equal(t, 8, got.TotalMessages)
	assert.Equal(t, 3, got.HeavyMessages)
	assert.Equal(t, 5, got.StandardMessages)
	assert.Equal(t, 15.0, got.HeavyCostUnits)
	assert.Equal(t, 5.0, got.StandardCostUnits)
	assert.True(t, got.StartTime.Equal(active.StartTime))
	assert.True(t, got.EndTime.Equal(active.EndTime))

	// Saving a newer window demotes the previous active row.
	next := budget.NewWindow(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), limits)
	require.NoError(t, s.SaveWindow(next))

	got, err = s.LoadActiveWindow()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, next.ID, got.ID)
}

func TestWindows_HistoryOrderAndPrune(t *testing.T) {
	s := openTestStore(t)

	limits := budget.DefaultLimits()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		w := budget.NewWindow(base.Add(time.Duration(i)*6*time.Hour), limits)
		w.Archive()
		require.NoError(t, s.ArchiveWindow(w))
	}

	history, err := s.LoadWindowHistory(3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Newest first.
	assert.True(t, history[0].EndTime.After(history[1].EndTime))
	assert.True(t, history[1].EndTime.After(history[2].EndTime))

	require.NoError(t, s.PruneWindowHistory(2))
	history, err = s.LoadWindowHistory(10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCacheEntries_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &cache.Entry{
		EntryID:            "e-1",
		CreatedAt:          created,
		TTLSeconds:         3600,
		TaskType:           "qa",
		ModelUsed:          "standard",
		CachedResponse:     `{"answer":"4"}`,
		AccessCount:        2,
		LastAccessed:       created.Add(time.Minute),
		InputHash:          "abc123",
		Embedding:          []float64{0.1, 0.2, 0.3},
		AvgSimilarityOnHit: 0.92,
	}
	require.NoError(t, s.SaveCacheEntry("l3", entry))

	entries, err := s.LoadCacheEntries("l3")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, entry.EntryID, got.EntryID)
	assert.Equal(t, entry.TaskType, got.TaskType)
	assert.Equal(t, entry.CachedResponse, got.CachedResponse)
	assert.Equal(t, entry.Embedding, got.Embedding)
	assert.Equal(t, entry.AvgSimilarityOnHit, got.AvgSimilarityOnHit)
	assert.True(t, got.CreatedAt.Equal(created))

	// Other layers are isolated.
	other, err := s.LoadCacheEntries("l2")
	require.NoError(t, err)
	assert.Empty(t, other)

	// Upsert updates counters in place.
	entry.AccessCount = 5
	require.NoError(t, s.SaveCacheEntry("l3", entry))
	entries, err = s.LoadCacheEntries("l3")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].AccessCount)

	require.NoError(t, s.DeleteCacheEntry("l3", "qa", "e-1"))
	entries, err = s.LoadCacheEntries("l3")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheEntries_DeleteExpired(t *testing.T) {
	s := openTestStore(t)

	stale := &cache.Entry{
		EntryID:    "old",
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		TTLSeconds: 3600,
		TaskType:   "qa",
	}
	fresh := &cache.Entry{
		EntryID:    "new",
		CreatedAt:  time.Now(),
		TTLSeconds: 3600,
		TaskType:   "qa",
	}
	require.NoError(t, s.SaveCacheEntry("l2", stale))
	require.NoError(t, s.SaveCacheEntry("l2", fresh))

	n, err := s.DeleteExpiredCacheEntries()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.LoadCacheEntries("l2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].EntryID)
}

func TestPerformance_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	rates := map[string]float64{
		"code/heavy":    0.8,
		"code/standard": 0.55,
	}
	require.NoError(t, s.SavePerformance(rates))

	got, err := s.LoadPerformance()
	require.NoError(t, err)
	assert.Equal(t, rates, got)

	// Upserts win over stale values.
	require.NoError(t, s.SavePerformance(map[string]float64{"code/heavy": 0.9}))
	got, err = s.LoadPerformance()
	require.NoError(t, err)
	assert.Equal(t, 0.9, got["code/heavy"])
	assert.Equal(t, 0.55, got["code/standard"])
}

func TestSettings_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetSetting("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting("k", "v1"))
	require.NoError(t, s.SetSetting("k", "v2"))

	v, ok, err := s.GetSetting("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.DeleteSetting("k"))
	_, ok, err = s.GetSetting("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestThrottleOverride_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	forced, _, err := s.LoadThrottleOverride()
	require.NoError(t, err)
	assert.False(t, forced)

	require.NoError(t, s.SaveThrottleOverride("budget hold"))
	forced, reason, err := s.LoadThrottleOverride()
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Equal(t, "budget hold", reason)

	require.NoError(t, s.ClearThrottleOverride())
	forced, _, err = s.LoadThrottleOverride()
	require.NoError(t, err)
	assert.False(t, forced)
}
