package storage

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// setupTestRetentionCleaner creates test store and cleaner
func setupTestRetentionCleaner(t *testing.T, config RetentionCleanerConfig) (*SQLiteStore, *RetentionCleaner, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fire-retention-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.DebugLevel)

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleaner := NewRetentionCleaner(store, config, logger)

	cleanup := func() {
		cleaner.Stop()
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleaner, cleanup
}

// countingPruner counts prune calls
type countingPruner struct {
	calls atomic.Int64
}

func (c *countingPruner) DeleteOlderThan(days int) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func insertAged(t *testing.T, store *SQLiteStore, n int, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	events := make([]*DetectionEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, createTestEvent("sensor-01", models.AlertCaution, 0.5, now.Add(-age-time.Duration(i)*time.Minute)))
	}
	if err := store.InsertEvents(events); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
}

// TestRetentionCleaner_RunNow tests immediate cleanup
func TestRetentionCleaner_RunNow(t *testing.T) {
	store, cleaner, cleanup := setupTestRetentionCleaner(t, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	})
	defer cleanup()

	// Let the initial cleanup finish before inserting
	waitFor(t, 2*time.Second, func() bool { return cleaner.Stats().TotalCleanups >= 1 })

	insertAged(t, store, 10, 35*24*time.Hour)
	insertAged(t, store, 10, time.Hour)

	cleaner.RunNow()

	st, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if st.TotalEvents != 10 {
		t.Errorf("TotalEvents = %d, want 10 after cleanup", st.TotalEvents)
	}
	if cleaner.Stats().LastDeleteCount != 10 {
		t.Errorf("LastDeleteCount = %d, want 10", cleaner.Stats().LastDeleteCount)
	}
}

// TestRetentionCleaner_PeriodicCleanup tests automatic periodic cleanup
func TestRetentionCleaner_PeriodicCleanup(t *testing.T) {
	pruner := &countingPruner{}
	cleaner := NewRetentionCleaner(pruner, RetentionCleanerConfig{
		RetentionDays: 1,
		CleanupPeriod: 20 * time.Millisecond,
	}, zerolog.Nop())
	defer cleaner.Stop()

	waitFor(t, 2*time.Second, func() bool { return pruner.calls.Load() >= 3 })
}

func TestRetentionCleaner_InvalidPeriod(t *testing.T) {
	cleaner := NewRetentionCleaner(&countingPruner{}, RetentionCleanerConfig{RetentionDays: 7}, zerolog.Nop())
	defer cleaner.Stop()

	if cleaner.cleanupPeriod != DefaultRetentionCleanerConfig().CleanupPeriod {
		t.Errorf("cleanupPeriod = %v, want default", cleaner.cleanupPeriod)
	}
}

// TestRetentionCleaner_Stop tests graceful shutdown
func TestRetentionCleaner_Stop(t *testing.T) {
	cleaner := NewRetentionCleaner(&countingPruner{}, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: 10 * time.Millisecond,
	}, zerolog.Nop())

	done := make(chan bool)
	go func() {
		cleaner.Stop()
		cleaner.Stop()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out")
	}
}

// TestRetentionCleaner_MultipleRetentionPeriods tests different retention settings
func TestRetentionCleaner_MultipleRetentionPeriods(t *testing.T) {
	testCases := []struct {
		name          string
		retentionDays int
		oldDataDays   int
		shouldDelete  bool
	}{
		{"30 day retention, 35 day old data", 30, 35, true},
		{"30 day retention, 25 day old data", 30, 25, false},
		{"7 day retention, 10 day old data", 7, 10, true},
		{"1 day retention, 2 day old data", 1, 2, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, cleaner, cleanup := setupTestRetentionCleaner(t, RetentionCleanerConfig{
				RetentionDays: tc.retentionDays,
				CleanupPeriod: time.Hour,
			})
			defer cleanup()

			insertAged(t, store, 1, time.Duration(tc.oldDataDays)*24*time.Hour)
			cleaner.RunNow()

			st, _ := store.GetStorageStats()
			if tc.shouldDelete && st.TotalEvents != 0 {
				t.Errorf("Expected event to be deleted, but TotalEvents = %d", st.TotalEvents)
			}
			if !tc.shouldDelete && st.TotalEvents != 1 {
				t.Errorf("Expected event to be kept, but TotalEvents = %d", st.TotalEvents)
			}
		})
	}
}
