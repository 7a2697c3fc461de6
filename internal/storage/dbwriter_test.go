package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// recordingInserter captures batches in memory
type recordingInserter struct {
	mu      sync.Mutex
	batches [][]*DetectionEvent
	err     error
	block   chan struct{}
}

func (r *recordingInserter) InsertEvents(events []*DetectionEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, events)
	return nil
}

func (r *recordingInserter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// setupTestDBWriter creates a test store and writer
func setupTestDBWriter(t *testing.T, config DBWriterConfig) (*SQLiteStore, *DBWriter, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fire-writer-test-*")
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

	writer := NewDBWriter(store, config, logger)

	cleanup := func() {
		writer.Stop()
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, writer, cleanup
}

func testEvent(i int) *DetectionEvent {
	return createTestEvent("sensor-01", models.AlertWatch, 0.2+float64(i%10)*0.01, time.Now().UTC())
}

func TestNewDBWriter_Defaults(t *testing.T) {
	w := NewDBWriter(&recordingInserter{}, DBWriterConfig{}, zerolog.Nop())
	defer w.Stop()

	defaults := DefaultDBWriterConfig()
	if w.batchSize != defaults.BatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, defaults.BatchSize)
	}
	if w.flushPeriod != defaults.FlushPeriod {
		t.Errorf("flushPeriod = %v, want %v", w.flushPeriod, defaults.FlushPeriod)
	}
	if cap(w.writeChan) != defaults.ChannelSize {
		t.Errorf("channel size = %d, want %d", cap(w.writeChan), defaults.ChannelSize)
	}
}

// TestDBWriter_BatchFlush tests flushing when the batch fills
func TestDBWriter_BatchFlush(t *testing.T) {
	rec := &recordingInserter{}
	w := NewDBWriter(rec, DBWriterConfig{BatchSize: 10, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())
	defer w.Stop()

	for i := 0; i < 10; i++ {
		if !w.Write(testEvent(i)) {
			t.Fatal("Write should succeed with space in the queue")
		}
	}

	waitFor(t, 2*time.Second, func() bool { return w.Stats().TotalBatches == 1 })
	if rec.count() != 10 {
		t.Errorf("Inserted %d events, want 10", rec.count())
	}
	if w.Stats().TotalWritten != 10 {
		t.Errorf("TotalWritten = %d, want 10", w.Stats().TotalWritten)
	}
}

// TestDBWriter_PeriodicFlush tests time-based flushing
func TestDBWriter_PeriodicFlush(t *testing.T) {
	rec := &recordingInserter{}
	w := NewDBWriter(rec, DBWriterConfig{BatchSize: 100, FlushPeriod: 20 * time.Millisecond, ChannelSize: 100}, zerolog.Nop())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		w.Write(testEvent(i))
	}

	waitFor(t, 2*time.Second, func() bool { return rec.count() == 5 })
}

// TestDBWriter_Stop tests that queued events are flushed on stop
func TestDBWriter_Stop(t *testing.T) {
	store, writer, cleanup := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: time.Hour,
		ChannelSize: 100,
	})

	for i := 0; i < 15; i++ {
		writer.Write(testEvent(i))
	}

	writer.Stop()

	st, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if st.TotalEvents != 15 {
		t.Errorf("TotalEvents = %d, want 15 (remaining should be flushed on stop)", st.TotalEvents)
	}

	// cleanup calls Stop again, which must be safe
	cleanup()
}

// TestDBWriter_ChannelFull tests dropping when the queue is full
func TestDBWriter_ChannelFull(t *testing.T) {
	rec := &recordingInserter{block: make(chan struct{})}
	w := NewDBWriter(rec, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 2}, zerolog.Nop())

	// The first event is taken by the loop, which then blocks in the insert
	w.Write(testEvent(0))
	waitFor(t, 2*time.Second, func() bool { return w.Stats().QueueLength == 0 })

	w.Write(testEvent(1))
	w.Write(testEvent(2))
	if w.Write(testEvent(3)) {
		t.Error("Write should return false when the queue is full")
	}
	if w.Stats().TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", w.Stats().TotalDropped)
	}

	close(rec.block)
	w.Stop()
	if rec.count() != 3 {
		t.Errorf("Inserted %d events, want 3", rec.count())
	}
}

func TestDBWriter_InsertError(t *testing.T) {
	rec := &recordingInserter{err: errors.New("disk full")}
	w := NewDBWriter(rec, DBWriterConfig{BatchSize: 2, FlushPeriod: time.Hour, ChannelSize: 10}, zerolog.Nop())

	w.Write(testEvent(0))
	w.Write(testEvent(1))
	w.Stop()

	st := w.Stats()
	if st.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", st.TotalErrors)
	}
	if st.TotalWritten != 0 {
		t.Errorf("TotalWritten = %d, want 0", st.TotalWritten)
	}
}

// TestDBWriter_ConcurrentWrites tests thread safety against a real store
func TestDBWriter_ConcurrentWrites(t *testing.T) {
	store, writer, cleanup := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   50,
		FlushPeriod: 50 * time.Millisecond,
		ChannelSize: 5000,
	})
	defer cleanup()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				writer.Write(testEvent(g*100 + i))
			}
		}(g)
	}
	wg.Wait()
	writer.Stop()

	st, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if st.TotalEvents != 1000 {
		t.Errorf("TotalEvents = %d, want 1000", st.TotalEvents)
	}
	if writer.Stats().TotalWritten != 1000 {
		t.Errorf("TotalWritten = %d, want 1000", writer.Stats().TotalWritten)
	}
}
