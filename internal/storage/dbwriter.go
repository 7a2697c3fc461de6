package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventInserter is the part of the store the writer needs
type EventInserter interface {
	InsertEvents(events []*DetectionEvent) error
}

// DBWriter queues detection events and writes them in batches so the
// detection path never waits on disk.
type DBWriter struct {
	store       EventInserter
	logger      zerolog.Logger
	writeChan   chan *DetectionEvent
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // Events per batch (default: 100)
	FlushPeriod time.Duration // Max time between flushes (default: 5s)
	ChannelSize int           // Queue capacity (default: 1000)
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates and starts an async event writer
func NewDBWriter(store EventInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	defaults := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &DBWriter{
		store:       store,
		logger:      logger,
		writeChan:   make(chan *DetectionEvent, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Write queues an event. It returns false if the queue is full and the
// event was dropped.
func (w *DBWriter) Write(event *DetectionEvent) bool {
	select {
	case w.writeChan <- event:
		return true
	default:
		w.mu.Lock()
		w.totalDropped++
		w.mu.Unlock()
		w.logger.Warn().Str("sensor_id", event.SensorID).Msg("DBWriter queue full, dropping event")
		return false
	}
}

func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]*DetectionEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.writeChan:
			batch = append(batch, event)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*DetectionEvent, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*DetectionEvent, 0, w.batchSize)
			}

		case <-w.stopChan:
			for draining := true; draining; {
				select {
				case event := <-w.writeChan:
					batch = append(batch, event)
				default:
					draining = false
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

func (w *DBWriter) flush(batch []*DetectionEvent) {
	err := w.store.InsertEvents(batch)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.totalErrors++
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write event batch")
		return
	}
	w.totalWritten += int64(len(batch))
	w.totalBatches++
	w.lastWriteTime = time.Now()
	w.logger.Debug().Int("count", len(batch)).Msg("Flushed event batch")
}

// Stop flushes queued events and stops the writer
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		TotalDropped:  w.totalDropped,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
