// Package client is the gateway side of the reading stream: a bounded
// outbound buffer and a reconnecting WebSocket uplink that consumes the
// server's detection results.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/fire-monitor/internal/models"
)

// ReadingBuffer is a thread-safe FIFO of readings waiting for the uplink
type ReadingBuffer struct {
	readings   []*models.Reading
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	TotalRequeued int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewReadingBuffer creates a buffer holding at most capacity readings.
// When full, dropOldest evicts the head; otherwise new readings are refused.
func NewReadingBuffer(capacity int, dropOldest bool) *ReadingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadingBuffer{
		readings:   make([]*models.Reading, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push appends a reading. Returns false if it was refused.
func (rb *ReadingBuffer) Push(reading *models.Reading) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	now := time.Now()
	if len(rb.readings) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = now
		if !rb.dropOldest {
			return false
		}
		rb.readings[0] = nil
		rb.readings = rb.readings[1:]
	}
	rb.readings = append(rb.readings, reading)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = now

	if len(rb.readings) > rb.stats.HighWaterMark {
		rb.stats.HighWaterMark = len(rb.readings)
	}
	return true
}

// PopBatch removes and returns up to n readings, oldest first
func (rb *ReadingBuffer) PopBatch(n int) []*models.Reading {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	rb.readings = rb.readings[count:]
	return result
}

// Requeue puts readings that failed to send back at the head, keeping
// their order. Readings that no longer fit are dropped, oldest first.
func (rb *ReadingBuffer) Requeue(readings []*models.Reading) {
	if len(readings) == 0 {
		return
	}
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	free := rb.capacity - len(rb.readings)
	if free <= 0 {
		rb.stats.TotalDropped += int64(len(readings))
		rb.stats.LastDropTime = time.Now()
		return
	}
	if len(readings) > free {
		rb.stats.TotalDropped += int64(len(readings) - free)
		rb.stats.LastDropTime = time.Now()
		readings = readings[len(readings)-free:]
	}

	merged := make([]*models.Reading, 0, rb.capacity)
	merged = append(merged, readings...)
	merged = append(merged, rb.readings...)
	rb.readings = merged
	rb.stats.TotalRequeued += int64(len(readings))
}

// Peek returns up to n readings without removing them
func (rb *ReadingBuffer) Peek(n int) []*models.Reading {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	return result
}

// Size returns the current number of readings in the buffer
func (rb *ReadingBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings)
}

// IsFull returns true if buffer is at capacity
func (rb *ReadingBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) >= rb.capacity
}

// IsEmpty returns true if buffer has no readings
func (rb *ReadingBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) == 0
}

// Clear removes all readings and resets the counters
func (rb *ReadingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.readings = make([]*models.Reading, 0, rb.capacity)
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *ReadingBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of current buffer statistics
func (rb *ReadingBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

// String returns something like "Buffer[12/1000, dropped: 5, mode: drop-oldest]"
func (rb *ReadingBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.readings),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
