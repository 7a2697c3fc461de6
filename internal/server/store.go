package server

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/fire-monitor/internal/models"
)

// MemoryStore is an in-memory ring buffer of detection results per sensor
type MemoryStore struct {
	capacity     int
	data         map[string][]models.FireDetectionResult
	mutex        sync.RWMutex
	totalResults int64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]models.FireDetectionResult),
	}
}

// Add adds a result to the store
func (ms *MemoryStore) Add(result models.FireDetectionResult) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	results := ms.data[result.SensorID]
	if len(results) >= ms.capacity {
		results = results[1:] // Remove oldest
	}
	results = append(results, result)
	ms.data[result.SensorID] = results
	ms.totalResults++
}

// GetLatest returns the n most recent results for a sensor, newest first
func (ms *MemoryStore) GetLatest(sensorID string, n int) []models.FireDetectionResult {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	results := ms.data[sensorID]
	if len(results) == 0 || n <= 0 {
		return nil
	}

	start := len(results) - n
	if start < 0 {
		start = 0
	}

	out := make([]models.FireDetectionResult, 0, len(results)-start)
	for i := len(results) - 1; i >= start; i-- {
		out = append(out, results[i])
	}
	return out
}

// GetCurrent returns the most recent result for a sensor
func (ms *MemoryStore) GetCurrent(sensorID string) (models.FireDetectionResult, bool) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	results := ms.data[sensorID]
	if len(results) == 0 {
		return models.FireDetectionResult{}, false
	}
	return results[len(results)-1], true
}

// GetSensorIDs returns the sorted ids of sensors that have results
func (ms *MemoryStore) GetSensorIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	keys := make([]string, 0, len(ms.data))
	for key := range ms.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalResults   int64     `json:"total_results"`
	UniqueSensors  int       `json:"unique_sensors"`
	CurrentResults int       `json:"current_results"` // In memory now
	OldestResult   time.Time `json:"oldest_result,omitempty"`
	NewestResult   time.Time `json:"newest_result,omitempty"`
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalResults:  ms.totalResults,
		UniqueSensors: len(ms.data),
	}
	for _, results := range ms.data {
		stats.CurrentResults += len(results)
		for _, r := range results {
			if stats.OldestResult.IsZero() || r.Timestamp.Before(stats.OldestResult) {
				stats.OldestResult = r.Timestamp
			}
			if r.Timestamp.After(stats.NewestResult) {
				stats.NewestResult = r.Timestamp
			}
		}
	}
	return stats
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string][]models.FireDetectionResult)
	ms.totalResults = 0
}
