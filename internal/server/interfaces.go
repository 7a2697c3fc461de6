package server

import (
	"context"
	"time"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/storage"
)

// ResultStore defines the interface for recent detection results
// MemoryStore implements this interface
type ResultStore interface {
	// Add adds a result to the store
	Add(result models.FireDetectionResult)

	// GetLatest returns the n most recent results for a sensor (newest first)
	GetLatest(sensorID string, n int) []models.FireDetectionResult

	// GetCurrent returns the most recent result for a sensor
	GetCurrent(sensorID string) (models.FireDetectionResult, bool)

	// GetSensorIDs returns the sorted ids of sensors that have results
	GetSensorIDs() []string

	// Stats returns statistics about the store
	Stats() StoreStats

	// Clear removes all data from the store
	Clear()
}

// Pipeline runs readings through detection and learning
// engine.Engine implements this interface
type Pipeline interface {
	Process(r *models.Reading) (models.FireDetectionResult, error)
	ProcessBatch(readings []models.Reading) ([]models.FireDetectionResult, models.AlertLevel)
}

// Controller is the operator surface over thresholds and learning
// engine.Engine implements this interface
type Controller interface {
	System() *adaptive.AdaptiveFireSystem
	Rollback(ctx context.Context, steps int) (models.ThresholdSet, error)
	ResetToStandard(ctx context.Context) error
}

// EventStore defines the interface for the persistent event log
// storage.SQLiteStore implements this interface
type EventStore interface {
	// GetEventsInRange returns events within a time range, newest first
	GetEventsInRange(sensorID string, start, end time.Time, limit int) ([]*storage.DetectionEvent, error)

	// GetStorageStats returns database statistics
	GetStorageStats() (*storage.StorageStats, error)

	// GetSensorIDs returns every sensor with stored events or statistics
	GetSensorIDs() ([]string, error)
}

var _ EventStore = (*storage.SQLiteStore)(nil)
