package adaptive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// MaxHistory is how many versions the manager keeps
const MaxHistory = 10

// ErrInvalidSteps is returned by Rollback for a step count below one
var ErrInvalidSteps = errors.New("rollback steps must be at least 1")

// ThresholdVersion is one saved threshold set
type ThresholdVersion struct {
	Version          uint32              `json:"version"`
	Timestamp        time.Time           `json:"timestamp"`
	Thresholds       models.ThresholdSet `json:"thresholds"`
	Reason           string              `json:"reason"`
	ValidationResult string              `json:"validation_result"`
	AppliedAt        *time.Time          `json:"applied_at,omitempty"`
	RolledBackAt     *time.Time          `json:"rolled_back_at,omitempty"`
}

// Active reports whether the version has not been rolled back
func (v ThresholdVersion) Active() bool {
	return v.RolledBackAt == nil
}

// ChangeLogEntry is a version without its thresholds
type ChangeLogEntry struct {
	Version          uint32     `json:"version"`
	Timestamp        time.Time  `json:"timestamp"`
	Reason           string     `json:"reason"`
	ValidationResult string     `json:"validation_result"`
	AppliedAt        *time.Time `json:"applied_at,omitempty"`
	RolledBackAt     *time.Time `json:"rolled_back_at,omitempty"`
}

// VersionStore persists threshold versions
type VersionStore interface {
	// SaveVersion inserts v
	SaveVersion(ctx context.Context, v ThresholdVersion) error
	// MarkRolledBack stamps rolled_back_at on the given versions
	MarkRolledBack(ctx context.Context, versions []uint32, at time.Time) error
	// LoadVersions returns up to limit versions, newest first
	LoadVersions(ctx context.Context, limit int) ([]ThresholdVersion, error)
}

// ThresholdManager keeps the versioned threshold history. Writes go to the
// store first; memory only changes once the store has accepted them.
type ThresholdManager struct {
	mu      sync.RWMutex
	store   VersionStore
	history []ThresholdVersion // newest first
	next    uint32
	now     func() time.Time
	logger  zerolog.Logger
}

// NewThresholdManager creates a manager. A nil store keeps history in memory only.
func NewThresholdManager(store VersionStore, logger zerolog.Logger) *ThresholdManager {
	return &ThresholdManager{
		store:  store,
		next:   1,
		now:    time.Now,
		logger: logger,
	}
}

// Load rehydrates history from the store
func (m *ThresholdManager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	versions, err := m.store.LoadVersions(ctx, MaxHistory)
	if err != nil {
		return fmt.Errorf("failed to load threshold history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = versions
	m.next = 1
	for _, v := range versions {
		if v.Version >= m.next {
			m.next = v.Version + 1
		}
	}

	cur, ok := m.currentLocked()
	if ok {
		m.logger.Info().Uint32("version", cur.Version).Int("history", len(versions)).Msg("Threshold history loaded")
	} else {
		m.logger.Info().Int("history", len(versions)).Msg("No active thresholds stored, using standard")
	}
	return nil
}

func (m *ThresholdManager) currentLocked() (ThresholdVersion, bool) {
	for _, v := range m.history {
		if v.Active() {
			return v, true
		}
	}
	return ThresholdVersion{}, false
}

// Current returns the active threshold set, or the standard set when
// nothing has been saved.
func (m *ThresholdManager) Current() models.ThresholdSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.currentLocked(); ok {
		return v.Thresholds.Clone()
	}
	return models.StandardThresholds()
}

// CurrentVersion returns the active version, if any
func (m *ThresholdManager) CurrentVersion() (ThresholdVersion, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.currentLocked()
	if ok {
		v.Thresholds = v.Thresholds.Clone()
	}
	return v, ok
}

// Save stores ts as a new version and makes it current
func (m *ThresholdManager) Save(ctx context.Context, ts models.ThresholdSet, reason, validationResult string) (ThresholdVersion, error) {
	if validationResult == "" {
		validationResult = "ok"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	applied := now
	v := ThresholdVersion{
		Version:          m.next,
		Timestamp:        now,
		Thresholds:       ts.Clone(),
		Reason:           reason,
		ValidationResult: validationResult,
		AppliedAt:        &applied,
	}

	if m.store != nil {
		if err := m.store.SaveVersion(ctx, v); err != nil {
			return ThresholdVersion{}, fmt.Errorf("failed to save threshold version %d: %w", v.Version, err)
		}
	}

	m.history = append([]ThresholdVersion{v}, m.history...)
	if len(m.history) > MaxHistory {
		m.history = m.history[:MaxHistory]
	}
	m.next++

	m.logger.Info().
		Uint32("version", v.Version).
		Int("thresholds", len(ts)).
		Str("reason", reason).
		Msg("Thresholds saved")
	return v, nil
}

// Rollback retires the steps newest active versions and returns the set
// that becomes current. Rolling back past the oldest version yields the
// standard set.
func (m *ThresholdManager) Rollback(ctx context.Context, steps int) (models.ThresholdSet, error) {
	if steps < 1 {
		return nil, ErrInvalidSteps
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var retire []int
	for i, v := range m.history {
		if len(retire) == steps {
			break
		}
		if v.Active() {
			retire = append(retire, i)
		}
	}
	if len(retire) == 0 {
		m.logger.Warn().Msg("Rollback requested with no active thresholds, using standard")
		return models.StandardThresholds(), nil
	}

	now := m.now()
	versions := make([]uint32, len(retire))
	for i, idx := range retire {
		versions[i] = m.history[idx].Version
	}
	if m.store != nil {
		if err := m.store.MarkRolledBack(ctx, versions, now); err != nil {
			return nil, fmt.Errorf("failed to roll back thresholds: %w", err)
		}
	}

	for _, idx := range retire {
		at := now
		m.history[idx].RolledBackAt = &at
	}

	current := models.StandardThresholds()
	var currentVersion uint32
	if v, ok := m.currentLocked(); ok {
		current = v.Thresholds.Clone()
		currentVersion = v.Version
	}

	m.logger.Warn().
		Int("steps", steps).
		Interface("retired", versions).
		Uint32("current_version", currentVersion).
		Msg("Thresholds rolled back")
	return current, nil
}

// ChangeLog returns the history projected without thresholds, newest first
func (m *ThresholdManager) ChangeLog() []ChangeLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChangeLogEntry, len(m.history))
	for i, v := range m.history {
		out[i] = ChangeLogEntry{
			Version:          v.Version,
			Timestamp:        v.Timestamp,
			Reason:           v.Reason,
			ValidationResult: v.ValidationResult,
			AppliedAt:        v.AppliedAt,
			RolledBackAt:     v.RolledBackAt,
		}
	}
	return out
}

// HistoryCount returns how many versions are held
func (m *ThresholdManager) HistoryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}
