package adaptive

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/fusion"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

// ProfileSensorID is the reserved sensor id under which the profile
// detector's statistics are persisted.
const ProfileSensorID = "_profile"

// MinChannelSamples is the per-channel count required before a channel
// takes part in an adaptation pass.
const MinChannelSamples = 1000

// LearningPhase describes how long the system has been observing
type LearningPhase string

const (
	PhaseColdStart LearningPhase = "COLD_START"
	PhaseWarmup    LearningPhase = "WARMUP"
	PhaseLearning  LearningPhase = "LEARNING"
	PhaseAdaptive  LearningPhase = "ADAPTIVE"
)

// LearningPhases lists the phases in order
var LearningPhases = []LearningPhase{PhaseColdStart, PhaseWarmup, PhaseLearning, PhaseAdaptive}

// Status summarises the adaptive system for operators
type Status struct {
	Enabled                bool            `json:"enabled"`
	LearningPhase          LearningPhase   `json:"learning_phase"`
	Progress               float64         `json:"progress"`
	TotalSamples           int64           `json:"total_samples"`
	EnvironmentType        EnvironmentType `json:"environment_type"`
	EnvironmentConfidence  float64         `json:"environment_confidence"`
	LastUpdate             *time.Time      `json:"last_update,omitempty"`
	CurrentThresholdsCount int             `json:"current_thresholds_count"`
	HistoryCount           int             `json:"history_count"`
}

// ThresholdComparison is one row of the standard-versus-current report
type ThresholdComparison struct {
	Key           string  `json:"key"`
	Standard      float64 `json:"standard"`
	Current       float64 `json:"current"`
	ChangePercent float64 `json:"change_percent"`
	Status        string  `json:"status"`
}

// StatsRecord is the persisted statistics of one (sensor, channel)
type StatsRecord struct {
	SensorID string
	Channel  models.Channel
	Snapshot stats.Snapshot
}

type statsKey struct {
	sensorID string
	channel  models.Channel
}

// AdaptiveFireSystem learns per-channel statistics from non-fire readings
// and periodically proposes new thresholds to the manager.
type AdaptiveFireSystem struct {
	mu         sync.Mutex
	cfg        Config
	stats      map[statsKey]*stats.OnlineStatistics
	profile    *ProfileDetector
	filter     stats.AnomalyFilter
	calculator Calculator
	validator  Validator
	manager    *ThresholdManager
	rng        *rand.Rand

	firstData    time.Time
	lastData     time.Time
	phase        LearningPhase
	totalSamples int64

	logger zerolog.Logger
}

// NewAdaptiveFireSystem creates the system around manager
func NewAdaptiveFireSystem(cfg Config, manager *ThresholdManager, logger zerolog.Logger) *AdaptiveFireSystem {
	seed := cfg.ReservoirSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	return &AdaptiveFireSystem{
		cfg:        cfg,
		stats:      make(map[statsKey]*stats.OnlineStatistics),
		profile:    NewProfileDetector(cfg.EnvironmentType, rng),
		filter:     stats.NewAnomalyFilter(),
		calculator: NewCalculator(cfg.Adjustment()),
		validator:  NewValidator(),
		manager:    manager,
		rng:        rng,
		phase:      PhaseColdStart,
		logger:     logger,
	}
}

// Manager returns the threshold manager
func (a *AdaptiveFireSystem) Manager() *ThresholdManager {
	return a.manager
}

// Config returns the configuration the system runs with
func (a *AdaptiveFireSystem) Config() Config {
	return a.cfg
}

func (a *AdaptiveFireSystem) newStats() *stats.OnlineStatistics {
	return stats.NewOnlineStatistics(rand.New(rand.NewPCG(a.rng.Uint64(), a.rng.Uint64())))
}

func (a *AdaptiveFireSystem) phaseFor(days float64) LearningPhase {
	switch {
	case days < 1:
		return PhaseColdStart
	case days < a.cfg.MinLearningDays:
		return PhaseWarmup
	case days < a.cfg.FullLearningDays:
		return PhaseLearning
	default:
		return PhaseAdaptive
	}
}

func (a *AdaptiveFireSystem) daysLearned() float64 {
	if a.firstData.IsZero() {
		return 0
	}
	return a.lastData.Sub(a.firstData).Hours() / 24
}

// ProcessReading trains the statistics with r unless it looks like a fire
// or falls in an excluded hour. p is the detector's fire probability for r.
func (a *AdaptiveFireSystem) ProcessReading(r *models.Reading, p float64) {
	if !a.cfg.Enabled {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.firstData.IsZero() {
		a.firstData = r.Timestamp
	}
	if r.Timestamp.After(a.lastData) {
		a.lastData = r.Timestamp
	}
	if phase := a.phaseFor(a.daysLearned()); phase != a.phase {
		a.logger.Info().Str("from", string(a.phase)).Str("to", string(phase)).Msg("Learning phase changed")
		a.phase = phase
	}

	if a.filter.IsFireEvent(p) {
		return
	}
	if a.cfg.excluded(r.Timestamp.Hour()) {
		return
	}

	for _, cv := range r.Present() {
		if !models.IsFinite(cv.Value) {
			continue
		}
		key := statsKey{sensorID: r.SensorID, channel: cv.Channel}
		s, ok := a.stats[key]
		if !ok {
			s = a.newStats()
			a.stats[key] = s
		}
		if a.filter.IsAnomaly(cv.Value, s) {
			continue
		}
		s.Update(cv.Value, r.Timestamp)
	}

	a.profile.Update(r)
	a.totalSamples++
}

// channelStats pools every sensor's statistics per channel into copies
// that can be read after the lock is released.
func (a *AdaptiveFireSystem) channelStats() map[models.Channel]*stats.OnlineStatistics {
	keys := make([]statsKey, 0, len(a.stats))
	for k := range a.stats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].channel != keys[j].channel {
			return keys[i].channel < keys[j].channel
		}
		return keys[i].sensorID < keys[j].sensorID
	})

	out := make(map[models.Channel]*stats.OnlineStatistics)
	for _, k := range keys {
		s := a.stats[k]
		if pooled, ok := out[k.channel]; ok {
			out[k.channel] = stats.Merge(pooled, s, a.rng)
		} else {
			out[k.channel] = s.Clone(rand.New(rand.NewPCG(a.rng.Uint64(), a.rng.Uint64())))
		}
	}
	return out
}

// UpdateThresholds runs one adaptation pass. The boolean reports whether a
// new threshold set was saved; the message says why or why not. Only a
// persistence failure returns an error.
func (a *AdaptiveFireSystem) UpdateThresholds(ctx context.Context) (bool, string, error) {
	if !a.cfg.Enabled {
		return false, "adaptive thresholds disabled", nil
	}

	a.mu.Lock()
	phase := a.phase
	envType := a.profile.DetectedType()
	confidence := a.profile.Confidence()
	if phase == PhaseColdStart || phase == PhaseWarmup {
		a.mu.Unlock()
		return false, fmt.Sprintf("still learning (phase %s)", phase), nil
	}
	if confidence < a.cfg.MinConfidence {
		a.mu.Unlock()
		return false, fmt.Sprintf("environment confidence %.0f%% below %.0f%%", confidence*100, a.cfg.MinConfidence*100), nil
	}

	standard := models.StandardThresholds()
	byChannel := a.channelStats()
	newTS := make(models.ThresholdSet)
	for _, ch := range models.ThresholdChannels {
		s, ok := byChannel[ch]
		if !ok || s.N() < MinChannelSamples {
			continue
		}
		for k, v := range a.calculator.AllThresholds(ch, s, standard) {
			newTS[k] = v
		}
	}
	a.mu.Unlock()

	if len(newTS) == 0 {
		return false, "no channel has enough samples", nil
	}

	if a.cfg.RequireValidation {
		if ok, reason := a.validator.Validate(a.manager.Current(), newTS); !ok {
			a.logger.Warn().Str("reason", reason).Msg("Adapted thresholds rejected")
			return false, reason, nil
		}
		if keys := a.validator.BackgroundOverlaps(newTS, byChannel); len(keys) > 0 {
			a.logger.Warn().Strs("keys", keys).Msg("Watch level sits inside the learned background")
		}
	}

	reason := fmt.Sprintf("auto adaptation (env=%s, conf=%.0f%%)", envType, confidence*100)
	if _, err := a.manager.Save(ctx, newTS, reason, "ok"); err != nil {
		a.logger.Error().Err(err).Msg("Failed to save adapted thresholds")
		return false, "failed to save thresholds", err
	}

	a.logger.Info().
		Int("count", len(newTS)).
		Str("environment", string(envType)).
		Float64("confidence", confidence).
		Msg("Adaptive thresholds applied")
	return true, fmt.Sprintf("%d thresholds updated", len(newTS)), nil
}

// ResetToStandard forgets everything learned and saves the standard set
func (a *AdaptiveFireSystem) ResetToStandard(ctx context.Context) error {
	if _, err := a.manager.Save(ctx, models.StandardThresholds(), "user reset", "ok"); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = make(map[statsKey]*stats.OnlineStatistics)
	a.profile = NewProfileDetector(a.cfg.EnvironmentType, a.rng)
	a.firstData = time.Time{}
	a.lastData = time.Time{}
	a.phase = PhaseColdStart
	a.totalSamples = 0

	a.logger.Info().Msg("Adaptive system reset to standard thresholds")
	return nil
}

// CurrentThresholds returns the manager's set when enabled, else standard
func (a *AdaptiveFireSystem) CurrentThresholds() models.ThresholdSet {
	if !a.cfg.Enabled {
		return models.StandardThresholds()
	}
	return a.manager.Current()
}

// Status reports learning progress and threshold bookkeeping
func (a *AdaptiveFireSystem) Status() Status {
	a.mu.Lock()
	st := Status{
		Enabled:               a.cfg.Enabled,
		LearningPhase:         a.phase,
		TotalSamples:          a.totalSamples,
		EnvironmentType:       a.profile.DetectedType(),
		EnvironmentConfidence: a.profile.Confidence(),
	}
	if a.cfg.FullLearningDays > 0 {
		st.Progress = math.Min(1, a.daysLearned()/a.cfg.FullLearningDays)
	} else {
		st.Progress = 1
	}
	a.mu.Unlock()

	if v, ok := a.manager.CurrentVersion(); ok {
		st.LastUpdate = v.AppliedAt
	}
	st.CurrentThresholdsCount = len(a.CurrentThresholds())
	st.HistoryCount = a.manager.HistoryCount()
	return st
}

// ThresholdComparison lists every standard key next to its current value
func (a *AdaptiveFireSystem) ThresholdComparison() []ThresholdComparison {
	standard := models.StandardThresholds()
	var current models.ThresholdSet
	if a.cfg.Enabled {
		if v, ok := a.manager.CurrentVersion(); ok {
			current = v.Thresholds
		}
	}

	out := make([]ThresholdComparison, 0, len(standard))
	for _, key := range standard.Keys() {
		row := ThresholdComparison{
			Key:      key,
			Standard: standard[key],
			Current:  standard[key],
			Status:   "standard",
		}
		if v, ok := current[key]; ok {
			row.Current = v
			row.ChangePercent = math.Round((v-row.Standard)/row.Standard*1e4) / 100
			row.Status = "active"
		}
		out = append(out, row)
	}
	return out
}

// Profile returns the current environment profile
func (a *AdaptiveFireSystem) Profile() EnvironmentProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile.Profile()
}

// IsSensorFailure reports whether value deviates more than the failure
// Z-score from what the channel has learned.
func (a *AdaptiveFireSystem) IsSensorFailure(sensorID string, ch models.Channel, value float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[statsKey{sensorID: sensorID, channel: ch}]
	if !ok || s.N() < stats.MinAnomalySamples {
		return false
	}
	return fusion.IsSensorFailure(value, s.Mean(), s.Std())
}

// StatisticsSnapshots returns every per-sensor record plus the profile
// detector's records under ProfileSensorID.
func (a *AdaptiveFireSystem) StatisticsSnapshots() []StatsRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]StatsRecord, 0, len(a.stats))
	for k, s := range a.stats {
		out = append(out, StatsRecord{SensorID: k.sensorID, Channel: k.channel, Snapshot: s.Snapshot()})
	}
	for ch, snap := range a.profile.Snapshots() {
		out = append(out, StatsRecord{SensorID: ProfileSensorID, Channel: ch, Snapshot: snap})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SensorID != out[j].SensorID {
			return out[i].SensorID < out[j].SensorID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// RestoreStatistics installs persisted records. Invalid records are logged
// and skipped.
func (a *AdaptiveFireSystem) RestoreStatistics(records []StatsRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	restored := 0
	for _, rec := range records {
		s, err := stats.FromSnapshot(rec.Snapshot, rand.New(rand.NewPCG(a.rng.Uint64(), a.rng.Uint64())))
		if err != nil {
			a.logger.Error().Err(err).
				Str("sensor_id", rec.SensorID).
				Str("channel", string(rec.Channel)).
				Msg("Skipping invalid statistics record")
			continue
		}
		if rec.SensorID == ProfileSensorID {
			a.profile.restore(rec.Channel, s)
		} else {
			a.stats[statsKey{sensorID: rec.SensorID, channel: rec.Channel}] = s
		}
		restored++
	}
	return restored
}

// LearningState is the bookkeeping needed to resume learning after restart
type LearningState struct {
	FirstDataTime time.Time `json:"first_data_time"`
	LastDataTime  time.Time `json:"last_data_time"`
	TotalSamples  int64     `json:"total_samples"`
}

// LearningState returns the current learning bookkeeping
func (a *AdaptiveFireSystem) LearningState() LearningState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return LearningState{FirstDataTime: a.firstData, LastDataTime: a.lastData, TotalSamples: a.totalSamples}
}

// RestoreLearningState resumes from persisted bookkeeping
func (a *AdaptiveFireSystem) RestoreLearningState(ls LearningState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.firstData = ls.FirstDataTime
	a.lastData = ls.LastDataTime
	a.totalSamples = ls.TotalSamples
	a.phase = a.phaseFor(a.daysLearned())
}
