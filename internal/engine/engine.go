// Package engine wires detection, learning, persistence and metrics into
// the per-reading pipeline and runs the periodic adaptation and
// checkpoint loops.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/detector"
	"github.com/afroash/fire-monitor/internal/metrics"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/storage"
)

// learningStateKey is the adaptive_state row holding LearningState
const learningStateKey = "learning_state"

// ErrInvalidReading is returned for readings without a sensor id or timestamp
var ErrInvalidReading = errors.New("invalid reading: sensor_id and timestamp are required")

// StatisticsStore persists learned statistics and learning bookkeeping
type StatisticsStore interface {
	SaveStatistics(ctx context.Context, records []adaptive.StatsRecord) error
	LoadStatistics(ctx context.Context) ([]adaptive.StatsRecord, error)
	SaveState(ctx context.Context, key string, value []byte) error
	LoadState(ctx context.Context, key string) ([]byte, bool, error)
}

// EventSink accepts detection events without blocking
type EventSink interface {
	Write(event *storage.DetectionEvent) bool
}

var (
	_ StatisticsStore = (*storage.SQLiteStore)(nil)
	_ EventSink       = (*storage.DBWriter)(nil)
)

// Config controls the engine loops
type Config struct {
	AdaptInterval      time.Duration
	CheckpointInterval time.Duration
	EventMinLevel      models.AlertLevel

	AutoRollback   bool
	SpikeFactor    float64
	SpikeWindow    time.Duration
	SpikeMinAlarms int
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	ac := adaptive.DefaultConfig()
	return Config{
		AdaptInterval:      ac.UpdateInterval(),
		CheckpointInterval: 5 * time.Minute,
		EventMinLevel:      models.AlertWatch,
		AutoRollback:       ac.AutoRollbackOnAlarmSpike,
		SpikeFactor:        ac.AlarmSpikeThreshold,
		SpikeWindow:        ac.SpikeWindow,
		SpikeMinAlarms:     ac.SpikeMinAlarms,
	}
}

// ConfigFromAdaptive derives the engine config from the adaptive section
func ConfigFromAdaptive(ac adaptive.Config, checkpoint time.Duration) Config {
	cfg := DefaultConfig()
	cfg.AdaptInterval = ac.UpdateInterval()
	cfg.AutoRollback = ac.AutoRollbackOnAlarmSpike
	cfg.SpikeFactor = ac.AlarmSpikeThreshold
	cfg.SpikeWindow = ac.SpikeWindow
	cfg.SpikeMinAlarms = ac.SpikeMinAlarms
	if checkpoint > 0 {
		cfg.CheckpointInterval = checkpoint
	}
	return cfg
}

// Engine runs each reading through the detector and the adaptive system
// and keeps the detector's thresholds in step with the manager.
type Engine struct {
	cfg      Config
	detector *detector.MultiSensorFireDetector
	system   *adaptive.AdaptiveFireSystem
	store    StatisticsStore
	events   EventSink
	metrics  *metrics.Metrics
	spike    *spikeMonitor
	now      func() time.Time
	logger   zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an engine and installs the adaptive system as the
// detector's sensor-failure checker.
func New(cfg Config, det *detector.MultiSensorFireDetector, system *adaptive.AdaptiveFireSystem, logger zerolog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.AdaptInterval <= 0 {
		cfg.AdaptInterval = defaults.AdaptInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaults.CheckpointInterval
	}
	if cfg.SpikeWindow <= 0 {
		cfg.SpikeWindow = defaults.SpikeWindow
	}

	det.SetFailureChecker(system)

	return &Engine{
		cfg:      cfg,
		detector: det,
		system:   system,
		spike:    newSpikeMonitor(cfg.SpikeWindow, cfg.SpikeFactor, cfg.SpikeMinAlarms),
		now:      time.Now,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// SetStatisticsStore enables checkpointing. Call before Restore or Start.
func (e *Engine) SetStatisticsStore(s StatisticsStore) {
	e.store = s
}

// SetEventSink enables the detection event log. Call before Start.
func (e *Engine) SetEventSink(s EventSink) {
	e.events = s
}

// SetMetrics enables instrumentation. Call before Start.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Detector returns the wrapped detector
func (e *Engine) Detector() *detector.MultiSensorFireDetector {
	return e.detector
}

// System returns the wrapped adaptive system
func (e *Engine) System() *adaptive.AdaptiveFireSystem {
	return e.system
}

// Restore rehydrates threshold history, statistics and learning state and
// pushes the current thresholds to the detector.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.system.Manager().Load(ctx); err != nil {
		return err
	}

	if e.store != nil {
		records, err := e.store.LoadStatistics(ctx)
		if err != nil {
			return fmt.Errorf("failed to load statistics: %w", err)
		}
		restored := e.system.RestoreStatistics(records)

		data, ok, err := e.store.LoadState(ctx, learningStateKey)
		if err != nil {
			return fmt.Errorf("failed to load learning state: %w", err)
		}
		if ok {
			var ls adaptive.LearningState
			if err := json.Unmarshal(data, &ls); err != nil {
				e.logger.Warn().Err(err).Msg("Ignoring undecodable learning state")
			} else {
				e.system.RestoreLearningState(ls)
			}
		}

		e.logger.Info().
			Int("statistics", restored).
			Int64("samples", e.system.Status().TotalSamples).
			Msg("Learned state restored")
	}

	e.applyThresholds()
	return nil
}

// applyThresholds forwards the current set to the detector
func (e *Engine) applyThresholds() {
	e.detector.UpdateThresholds(e.system.CurrentThresholds())
	e.observeStatus()
}

func (e *Engine) observeStatus() {
	if e.metrics == nil {
		return
	}
	var version uint32
	if v, ok := e.system.Manager().CurrentVersion(); ok {
		version = v.Version
	}
	e.metrics.ObserveStatus(e.system.Status(), version)
}

// Process detects r, feeds it to learning, logs events and watches for
// alarm spikes after an adaptation.
func (e *Engine) Process(r *models.Reading) (models.FireDetectionResult, error) {
	if r == nil || !r.IsValid() {
		if e.metrics != nil {
			e.metrics.ReadingsTotal.WithLabelValues("invalid").Inc()
		}
		return models.FireDetectionResult{}, ErrInvalidReading
	}

	start := time.Now()
	res := e.detector.Detect(r)
	if e.metrics != nil {
		e.metrics.DetectDuration.Observe(time.Since(start).Seconds())
		e.metrics.ReadingsTotal.WithLabelValues("processed").Inc()
		e.metrics.ObserveResult(res)
	}

	e.system.ProcessReading(r, res.FireProbability)

	if e.events != nil && res.AlertLevel >= e.cfg.EventMinLevel {
		if !e.events.Write(storage.NewDetectionEvent(res)) && e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
	}

	if res.IsAlarm() && e.cfg.AutoRollback && e.spike.record(e.now()) {
		e.rollbackOnSpike()
	}

	return res, nil
}

// ProcessBatch processes every valid reading and returns the results with
// the highest level among them.
func (e *Engine) ProcessBatch(readings []models.Reading) ([]models.FireDetectionResult, models.AlertLevel) {
	results := make([]models.FireDetectionResult, 0, len(readings))
	maxLevel := models.AlertNormal
	for i := range readings {
		res, err := e.Process(&readings[i])
		if err != nil {
			e.logger.Warn().Err(err).Int("index", i).Msg("Skipping reading in batch")
			continue
		}
		results = append(results, res)
		if res.AlertLevel > maxLevel {
			maxLevel = res.AlertLevel
		}
	}
	return results, maxLevel
}

func (e *Engine) rollbackOnSpike() {
	current, previous := e.spike.counts()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := e.system.Manager().Rollback(ctx, 1); err != nil {
		e.logger.Error().Err(err).Msg("Alarm spike rollback failed")
		return
	}
	e.applyThresholds()
	if e.metrics != nil {
		e.metrics.RollbacksTotal.WithLabelValues("alarm_spike").Inc()
	}
	e.logger.Warn().
		Int("alarms", current).
		Int("previous_window", previous).
		Msg("Alarm spike after adaptation, thresholds rolled back")
}

// Adapt runs one adaptation pass and applies the result
func (e *Engine) Adapt(ctx context.Context) (bool, string, error) {
	applied, msg, err := e.system.UpdateThresholds(ctx)
	switch {
	case err != nil:
		e.countAdaptation("error")
		return false, msg, err
	case applied:
		e.countAdaptation("applied")
		e.applyThresholds()
		e.spike.arm(e.now())
	default:
		e.countAdaptation("skipped")
		e.logger.Debug().Str("reason", msg).Msg("Adaptation skipped")
	}
	return applied, msg, nil
}

func (e *Engine) countAdaptation(outcome string) {
	if e.metrics != nil {
		e.metrics.AdaptationsTotal.WithLabelValues(outcome).Inc()
	}
}

// Rollback retires the steps newest versions and applies what remains
func (e *Engine) Rollback(ctx context.Context, steps int) (models.ThresholdSet, error) {
	ts, err := e.system.Manager().Rollback(ctx, steps)
	if err != nil {
		return nil, err
	}
	e.spike.disarm()
	e.applyThresholds()
	if e.metrics != nil {
		e.metrics.RollbacksTotal.WithLabelValues("manual").Inc()
	}
	return ts, nil
}

// ResetToStandard forgets everything learned and applies the standard set
func (e *Engine) ResetToStandard(ctx context.Context) error {
	if err := e.system.ResetToStandard(ctx); err != nil {
		return fmt.Errorf("failed to reset thresholds: %w", err)
	}
	e.spike.disarm()
	e.applyThresholds()
	return nil
}

// Checkpoint writes every statistics snapshot and the learning state
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	records := e.system.StatisticsSnapshots()
	if err := e.store.SaveStatistics(ctx, records); err != nil {
		return fmt.Errorf("failed to checkpoint statistics: %w", err)
	}

	data, err := json.Marshal(e.system.LearningState())
	if err != nil {
		return fmt.Errorf("failed to encode learning state: %w", err)
	}
	if err := e.store.SaveState(ctx, learningStateKey, data); err != nil {
		return fmt.Errorf("failed to checkpoint learning state: %w", err)
	}

	e.logger.Debug().Int("statistics", len(records)).Msg("Checkpoint written")
	return nil
}

// Start launches the adaptation and checkpoint loops
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.loop()

	e.logger.Info().
		Dur("adapt_interval", e.cfg.AdaptInterval).
		Dur("checkpoint_interval", e.cfg.CheckpointInterval).
		Bool("auto_rollback", e.cfg.AutoRollback).
		Msg("Engine started")
}

func (e *Engine) loop() {
	defer e.wg.Done()

	adaptTicker := time.NewTicker(e.cfg.AdaptInterval)
	defer adaptTicker.Stop()
	checkpointTicker := time.NewTicker(e.cfg.CheckpointInterval)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-adaptTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			applied, msg, err := e.Adapt(ctx)
			cancel()
			if err != nil {
				e.logger.Error().Err(err).Msg("Adaptation failed")
			} else {
				e.logger.Info().Bool("applied", applied).Str("result", msg).Msg("Adaptation pass finished")
			}

		case <-checkpointTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := e.Checkpoint(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Checkpoint failed")
			}
			cancel()
			e.observeStatus()

		case <-e.stopChan:
			return
		}
	}
}

// Stop ends the loops and writes a final checkpoint
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Checkpoint(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Final checkpoint failed")
		}
		e.logger.Info().Msg("Engine stopped")
	})
}
