// Package detector turns sensor readings into fire detection results by
// fusing fuzzy per-channel evidence and applying combination rules.
package detector

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/fusion"
	"github.com/afroash/fire-monitor/internal/fuzzy"
	"github.com/afroash/fire-monitor/internal/models"
)

// MaxFireProbability caps the reported probability
const MaxFireProbability = 0.95

// DefaultWeights are the per-channel fusion weights. h2s shares the ch4
// weight unless configured separately.
func DefaultWeights() map[models.Channel]float64 {
	return map[models.Channel]float64{
		models.ChannelSmoke:       0.25,
		models.ChannelCO:          0.20,
		models.ChannelTempRate:    0.18,
		models.ChannelO2:          0.12,
		models.ChannelCO2:         0.10,
		models.ChannelTemperature: 0.08,
		models.ChannelCH4:         0.05,
		models.ChannelHumidity:    0.02,
	}
}

// Config holds the detector tuning knobs
type Config struct {
	Weights         map[models.Channel]float64
	TemporalTau     float64
	DiscountMode    fusion.DiscountMode
	HistorySize     int
	HysteresisCount int
	RateWindow      time.Duration
	Rules           []Rule
}

// DefaultConfig returns the factory detector configuration
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		TemporalTau:     fusion.DefaultTemporalTau,
		DiscountMode:    fusion.DiscountReliability,
		HistorySize:     DefaultHistorySize,
		HysteresisCount: 3,
		RateWindow:      60 * time.Second,
		Rules:           DefaultRules(),
	}
}

// FailureChecker decides whether a value is a sensor fault rather than
// evidence. It is implemented by the owner of the long-term statistics.
type FailureChecker interface {
	IsSensorFailure(sensorID string, ch models.Channel, value float64) bool
}

// sensorState is everything the detector remembers about one sensor
type sensorState struct {
	histories   map[models.Channel]*SensorHistory
	combiner    *fusion.ImprovedCombiner
	consecutive int
}

// FireDetector fuses readings into detection results. One mutex guards the
// per-sensor histories, temporal memory and hysteresis counters.
type FireDetector struct {
	mu         sync.Mutex
	cfg        Config
	membership *fuzzy.Membership
	sensors    map[string]*sensorState
	failures   FailureChecker
	logger     zerolog.Logger
}

// NewFireDetector creates a detector using thresholds ts (nil = standard)
func NewFireDetector(cfg Config, ts models.ThresholdSet, logger zerolog.Logger) *FireDetector {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.HysteresisCount <= 0 {
		cfg.HysteresisCount = 3
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 60 * time.Second
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	return &FireDetector{
		cfg:        cfg,
		membership: fuzzy.NewMembership(ts),
		sensors:    make(map[string]*sensorState),
		logger:     logger,
	}
}

// SetFailureChecker installs the sensor-failure oracle
func (d *FireDetector) SetFailureChecker(fc FailureChecker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = fc
}

// weight returns the fusion weight of ch, or 0 if it is not fused
func (d *FireDetector) weight(ch models.Channel) float64 {
	if w, ok := d.cfg.Weights[ch]; ok {
		return w
	}
	if ch == models.ChannelH2S {
		return d.cfg.Weights[models.ChannelCH4]
	}
	return 0
}

func (d *FireDetector) state(sensorID string) *sensorState {
	st, ok := d.sensors[sensorID]
	if !ok {
		st = &sensorState{
			histories: make(map[models.Channel]*SensorHistory),
			combiner:  fusion.NewImprovedCombiner(d.cfg.TemporalTau, d.cfg.DiscountMode),
		}
		d.sensors[sensorID] = st
	}
	return st
}

func (st *sensorState) history(ch models.Channel, size int) *SensorHistory {
	h, ok := st.histories[ch]
	if !ok {
		h = NewSensorHistory(size)
		st.histories[ch] = h
	}
	return h
}

// evidence is one channel's contribution to a fuse
type evidence struct {
	channel models.Channel
	mass    fusion.MassFunction
	weight  float64
}

// Detect runs the full pipeline for one reading. It never fails; a reading
// with no usable channels yields a NORMAL result.
func (d *FireDetector) Detect(r *models.Reading) models.FireDetectionResult {
	// The failure checker takes its own lock, so it runs before ours.
	d.mu.Lock()
	fc := d.failures
	d.mu.Unlock()

	failed := make(map[models.Channel]bool)
	if fc != nil {
		for _, cv := range r.Present() {
			if models.IsFinite(cv.Value) && fc.IsSensorFailure(r.SensorID, cv.Channel, cv.Value) {
				failed[cv.Channel] = true
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.state(r.SensorID)
	values := make(map[models.Channel]float64)
	var evs []evidence

	addChannel := func(ch models.Channel, v float64) {
		st.history(ch, d.cfg.HistorySize).Add(r.Timestamp, v)
		values[ch] = v

		w := d.weight(ch)
		if w <= 0 {
			return
		}
		mass, ok := d.membership.Evaluate(ch, v)
		if !ok {
			return
		}
		evs = append(evs, evidence{channel: ch, mass: mass, weight: w})
	}

	for _, cv := range r.Present() {
		if !models.IsFinite(cv.Value) {
			d.logger.Warn().
				Str("sensor_id", r.SensorID).
				Str("channel", string(cv.Channel)).
				Msg("Dropping non-finite channel value")
			continue
		}
		if failed[cv.Channel] {
			d.logger.Warn().
				Str("sensor_id", r.SensorID).
				Str("channel", string(cv.Channel)).
				Float64("value", cv.Value).
				Msg("Sensor failure suspected, channel excluded")
			continue
		}
		addChannel(cv.Channel, cv.Value)

		if cv.Channel == models.ChannelTemperature {
			if rate, ok := st.history(models.ChannelTemperature, d.cfg.HistorySize).RatePerMinute(d.cfg.RateWindow); ok {
				addChannel(models.ChannelTempRate, rate)
			}
		}
	}

	// No evidence leaves the temporal memory untouched and raises nothing.
	combined := fusion.Ignorance()
	if fused := fireEvidence(evs); len(fused) > 0 {
		masses := make([]fusion.MassFunction, len(fused))
		weights := make([]float64, len(fused))
		for i, ev := range fused {
			masses[i] = ev.mass
			weights[i] = ev.weight
		}
		combined = st.combiner.CombineWithTemporal(masses, weights)
	}

	var base float64
	if !combined.IsIgnorance() {
		base = combined.Pignistic()
	}

	outcome := EvaluateRules(d.cfg.Rules, values)
	p := math.Min(base+outcome.Boost, MaxFireProbability)
	p = round4(p)

	level := d.applyHysteresis(st, models.LevelForProbability(p), outcome.Override)

	contributions := make(map[models.Channel]float64, len(evs))
	for _, ev := range evs {
		contributions[ev.channel] = round4(ev.mass.Fire * ev.weight)
	}

	result := models.FireDetectionResult{
		SensorID:        r.SensorID,
		Timestamp:       r.Timestamp,
		FireProbability: p,
		AlertLevel:      level,
		Belief: models.Belief{
			Fire:      combined.Fire,
			Normal:    combined.Normal,
			Uncertain: combined.Uncertain,
		},
		Contributions:     contributions,
		TriggeredRules:    outcome.Messages,
		Message:           buildMessage(level, contributions, outcome.Messages),
		RecommendedAction: level.RecommendedAction(),
	}

	if level >= models.AlertCaution {
		d.logger.Info().
			Str("sensor_id", r.SensorID).
			Str("level", level.String()).
			Float64("fire_probability", p).
			Float64("conflict", st.combiner.Conflict()).
			Strs("rules", outcome.Names).
			Msg("Fire alert")
	}
	return result
}

// fireEvidence returns the channels whose mass carries any fire belief.
// Channels resting in their safe band join the fuse only when no channel
// does, so they never outvote a single channel that has left its band.
func fireEvidence(evs []evidence) []evidence {
	hot := make([]evidence, 0, len(evs))
	for _, ev := range evs {
		if ev.mass.Fire > 0 {
			hot = append(hot, ev)
		}
	}
	if len(hot) == 0 {
		return evs
	}
	return hot
}

// applyHysteresis holds back alerts at CAUTION and above until they have
// been seen HysteresisCount times in a row. Rule overrides bypass it and
// leave the counter alone.
func (d *FireDetector) applyHysteresis(st *sensorState, level, override models.AlertLevel) models.AlertLevel {
	if override > 0 {
		if override > level {
			return override
		}
		return level
	}
	if level < models.AlertCaution {
		st.consecutive = 0
		return level
	}
	st.consecutive++
	if st.consecutive < d.cfg.HysteresisCount {
		level--
		if level < models.AlertWatch {
			level = models.AlertWatch
		}
	}
	return level
}

func buildMessage(level models.AlertLevel, contributions map[models.Channel]float64, rules []string) string {
	if level == models.AlertNormal && len(rules) == 0 {
		return ""
	}

	type kv struct {
		ch models.Channel
		v  float64
	}
	top := make([]kv, 0, len(contributions))
	for ch, v := range contributions {
		if v > 0 {
			top = append(top, kv{ch, v})
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].v != top[j].v {
			return top[i].v > top[j].v
		}
		return top[i].ch < top[j].ch
	})
	if len(top) > 3 {
		top = top[:3]
	}

	parts := make([]string, 0, len(top))
	for _, t := range top {
		parts = append(parts, fmt.Sprintf("%s(%.3f)", t.ch, t.v))
	}

	msg := level.String()
	if len(parts) > 0 {
		msg += " - 주요 요인: " + strings.Join(parts, ", ")
	}
	if len(rules) > 0 {
		msg += " | " + strings.Join(rules, ", ")
	}
	return msg
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// UpdateThresholds swaps the threshold set used for membership evaluation
func (d *FireDetector) UpdateThresholds(ts models.ThresholdSet) {
	d.membership.UpdateThresholds(ts)
	d.logger.Info().Int("count", len(ts)).Msg("Detector thresholds updated")
}

// Thresholds returns a copy of the thresholds in use
func (d *FireDetector) Thresholds() models.ThresholdSet {
	return d.membership.Thresholds()
}

// Reset clears histories, temporal memory and hysteresis for sensorID, or
// for every sensor when sensorID is empty.
func (d *FireDetector) Reset(sensorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sensorID == "" {
		d.sensors = make(map[string]*sensorState)
		return
	}
	delete(d.sensors, sensorID)
}

// ConsecutiveAlerts returns the hysteresis counter for sensorID
func (d *FireDetector) ConsecutiveAlerts(sensorID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.sensors[sensorID]; ok {
		return st.consecutive
	}
	return 0
}
