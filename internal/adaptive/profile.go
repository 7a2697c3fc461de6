package adaptive

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

// EnvironmentType is the detected kind of installation
type EnvironmentType string

const (
	EnvAuto        EnvironmentType = "auto"
	EnvOffice      EnvironmentType = "office"
	EnvFactory     EnvironmentType = "factory"
	EnvKitchen     EnvironmentType = "kitchen"
	EnvUnderground EnvironmentType = "underground"
	EnvWarehouse   EnvironmentType = "warehouse"
	EnvElectrical  EnvironmentType = "electrical"
)

// EnvironmentTypes lists the types in declaration order, which also
// breaks ties between equal scores.
var EnvironmentTypes = []EnvironmentType{
	EnvAuto, EnvOffice, EnvFactory, EnvKitchen, EnvUnderground, EnvWarehouse, EnvElectrical,
}

// ParseEnvironmentType accepts a type name in any case; "" means auto
func ParseEnvironmentType(s string) (EnvironmentType, error) {
	if s == "" {
		return EnvAuto, nil
	}
	for _, t := range EnvironmentTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown environment type %q", s)
}

const (
	// profileMinSamples is the total sample count before classification
	profileMinSamples = 1000
	// baselineMinSamples is the per-channel count before a baseline is reported
	baselineMinSamples = 100
)

// SensorBaseline is the learned normal behaviour of one channel
type SensorBaseline struct {
	NormalMean      float64 `json:"normal_mean"`
	NormalStd       float64 `json:"normal_std"`
	AlertThreshold  float64 `json:"alert_threshold"`
	DangerThreshold float64 `json:"danger_threshold"`
}

// NormalRange is the (p5, p95) band of a channel
type NormalRange struct {
	Low  float64 `json:"p5"`
	High float64 `json:"p95"`
}

// EnvironmentProfile is an immutable snapshot of what the profile detector
// has learned.
type EnvironmentProfile struct {
	ProfileID          string                            `json:"profile_id"`
	DetectedType       EnvironmentType                   `json:"detected_type"`
	Baseline           map[models.Channel]SensorBaseline `json:"baseline"`
	NormalRanges       map[models.Channel]NormalRange    `json:"normal_ranges"`
	HourlyCoefficients map[models.Channel][24]float64    `json:"hourly_coefficients"`
	Confidence         float64                           `json:"confidence"`
	SamplesCount       int64                             `json:"samples_count"`
	LastUpdated        time.Time                         `json:"last_updated"`
}

// ProfileDetector classifies the installation from every reading it sees,
// anomalies included. It is owned and serialised by AdaptiveFireSystem.
type ProfileDetector struct {
	forced     EnvironmentType
	stats      map[models.Channel]*stats.OnlineStatistics
	newStats   func() *stats.OnlineStatistics
	detected   EnvironmentType
	confidence float64
	updated    time.Time
}

// NewProfileDetector creates a detector. A forced type other than auto
// skips classification. rng seeds the per-channel reservoirs.
func NewProfileDetector(forced EnvironmentType, rng *rand.Rand) *ProfileDetector {
	if forced == "" {
		forced = EnvAuto
	}
	return &ProfileDetector{
		forced:   forced,
		stats:    make(map[models.Channel]*stats.OnlineStatistics),
		newStats: childStats(rng),
		detected: EnvAuto,
	}
}

// childStats returns a factory of statistics whose reservoirs draw from
// generators seeded off rng.
func childStats(rng *rand.Rand) func() *stats.OnlineStatistics {
	return func() *stats.OnlineStatistics {
		if rng == nil {
			return stats.NewOnlineStatistics(nil)
		}
		return stats.NewOnlineStatistics(rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())))
	}
}

// Update feeds every present, finite channel and reclassifies
func (p *ProfileDetector) Update(r *models.Reading) {
	for _, cv := range r.Present() {
		if !models.IsFinite(cv.Value) {
			continue
		}
		s, ok := p.stats[cv.Channel]
		if !ok {
			s = p.newStats()
			p.stats[cv.Channel] = s
		}
		s.Update(cv.Value, r.Timestamp)
	}
	p.updated = r.Timestamp
	p.detectEnvironment()
}

// totalSamples sums the sample counts of every channel
func (p *ProfileDetector) totalSamples() int64 {
	var n int64
	for _, s := range p.stats {
		n += s.N()
	}
	return n
}

func (p *ProfileDetector) detectEnvironment() {
	total := p.totalSamples()
	if total < profileMinSamples {
		p.detected = EnvAuto
		p.confidence = 0.5 * float64(total) / profileMinSamples
		if p.forced != EnvAuto {
			p.detected = p.forced
		}
		return
	}
	if p.forced != EnvAuto {
		p.detected = p.forced
		p.confidence = 1.0
		return
	}

	scores := p.scores()
	best, bestScore := EnvAuto, 0.0
	for _, t := range EnvironmentTypes {
		if scores[t] > bestScore {
			best, bestScore = t, scores[t]
		}
	}
	p.detected = best
	p.confidence = math.Min(1, bestScore+0.5)
}

func (p *ProfileDetector) scores() map[EnvironmentType]float64 {
	scores := make(map[EnvironmentType]float64)
	get := func(ch models.Channel) (*stats.OnlineStatistics, bool) {
		s, ok := p.stats[ch]
		return s, ok && s.N() > 0
	}

	if co2, ok := get(models.ChannelCO2); ok {
		if co2.Mean() > 400 && co2.Mean() < 1200 && co2.Std() < 300 {
			scores[EnvOffice] += 0.3
		}
	}
	if temp, ok := get(models.ChannelTemperature); ok {
		if temp.Std() > 5 {
			scores[EnvFactory] += 0.2
		}
		if temp.Mean() > 28 {
			scores[EnvElectrical] += 0.2
		}
	}
	if smoke, ok := get(models.ChannelSmoke); ok {
		if smoke.ReservoirLen() > 0 && smoke.Max() > 5 && smoke.Percentile(90) < 3 {
			scores[EnvKitchen] += 0.3
		}
	}
	if o2, ok := get(models.ChannelO2); ok {
		if o2.Std() > 0.5 {
			scores[EnvUnderground] += 0.3
		}
	}
	if hum, ok := get(models.ChannelHumidity); ok {
		if hum.Std() < 10 && hum.Mean() > 30 && hum.Mean() < 60 {
			scores[EnvWarehouse] += 0.2
		}
	}
	return scores
}

// DetectedType returns the current classification
func (p *ProfileDetector) DetectedType() EnvironmentType { return p.detected }

// Confidence returns the classification confidence in [0,1]
func (p *ProfileDetector) Confidence() float64 { return p.confidence }

// Profile derives a snapshot from the accumulated statistics
func (p *ProfileDetector) Profile() EnvironmentProfile {
	profile := EnvironmentProfile{
		ProfileID:          uuid.New().String(),
		DetectedType:       p.detected,
		Baseline:           make(map[models.Channel]SensorBaseline),
		NormalRanges:       make(map[models.Channel]NormalRange),
		HourlyCoefficients: make(map[models.Channel][24]float64),
		Confidence:         p.confidence,
		SamplesCount:       p.totalSamples(),
		LastUpdated:        p.updated,
	}

	for ch, s := range p.stats {
		if s.N() < baselineMinSamples {
			continue
		}
		mean, std := s.Mean(), s.Std()
		profile.Baseline[ch] = SensorBaseline{
			NormalMean:      mean,
			NormalStd:       std,
			AlertThreshold:  mean + 2.5*std,
			DangerThreshold: mean + 3.5*std,
		}
		if s.ReservoirLen() > 0 {
			profile.NormalRanges[ch] = NormalRange{Low: s.Percentile(5), High: s.Percentile(95)}
		}

		var coeff [24]float64
		hourly := s.HourlyMeans()
		for h := range coeff {
			if mean == 0 {
				coeff[h] = 1.0
			} else {
				coeff[h] = hourly[h] / mean
			}
		}
		profile.HourlyCoefficients[ch] = coeff
	}
	return profile
}

// Snapshots returns the persisted form of every channel's statistics
func (p *ProfileDetector) Snapshots() map[models.Channel]stats.Snapshot {
	out := make(map[models.Channel]stats.Snapshot, len(p.stats))
	for ch, s := range p.stats {
		out[ch] = s.Snapshot()
	}
	return out
}

// restore installs previously persisted statistics for ch
func (p *ProfileDetector) restore(ch models.Channel, s *stats.OnlineStatistics) {
	p.stats[ch] = s
	p.detectEnvironment()
}
