package adaptive

import (
	"math"

	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

// MinAdaptSamples is the sample count below which a channel keeps its
// standard threshold.
const MinAdaptSamples = 100

var levelMargins = map[models.ThresholdLevel]float64{
	models.LevelWatch:   2.0,
	models.LevelCaution: 2.5,
	models.LevelWarning: 3.0,
	models.LevelDanger:  3.5,
}

const (
	statsWeight      = 0.6
	percentileWeight = 0.4
)

// Calculator proposes thresholds from learned statistics
type Calculator struct {
	adjustment float64
}

// NewCalculator creates a calculator clamping to ±adjustment of standard.
// The bound never exceeds MaxAdjustment.
func NewCalculator(adjustment float64) Calculator {
	if adjustment <= 0 || adjustment > MaxAdjustment {
		adjustment = MaxAdjustment
	}
	return Calculator{adjustment: adjustment}
}

// Threshold returns the adapted value for one channel level. Inverse
// channels mirror the formula downward: mean - margin·std, blended with p5,
// p1 or 0.9·min.
func (c Calculator) Threshold(ch models.Channel, level models.ThresholdLevel, s *stats.OnlineStatistics, standard float64) float64 {
	if s == nil || s.N() < MinAdaptSamples {
		return standard
	}
	margin := levelMargins[level]
	inverse := models.IsInverse(ch)

	adaptive := s.Mean() + margin*s.Std()
	if inverse {
		adaptive = s.Mean() - margin*s.Std()
	}

	// restored statistics have no reservoir until samples flow again, so
	// their percentiles are undefined
	sampled := s.ReservoirLen() > 0

	var ref float64
	switch level {
	case models.LevelWatch:
		ref = s.Percentile(95)
		if inverse {
			ref = s.Percentile(5)
		}
		if !sampled {
			ref = adaptive
		}
	case models.LevelCaution:
		ref = s.Percentile(99)
		if inverse {
			ref = s.Percentile(1)
		}
		if !sampled {
			ref = adaptive
		}
	default:
		ref = 0.9 * s.Max()
		if inverse {
			ref = 0.9 * s.Min()
		}
	}
	if math.IsNaN(ref) || math.IsInf(ref, 0) {
		ref = adaptive
	}

	adaptive = statsWeight*adaptive + percentileWeight*ref
	return c.clamp(adaptive, standard)
}

func (c Calculator) clamp(v, standard float64) float64 {
	lo := standard * (1 - c.adjustment)
	hi := standard * (1 + c.adjustment)
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// AllThresholds computes every "{channel}_{level}" key of ch that exists in
// standard and returns only those keys.
func (c Calculator) AllThresholds(ch models.Channel, s *stats.OnlineStatistics, standard models.ThresholdSet) models.ThresholdSet {
	out := make(models.ThresholdSet)
	for _, level := range models.ThresholdLevels {
		key := models.ThresholdKey(ch, level)
		std, ok := standard[key]
		if !ok {
			continue
		}
		out[key] = c.Threshold(ch, level, s, std)
	}
	return out
}
