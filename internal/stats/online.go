// Package stats keeps O(1)-memory running statistics per sensor channel and
// decides which samples are allowed to train them.
package stats

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// ReservoirSize is the maximum number of samples kept for percentiles
const ReservoirSize = 10000

// Welford's online algorithm:
// https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm

// moments tracks count, mean and the sum of squared differences
type moments struct {
	n    int64
	mean float64
	m2   float64
}

func (m *moments) update(v float64) {
	m.n++
	delta := v - m.mean
	m.mean += delta / float64(m.n)
	m.m2 += delta * (v - m.mean)
}

// std is the population standard deviation, 0 until two samples exist
func (m *moments) std() float64 {
	if m.n < 2 {
		return 0
	}
	return math.Sqrt(m.m2 / float64(m.n))
}

// HourBucket accumulates the samples seen during one hour of the day
type HourBucket struct {
	Count int64
	Sum   float64
	SumSq float64
}

// OnlineStatistics summarises one (sensor, channel) stream. It is not safe
// for concurrent use; the owner serialises access.
type OnlineStatistics struct {
	values moments
	min    float64
	max    float64

	reservoir []float64
	// samples offered to the reservoir; restarts at 0 on restore
	seen int64
	rng  *rand.Rand

	hourly [24]HourBucket

	rate      moments
	rateMax   float64
	lastValue float64
	lastTime  time.Time
	hasLast   bool
}

// NewOnlineStatistics creates empty statistics. rng drives reservoir
// replacement; nil gets a randomly seeded PCG source.
func NewOnlineStatistics(rng *rand.Rand) *OnlineStatistics {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &OnlineStatistics{rng: rng}
}

// Update folds one sample into every statistic
func (s *OnlineStatistics) Update(value float64, ts time.Time) {
	s.values.update(value)
	if s.values.n == 1 {
		s.min, s.max = value, value
	} else {
		s.min = math.Min(s.min, value)
		s.max = math.Max(s.max, value)
	}

	// Algorithm R
	s.seen++
	if len(s.reservoir) < ReservoirSize {
		s.reservoir = append(s.reservoir, value)
	} else if k := s.rng.Int64N(s.seen); k < ReservoirSize {
		s.reservoir[k] = value
	}

	b := &s.hourly[ts.Hour()]
	b.Count++
	b.Sum += value
	b.SumSq += value * value

	if s.hasLast {
		if dt := ts.Sub(s.lastTime).Seconds(); dt > 0 {
			r := (value - s.lastValue) / dt * 60
			s.rate.update(r)
			s.rateMax = math.Max(s.rateMax, math.Abs(r))
		}
	}
	s.lastValue, s.lastTime, s.hasLast = value, ts, true
}

// N returns the number of samples seen
func (s *OnlineStatistics) N() int64 { return s.values.n }

// Mean returns the running mean
func (s *OnlineStatistics) Mean() float64 { return s.values.mean }

// Std returns the population standard deviation
func (s *OnlineStatistics) Std() float64 { return s.values.std() }

// Min returns the smallest sample, 0 when empty
func (s *OnlineStatistics) Min() float64 { return s.min }

// Max returns the largest sample, 0 when empty
func (s *OnlineStatistics) Max() float64 { return s.max }

// RateN returns how many rate samples were derived
func (s *OnlineStatistics) RateN() int64 { return s.rate.n }

// RateMean returns the mean signed per-minute change
func (s *OnlineStatistics) RateMean() float64 { return s.rate.mean }

// RateStd returns the standard deviation of the per-minute change
func (s *OnlineStatistics) RateStd() float64 { return s.rate.std() }

// RateMax returns the largest absolute per-minute change
func (s *OnlineStatistics) RateMax() float64 { return s.rateMax }

// ReservoirLen returns how many samples the reservoir holds
func (s *OnlineStatistics) ReservoirLen() int { return len(s.reservoir) }

// Percentile returns the ⌊|R|·p/100⌋-th smallest reservoir sample, clamped
// to the reservoir bounds. An empty reservoir yields 0.
func (s *OnlineStatistics) Percentile(p float64) float64 {
	if len(s.reservoir) == 0 {
		return 0
	}
	sorted := slices.Clone(s.reservoir)
	slices.Sort(sorted)

	idx := int(math.Floor(float64(len(sorted)) * p / 100))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// HourlyMeans returns the mean per hour of day. Buckets with one sample or
// fewer report 0.
func (s *OnlineStatistics) HourlyMeans() [24]float64 {
	var out [24]float64
	for h, b := range s.hourly {
		if b.Count > 1 {
			out[h] = b.Sum / float64(b.Count)
		}
	}
	return out
}

// HourlyStds returns the standard deviation per hour of day
func (s *OnlineStatistics) HourlyStds() [24]float64 {
	var out [24]float64
	for h, b := range s.hourly {
		if b.Count <= 1 {
			continue
		}
		mean := b.Sum / float64(b.Count)
		variance := b.SumSq/float64(b.Count) - mean*mean
		if variance > 0 {
			out[h] = math.Sqrt(variance)
		}
	}
	return out
}

// Hourly returns a copy of the raw hour buckets
func (s *OnlineStatistics) Hourly() [24]HourBucket {
	return s.hourly
}
