package stats

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// Snapshot is the persisted form of OnlineStatistics. The reservoir is not
// part of it and refills as data flows again.
type Snapshot struct {
	N            int64       `json:"n"`
	Mean         float64     `json:"mean"`
	M2           float64     `json:"M2"`
	Min          float64     `json:"min"`
	Max          float64     `json:"max"`
	HourlyCounts [24]int64   `json:"hourly_counts"`
	HourlySums   [24]float64 `json:"hourly_sums"`
	HourlySumSq  [24]float64 `json:"hourly_sum_sq"`
	RateN        int64       `json:"rate_n"`
	RateMean     float64     `json:"rate_mean"`
	RateM2       float64     `json:"rate_M2"`
	RateMax      float64     `json:"rate_max"`
}

// Snapshot captures the current state
func (s *OnlineStatistics) Snapshot() Snapshot {
	snap := Snapshot{
		N:        s.values.n,
		Mean:     s.values.mean,
		M2:       s.values.m2,
		Min:      s.min,
		Max:      s.max,
		RateN:    s.rate.n,
		RateMean: s.rate.mean,
		RateM2:   s.rate.m2,
		RateMax:  s.rateMax,
	}
	for h, b := range s.hourly {
		snap.HourlyCounts[h] = b.Count
		snap.HourlySums[h] = b.Sum
		snap.HourlySumSq[h] = b.SumSq
	}
	return snap
}

// FromSnapshot rebuilds statistics from snap with an empty reservoir
func FromSnapshot(snap Snapshot, rng *rand.Rand) (*OnlineStatistics, error) {
	if snap.N < 0 || snap.RateN < 0 || snap.M2 < 0 || snap.RateM2 < 0 {
		return nil, fmt.Errorf("invalid statistics snapshot: negative count or M2")
	}
	s := NewOnlineStatistics(rng)
	s.values = moments{n: snap.N, mean: snap.Mean, m2: snap.M2}
	s.min, s.max = snap.Min, snap.Max
	s.rate = moments{n: snap.RateN, mean: snap.RateMean, m2: snap.RateM2}
	s.rateMax = snap.RateMax
	for h := range s.hourly {
		s.hourly[h] = HourBucket{
			Count: snap.HourlyCounts[h],
			Sum:   snap.HourlySums[h],
			SumSq: snap.HourlySumSq[h],
		}
	}
	return s, nil
}

// MarshalSnapshot encodes the state as JSON
func (s *OnlineStatistics) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalSnapshot decodes JSON produced by MarshalSnapshot
func UnmarshalSnapshot(data []byte, rng *rand.Rand) (*OnlineStatistics, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return FromSnapshot(snap, rng)
}
