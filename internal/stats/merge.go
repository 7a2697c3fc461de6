package stats

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Clone returns an independent copy whose reservoir draws from rng
func (s *OnlineStatistics) Clone(rng *rand.Rand) *OnlineStatistics {
	c := *s
	c.reservoir = slices.Clone(s.reservoir)
	c.rng = rng
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &c
}

// Merge pools a and b into new statistics, as if every sample had been fed
// to one instance. Moments use the parallel Welford update; the reservoir
// takes from each side in proportion to its sample count.
func Merge(a, b *OnlineStatistics, rng *rand.Rand) *OnlineStatistics {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	switch {
	case a.N() == 0:
		return b.Clone(rng)
	case b.N() == 0:
		return a.Clone(rng)
	}

	out := NewOnlineStatistics(rng)
	out.values = mergeMoments(a.values, b.values)
	out.min = math.Min(a.min, b.min)
	out.max = math.Max(a.max, b.max)
	out.rate = mergeMoments(a.rate, b.rate)
	out.rateMax = math.Max(a.rateMax, b.rateMax)
	out.seen = a.seen + b.seen
	for h := range out.hourly {
		out.hourly[h] = HourBucket{
			Count: a.hourly[h].Count + b.hourly[h].Count,
			Sum:   a.hourly[h].Sum + b.hourly[h].Sum,
			SumSq: a.hourly[h].SumSq + b.hourly[h].SumSq,
		}
	}

	if len(a.reservoir)+len(b.reservoir) <= ReservoirSize {
		out.reservoir = append(slices.Clone(a.reservoir), b.reservoir...)
	} else {
		share := float64(a.N()) / float64(out.values.n)
		fromA := min(len(a.reservoir), int(math.Round(share*ReservoirSize)))
		fromB := min(len(b.reservoir), ReservoirSize-fromA)
		out.reservoir = make([]float64, 0, fromA+fromB)
		out.reservoir = append(out.reservoir, sample(a.reservoir, fromA, rng)...)
		out.reservoir = append(out.reservoir, sample(b.reservoir, fromB, rng)...)
	}

	// the last sample of the newer side continues the rate stream
	if b.lastTime.After(a.lastTime) {
		out.lastValue, out.lastTime, out.hasLast = b.lastValue, b.lastTime, b.hasLast
	} else {
		out.lastValue, out.lastTime, out.hasLast = a.lastValue, a.lastTime, a.hasLast
	}
	return out
}

func mergeMoments(a, b moments) moments {
	n := a.n + b.n
	if n == 0 {
		return moments{}
	}
	delta := b.mean - a.mean
	return moments{
		n:    n,
		mean: a.mean + delta*float64(b.n)/float64(n),
		m2:   a.m2 + b.m2 + delta*delta*float64(a.n)*float64(b.n)/float64(n),
	}
}

// sample returns k values drawn without replacement from values
func sample(values []float64, k int, rng *rand.Rand) []float64 {
	if k >= len(values) {
		return slices.Clone(values)
	}
	out := make([]float64, k)
	for i, j := range rng.Perm(len(values))[:k] {
		out[i] = values[j]
	}
	return out
}
