package stats

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1024))
}

func TestOnlineStatistics_Welford(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	for i := 0; i < 1000; i++ {
		s.Update(float64(i), base.Add(time.Duration(i)*time.Second))
	}

	assert.Equal(t, int64(1000), s.N())
	assert.InDelta(t, 499.5, s.Mean(), 1e-9)
	assert.InDelta(t, 288.675, s.Std(), 1e-3)
	assert.Equal(t, 0.0, s.Min())
	assert.Equal(t, 999.0, s.Max())

	p50 := s.Percentile(50)
	assert.GreaterOrEqual(t, p50, 490.0)
	assert.LessOrEqual(t, p50, 510.0)
}

func TestOnlineStatistics_Empty(t *testing.T) {
	s := NewOnlineStatistics(nil)
	assert.Equal(t, 0.0, s.Std())
	assert.Equal(t, 0.0, s.Percentile(50))

	s.Update(7, base)
	assert.Equal(t, 0.0, s.Std())
	assert.Equal(t, 7.0, s.Min())
	assert.Equal(t, 7.0, s.Max())
	assert.Equal(t, int64(0), s.RateN())
}

func TestOnlineStatistics_ReservoirBounded(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	for i := 0; i < 3*ReservoirSize; i++ {
		s.Update(float64(i), base)
	}
	assert.Equal(t, ReservoirSize, s.ReservoirLen())

	// a uniform sample of 0..29999 has its median near 15000
	assert.InDelta(t, 15000, s.Percentile(50), 1000)
	assert.Equal(t, s.Percentile(100), s.Percentile(150))
	assert.LessOrEqual(t, s.Percentile(0), s.Percentile(5))
}

func TestOnlineStatistics_ReservoirReproducible(t *testing.T) {
	a := NewOnlineStatistics(seeded())
	b := NewOnlineStatistics(seeded())
	for i := 0; i < 2*ReservoirSize; i++ {
		a.Update(float64(i), base)
		b.Update(float64(i), base)
	}
	assert.Equal(t, a.Percentile(90), b.Percentile(90))
}

func TestOnlineStatistics_Rate(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	s.Update(20, base)
	s.Update(21, base.Add(30*time.Second))  // +2/min
	s.Update(21, base.Add(30*time.Second))  // Δt = 0, skipped
	s.Update(18, base.Add(90*time.Second))  // -3/min
	s.Update(18, base.Add(150*time.Second)) // 0/min

	assert.Equal(t, int64(3), s.RateN())
	assert.InDelta(t, -1.0/3.0, s.RateMean(), 1e-9)
	assert.InDelta(t, 3.0, s.RateMax(), 1e-9)
	assert.Greater(t, s.RateStd(), 0.0)
}

func TestOnlineStatistics_Hourly(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	s.Update(10, base.Add(9*time.Hour))
	s.Update(20, base.Add(9*time.Hour+time.Minute))
	s.Update(99, base.Add(13*time.Hour))

	means := s.HourlyMeans()
	stds := s.HourlyStds()
	assert.InDelta(t, 15.0, means[9], 1e-9)
	assert.InDelta(t, 5.0, stds[9], 1e-9)
	assert.Equal(t, 0.0, means[13], "single-sample bucket reports 0")
	assert.Equal(t, int64(1), s.Hourly()[13].Count)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	for i := 0; i < 500; i++ {
		s.Update(20+math.Sin(float64(i)/7)*3, base.Add(time.Duration(i)*7*time.Second))
	}

	data, err := s.MarshalSnapshot()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"M2"`)
	assert.Contains(t, string(data), `"hourly_counts"`)

	restored, err := UnmarshalSnapshot(data, seeded())
	require.NoError(t, err)

	assert.Equal(t, s.N(), restored.N())
	assert.Equal(t, s.Mean(), restored.Mean())
	assert.Equal(t, s.Std(), restored.Std())
	assert.Equal(t, s.Min(), restored.Min())
	assert.Equal(t, s.Max(), restored.Max())
	assert.Equal(t, s.RateN(), restored.RateN())
	assert.Equal(t, s.RateMean(), restored.RateMean())
	assert.Equal(t, s.RateStd(), restored.RateStd())
	assert.Equal(t, s.RateMax(), restored.RateMax())
	assert.Equal(t, s.HourlyMeans(), restored.HourlyMeans())
	assert.Equal(t, 0, restored.ReservoirLen())
}

func TestSnapshot_RestoredReservoirRefills(t *testing.T) {
	s := NewOnlineStatistics(seeded())
	for i := 0; i < 2*ReservoirSize; i++ {
		s.Update(float64(i%100), base)
	}

	restored, err := FromSnapshot(s.Snapshot(), seeded())
	require.NoError(t, err)
	require.Equal(t, 0, restored.ReservoirLen())

	require.NotPanics(t, func() {
		for i := 0; i < ReservoirSize+500; i++ {
			restored.Update(50, base.Add(time.Duration(i)*time.Second))
		}
	})
	assert.Equal(t, int64(3*ReservoirSize+500), restored.N())
	assert.Equal(t, ReservoirSize, restored.ReservoirLen())
	assert.Equal(t, 50.0, restored.Percentile(95))
}

func TestSnapshot_Invalid(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte("{not json"), nil)
	assert.Error(t, err)

	_, err = FromSnapshot(Snapshot{N: -1}, nil)
	assert.Error(t, err)
}

func TestMerge_MatchesSingleStream(t *testing.T) {
	whole := NewOnlineStatistics(seeded())
	a := NewOnlineStatistics(seeded())
	b := NewOnlineStatistics(seeded())
	for i := 0; i < 1000; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		whole.Update(float64(i), ts)
		if i < 300 {
			a.Update(float64(i), ts)
		} else {
			b.Update(float64(i), ts)
		}
	}

	m := Merge(a, b, seeded())

	assert.Equal(t, whole.N(), m.N())
	assert.InDelta(t, whole.Mean(), m.Mean(), 1e-9)
	assert.InDelta(t, whole.Std(), m.Std(), 1e-9)
	assert.Equal(t, 0.0, m.Min())
	assert.Equal(t, 999.0, m.Max())
	assert.Equal(t, whole.HourlyMeans(), m.HourlyMeans())
	assert.Equal(t, 1000, m.ReservoirLen())
	assert.Equal(t, whole.Percentile(50), m.Percentile(50))

	// a and b are untouched
	assert.Equal(t, int64(300), a.N())
	assert.Equal(t, int64(700), b.N())
}

func TestMerge_ReservoirStaysBounded(t *testing.T) {
	a := NewOnlineStatistics(seeded())
	b := NewOnlineStatistics(seeded())
	for i := 0; i < ReservoirSize; i++ {
		a.Update(1, base)
		b.Update(2, base)
	}
	b.Update(2, base)

	m := Merge(a, b, seeded())
	assert.Equal(t, ReservoirSize, m.ReservoirLen())
	assert.Equal(t, 1.0, m.Percentile(0))
	assert.Equal(t, 2.0, m.Percentile(99))
}

func TestMerge_EmptySide(t *testing.T) {
	a := NewOnlineStatistics(seeded())
	b := NewOnlineStatistics(seeded())
	b.Update(5, base)
	b.Update(7, base.Add(time.Minute))

	m := Merge(a, b, nil)
	assert.Equal(t, b.Mean(), m.Mean())
	assert.Equal(t, b.RateMean(), m.RateMean())

	m.Update(100, base.Add(2*time.Minute))
	assert.Equal(t, int64(2), b.N())
}
