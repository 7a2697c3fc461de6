package detector

import "time"

const (
	// DefaultHistorySize holds about one minute of 1 Hz samples
	DefaultHistorySize = 60
	// minRateSpan is the shortest span over which a rate is trusted
	minRateSpan = 10 * time.Second
)

// Sample is one timestamped channel value
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// SensorHistory is a bounded FIFO of samples for one channel of one sensor
type SensorHistory struct {
	samples  []Sample
	capacity int
}

// NewSensorHistory creates a history holding at most capacity samples
func NewSensorHistory(capacity int) *SensorHistory {
	if capacity < 2 {
		capacity = DefaultHistorySize
	}
	return &SensorHistory{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a sample, dropping the oldest when full
func (h *SensorHistory) Add(ts time.Time, value float64) {
	if len(h.samples) >= h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, Sample{Timestamp: ts, Value: value})
}

// Len returns the number of stored samples
func (h *SensorHistory) Len() int {
	return len(h.samples)
}

// Last returns the newest sample
func (h *SensorHistory) Last() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Samples returns a copy of the stored samples, oldest first
func (h *SensorHistory) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// RatePerMinute returns (last - first)/Δt·60 over the samples within window
// of the newest one. It is undefined with fewer than two samples in the
// window or when they span less than ten seconds.
func (h *SensorHistory) RatePerMinute(window time.Duration) (float64, bool) {
	last, ok := h.Last()
	if !ok {
		return 0, false
	}
	cutoff := last.Timestamp.Add(-window)

	first := -1
	for i, s := range h.samples {
		if !s.Timestamp.Before(cutoff) {
			first = i
			break
		}
	}
	if first < 0 || len(h.samples)-first < 2 {
		return 0, false
	}

	span := last.Timestamp.Sub(h.samples[first].Timestamp)
	if span < minRateSpan {
		return 0, false
	}
	return (last.Value - h.samples[first].Value) / span.Seconds() * 60, true
}
