package engine

import (
	"math"
	"sync"
	"time"
)

// spikeMonitor counts alarms in fixed windows. After an accepted
// adaptation it is armed with the alarm count of the window before it;
// the first window that exceeds that baseline by the configured factor
// fires once and disarms the monitor.
type spikeMonitor struct {
	mu        sync.Mutex
	window    time.Duration
	factor    float64
	minAlarms int

	windowStart time.Time
	current     int
	previous    int
	baseline    int
	armed       bool
}

func newSpikeMonitor(window time.Duration, factor float64, minAlarms int) *spikeMonitor {
	return &spikeMonitor{window: window, factor: factor, minAlarms: minAlarms}
}

func (s *spikeMonitor) roll(now time.Time) {
	if s.windowStart.IsZero() {
		s.windowStart = now
		return
	}
	elapsed := now.Sub(s.windowStart)
	if elapsed < s.window {
		return
	}
	windows := int64(elapsed / s.window)
	if windows == 1 {
		s.previous = s.current
	} else {
		s.previous = 0
	}
	s.current = 0
	s.windowStart = s.windowStart.Add(time.Duration(windows) * s.window)
}

// arm takes the last complete window as the baseline
func (s *spikeMonitor) arm(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(now)
	s.baseline = s.previous
	s.armed = true
}

func (s *spikeMonitor) disarm() {
	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()
}

// record counts one alarm and reports whether it completes a spike
func (s *spikeMonitor) record(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(now)
	s.current++

	if !s.armed || s.current < s.minAlarms {
		return false
	}
	if float64(s.current) <= s.factor*math.Max(1, float64(s.baseline)) {
		return false
	}
	s.armed = false
	return true
}

// counts returns the current and previous window counts
func (s *spikeMonitor) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.previous
}
