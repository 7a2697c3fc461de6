package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnomalyFilter_IsAnomaly(t *testing.T) {
	f := NewAnomalyFilter()

	young := NewOnlineStatistics(seeded())
	for i := 0; i < 99; i++ {
		young.Update(float64(i%10), base)
	}
	assert.False(t, f.IsAnomaly(1e6, young), "fewer than 100 samples never flags")

	flat := NewOnlineStatistics(seeded())
	for i := 0; i < 200; i++ {
		flat.Update(5, base)
	}
	assert.False(t, f.IsAnomaly(1e6, flat), "zero deviation never flags")

	s := NewOnlineStatistics(seeded())
	for i := 0; i < 200; i++ {
		s.Update(float64(i%2), base.Add(time.Duration(i)*time.Second)) // mean 0.5, std 0.5
	}
	assert.False(t, f.IsAnomaly(1.9, s))
	assert.True(t, f.IsAnomaly(2.1, s))
	assert.True(t, f.IsAnomaly(-1.1, s))
	assert.False(t, f.IsAnomaly(1, nil))
}

func TestAnomalyFilter_IsFireEvent(t *testing.T) {
	f := NewAnomalyFilter()
	assert.False(t, f.IsFireEvent(0.5))
	assert.True(t, f.IsFireEvent(0.5001))
	assert.False(t, f.IsFireEvent(0.1))
}
