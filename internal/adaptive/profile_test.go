package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

func TestParseEnvironmentType(t *testing.T) {
	got, err := ParseEnvironmentType("KITCHEN")
	require.NoError(t, err)
	assert.Equal(t, EnvKitchen, got)

	got, err = ParseEnvironmentType("")
	require.NoError(t, err)
	assert.Equal(t, EnvAuto, got)

	_, err = ParseEnvironmentType("spaceship")
	assert.Error(t, err)
}

func TestProfileDetector_ConfidenceBeforeEnoughSamples(t *testing.T) {
	p := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 50; i++ {
		p.Update(officeReading("a", i)) // 6 channels each
	}
	assert.Equal(t, EnvAuto, p.DetectedType())
	assert.InDelta(t, 0.5*300/1000.0, p.Confidence(), 1e-9)
}

func TestProfileDetector_Office(t *testing.T) {
	p := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 400; i++ {
		p.Update(officeReading("a", i))
	}

	// office (+0.3) beats warehouse (+0.2)
	assert.Equal(t, EnvOffice, p.DetectedType())
	assert.InDelta(t, 0.8, p.Confidence(), 1e-9)
}

func TestProfileDetector_Kitchen(t *testing.T) {
	p := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 1200; i++ {
		smoke := 0.5
		if i%100 == 0 {
			smoke = 12
		}
		r := &models.Reading{SensorID: "k", Timestamp: day0.Add(time.Duration(i) * time.Minute)}
		r.Set(models.ChannelSmoke, smoke)
		p.Update(r)
	}
	assert.Equal(t, EnvKitchen, p.DetectedType())
	assert.InDelta(t, 0.8, p.Confidence(), 1e-9)
}

func TestProfileDetector_NoHeuristicMatches(t *testing.T) {
	p := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 1000; i++ {
		r := &models.Reading{SensorID: "x", Timestamp: day0.Add(time.Duration(i) * time.Minute)}
		r.Set(models.ChannelCO, 2)
		p.Update(r)
	}
	assert.Equal(t, EnvAuto, p.DetectedType())
	assert.InDelta(t, 0.5, p.Confidence(), 1e-9)
}

func TestProfileDetector_Forced(t *testing.T) {
	p := NewProfileDetector(EnvFactory, seededRand())
	for i := 0; i < 200; i++ {
		p.Update(officeReading("a", i))
	}
	assert.Equal(t, EnvFactory, p.DetectedType())
	assert.Equal(t, 1.0, p.Confidence())
}

func TestProfileDetector_Profile(t *testing.T) {
	p := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 200; i++ {
		p.Update(officeReading("a", i))
	}
	r := &models.Reading{SensorID: "a", Timestamp: day0}
	r.Set(models.ChannelCH4, 1)
	p.Update(r)

	profile := p.Profile()

	assert.NotEmpty(t, profile.ProfileID)
	assert.NotEqual(t, profile.ProfileID, p.Profile().ProfileID)
	assert.Equal(t, int64(1201), profile.SamplesCount)

	base, ok := profile.Baseline[models.ChannelTemperature]
	require.True(t, ok)
	assert.InDelta(t, base.NormalMean+2.5*base.NormalStd, base.AlertThreshold, 1e-9)
	assert.InDelta(t, base.NormalMean+3.5*base.NormalStd, base.DangerThreshold, 1e-9)
	assert.NotContains(t, profile.Baseline, models.ChannelCH4, "fewer than 100 samples")

	rng := profile.NormalRanges[models.ChannelTemperature]
	assert.Less(t, rng.Low, rng.High)

	// smoke is always zero, so every hour coefficient is 1
	for _, c := range profile.HourlyCoefficients[models.ChannelSmoke] {
		assert.Equal(t, 1.0, c)
	}
}

func TestProfileDetector_RestoredStatistics(t *testing.T) {
	live := NewProfileDetector(EnvAuto, seededRand())
	for i := 0; i < 1200; i++ {
		r := &models.Reading{SensorID: "k", Timestamp: day0.Add(time.Duration(i) * time.Minute)}
		r.Set(models.ChannelSmoke, 6+float64(i%4))
		live.Update(r)
	}
	require.NotEqual(t, EnvKitchen, live.DetectedType())

	p := NewProfileDetector(EnvAuto, seededRand())
	for ch, snap := range live.Snapshots() {
		s, err := stats.FromSnapshot(snap, seededRand())
		require.NoError(t, err)
		p.restore(ch, s)
	}

	// smoke max > 5 but the percentile is unknown until samples arrive
	assert.NotEqual(t, EnvKitchen, p.DetectedType())

	profile := p.Profile()
	assert.Contains(t, profile.Baseline, models.ChannelSmoke)
	assert.NotContains(t, profile.NormalRanges, models.ChannelSmoke)
}
