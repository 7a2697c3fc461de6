// Package fuzzy maps raw sensor values to belief masses using piecewise
// linear membership bands anchored on the current alarm thresholds.
package fuzzy

import (
	"sync"

	"github.com/afroash/fire-monitor/internal/fusion"
	"github.com/afroash/fire-monitor/internal/models"
)

// bandPoint is the (fire, normal) mass at a band edge. Uncertain takes the rest.
type bandPoint struct {
	fire   float64
	normal float64
}

// Edge masses at safe, watch, caution, warning and danger. Every channel
// shares the same shape; only the x positions differ.
var bandPoints = [5]bandPoint{
	{fire: 0.00, normal: 0.90},
	{fire: 0.12, normal: 0.60},
	{fire: 0.35, normal: 0.45},
	{fire: 0.65, normal: 0.25},
	{fire: 0.90, normal: 0.05},
}

// beyondDanger is the mass for values past the danger threshold
var beyondDanger = fusion.MassFunction{Fire: 0.95, Normal: 0, Uncertain: 0.05}

// safeBounds is the value at or below which a channel is considered fully
// normal. For inverse channels it is the ceiling at or above which they are.
var safeBounds = map[models.Channel]float64{
	models.ChannelTemperature: 30,
	models.ChannelTempRate:    0.5,
	models.ChannelCO:          9,
	models.ChannelCO2:         1000,
	models.ChannelSmoke:       2,
	models.ChannelCH4:         2,
	models.ChannelH2S:         1,
	models.ChannelO2:          20.5,
	models.ChannelHumidity:    40,
}

// SafeBound returns the fully-normal bound of ch
func SafeBound(ch models.Channel) (float64, bool) {
	v, ok := safeBounds[ch]
	return v, ok
}

// Evaluate maps x on channel ch to a mass function given the channel's
// watch, caution, warning and danger thresholds.
func Evaluate(ch models.Channel, x float64, levels [4]float64) fusion.MassFunction {
	safe, ok := safeBounds[ch]
	if !ok {
		return fusion.Ignorance()
	}

	// Inverse channels are mirrored onto the monotonic shape.
	edges := [5]float64{safe, levels[0], levels[1], levels[2], levels[3]}
	if models.IsInverse(ch) {
		if edges[0] < edges[1] {
			edges[0] = edges[1]
		}
		for i := range edges {
			edges[i] = -edges[i]
		}
		x = -x
	} else if edges[0] > edges[1] {
		edges[0] = edges[1]
	}

	if x <= edges[0] {
		return massAt(bandPoints[0])
	}
	if x > edges[4] {
		return beyondDanger
	}
	for i := 1; i < len(edges); i++ {
		if x > edges[i] {
			continue
		}
		span := edges[i] - edges[i-1]
		t := 1.0
		if span > 0 {
			t = (x - edges[i-1]) / span
		}
		lo, hi := bandPoints[i-1], bandPoints[i]
		return massAt(bandPoint{
			fire:   lo.fire + t*(hi.fire-lo.fire),
			normal: lo.normal + t*(hi.normal-lo.normal),
		})
	}
	return beyondDanger
}

func massAt(p bandPoint) fusion.MassFunction {
	return fusion.NewMassFunction(p.fire, p.normal, 1-p.fire-p.normal)
}

// Membership evaluates channels against a threshold set that can be swapped
// atomically while detection is running.
type Membership struct {
	mu         sync.RWMutex
	thresholds models.ThresholdSet
}

// NewMembership creates a membership evaluator over a copy of ts
func NewMembership(ts models.ThresholdSet) *Membership {
	if ts == nil {
		ts = models.StandardThresholds()
	}
	return &Membership{thresholds: ts.Clone()}
}

// UpdateThresholds replaces the threshold view
func (m *Membership) UpdateThresholds(ts models.ThresholdSet) {
	next := ts.Clone()
	m.mu.Lock()
	m.thresholds = next
	m.mu.Unlock()
}

// Thresholds returns a copy of the current threshold view
func (m *Membership) Thresholds() models.ThresholdSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds.Clone()
}

// Evaluate maps x on ch to a mass function. The boolean is false when ch
// has no threshold ladder and so contributes nothing.
func (m *Membership) Evaluate(ch models.Channel, x float64) (fusion.MassFunction, bool) {
	m.mu.RLock()
	levels, ok := m.thresholds.Levels(ch)
	m.mu.RUnlock()
	if !ok {
		return fusion.Ignorance(), false
	}
	if _, ok := safeBounds[ch]; !ok {
		return fusion.Ignorance(), false
	}
	return Evaluate(ch, x, levels), true
}
