package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineMurphy_SingleInput(t *testing.T) {
	c := NewImprovedCombiner(DefaultTemporalTau, DiscountShare)
	m := NewMassFunction(0.3, 0.5, 0.2)
	assertMass(t, m, c.CombineMurphy([]MassFunction{m}))
	assert.Equal(t, Ignorance(), c.CombineMurphy(nil))
}

func TestCombineMurphy_TwoInputs(t *testing.T) {
	c := NewImprovedCombiner(DefaultTemporalTau, DiscountShare)
	a := NewMassFunction(0.9, 0.0, 0.1)
	b := NewMassFunction(0.0, 0.9, 0.1)
	avg := NewMassFunction(0.45, 0.45, 0.1)

	assertMass(t, c.Combine(avg, avg), c.CombineMurphy([]MassFunction{a, b}))
}

func TestCombineAdaptive_LowConflictMatchesDempster(t *testing.T) {
	c := NewImprovedCombiner(DefaultTemporalTau, DiscountShare)
	masses := []MassFunction{NewMassFunction(0.4, 0.1, 0.5), NewMassFunction(0.3, 0.1, 0.6)}

	want := NewCombiner().CombineMultiple(masses)
	got := c.CombineAdaptive(masses)
	assertMass(t, want, got)
	assert.LessOrEqual(t, c.Conflict(), HighConflict)
}

func TestCombineAdaptive_HighConflictBlendsMurphy(t *testing.T) {
	c := NewImprovedCombiner(DefaultTemporalTau, DiscountShare)
	a := NewMassFunction(0.9, 0.05, 0.05)
	b := NewMassFunction(0.05, 0.9, 0.05)

	dempster, k := foldDempster([]MassFunction{a, b})
	averaged, _ := murphy([]MassFunction{a, b})
	beta := math.Min(1, 2*k-1)

	got := c.CombineAdaptive([]MassFunction{a, b})
	assert.Greater(t, k, HighConflict)
	assertMass(t, dempster.Blend(averaged, beta), got)
	assert.InDelta(t, k, c.Conflict(), 1e-12)
}

func TestCombineWithTemporal_Smoothing(t *testing.T) {
	c := NewImprovedCombiner(0.3, DiscountReliability)
	fire := []MassFunction{NewMassFunction(0.95, 0, 0.05)}
	normal := []MassFunction{NewMassFunction(0, 0.9, 0.1)}
	w := []float64{1}

	first := c.CombineWithTemporal(normal, w)
	assertMass(t, NewMassFunction(0, 0.9, 0.1), first)

	second := c.CombineWithTemporal(fire, w)
	assertMass(t, NewMassFunction(0.95, 0, 0.05).Blend(first, 0.3), second)

	c.Reset()
	assertMass(t, NewMassFunction(0.95, 0, 0.05), c.CombineWithTemporal(fire, w))
}

func TestCombineWithTemporal_Converges(t *testing.T) {
	c := NewImprovedCombiner(0.3, DiscountReliability)
	masses := []MassFunction{NewMassFunction(0.1, 0.6, 0.3), NewMassFunction(0, 0.9, 0.1)}
	weights := []float64{0.25, 0.2}

	var prev float64
	for i := 0; i < 20; i++ {
		p := c.CombineWithTemporal(masses, weights).Pignistic()
		if i > 0 {
			assert.Less(t, math.Abs(p-prev), 1e-3+1e-12)
		}
		prev = p
	}
}

func TestDiscountModes(t *testing.T) {
	masses := []MassFunction{NewMassFunction(0, 0.9, 0.1), NewMassFunction(0, 0.9, 0.1)}
	weights := []float64{0.5, 0.25}

	share := discountAll(masses, weights, DiscountShare)
	assert.InDelta(t, 0.9*2.0/3.0, share[0].Normal, 1e-12)
	assert.InDelta(t, 0.9*1.0/3.0, share[1].Normal, 1e-12)

	reliability := discountAll(masses, weights, DiscountReliability)
	assert.InDelta(t, 0.9, reliability[0].Normal, 1e-12)
	assert.InDelta(t, 0.45, reliability[1].Normal, 1e-12)
}

func TestIsSensorFailure(t *testing.T) {
	assert.True(t, IsSensorFailure(100, 20, 10))
	assert.False(t, IsSensorFailure(69, 20, 10))
	assert.False(t, IsSensorFailure(1e6, 20, 0))
}
