package fusion

import "math"

const (
	// DefaultTemporalTau is the weight of the previous fused result
	DefaultTemporalTau = 0.3
	// HighConflict is the conflict above which the Murphy average is blended in
	HighConflict = 0.5
	// FailureZScore is the deviation beyond which a reading is treated as a
	// failed sensor rather than evidence.
	FailureZScore = 5.0
)

// ImprovedCombiner extends Dempster's rule with Murphy averaging for
// conflicting evidence and exponential smoothing across calls.
type ImprovedCombiner struct {
	Combiner

	tau      float64
	mode     DiscountMode
	previous *MassFunction
}

// NewImprovedCombiner creates a combiner with temporal weight tau in [0,1)
// and the given weight discounting mode.
func NewImprovedCombiner(tau float64, mode DiscountMode) *ImprovedCombiner {
	if tau < 0 || tau >= 1 || math.IsNaN(tau) {
		tau = DefaultTemporalTau
	}
	return &ImprovedCombiner{tau: tau, mode: mode}
}

// Tau returns the temporal smoothing weight
func (c *ImprovedCombiner) Tau() float64 {
	return c.tau
}

// CombineMurphy averages the inputs and combines the average with itself
// n-1 times.
func (c *ImprovedCombiner) CombineMurphy(masses []MassFunction) MassFunction {
	result, k := murphy(masses)
	c.lastConflict = k
	return result
}

func murphy(masses []MassFunction) (MassFunction, float64) {
	n := len(masses)
	if n == 0 {
		return Ignorance(), 0
	}
	var f, nm, u float64
	for _, m := range masses {
		f += m.Fire
		nm += m.Normal
		u += m.Uncertain
	}
	avg := NewMassFunction(f/float64(n), nm/float64(n), u/float64(n))

	result := avg
	agreement := 1.0
	for i := 1; i < n; i++ {
		var k float64
		result, k = combine(result, avg)
		agreement *= 1 - math.Min(k, 1)
	}
	return result, 1 - agreement
}

// CombineAdaptive folds Dempster's rule and, when the total conflict exceeds
// HighConflict, blends linearly towards the Murphy result with
// β = min(1, 2K-1).
func (c *ImprovedCombiner) CombineAdaptive(masses []MassFunction) MassFunction {
	result, k := adaptive(masses)
	c.lastConflict = k
	return result
}

func adaptive(masses []MassFunction) (MassFunction, float64) {
	dempster, k := foldDempster(masses)
	if k <= HighConflict {
		return dempster, k
	}
	averaged, _ := murphy(masses)
	beta := math.Min(1, 2*k-1)
	return dempster.Blend(averaged, beta), k
}

// CombineWithTemporal discounts the masses by their weights, fuses them
// adaptively and smooths the result with the previous call's output:
// r = (1-τ)·now + τ·previous. The first call passes through.
func (c *ImprovedCombiner) CombineWithTemporal(masses []MassFunction, weights []float64) MassFunction {
	now, k := adaptive(discountAll(masses, weights, c.mode))
	c.lastConflict = k

	if c.previous != nil {
		now = now.Blend(*c.previous, c.tau)
	}
	smoothed := now
	c.previous = &smoothed
	return now
}

// Reset forgets the temporal memory
func (c *ImprovedCombiner) Reset() {
	c.previous = nil
	c.lastConflict = 0
}

// IsSensorFailure reports whether value lies more than FailureZScore
// standard deviations from mean. A zero deviation never flags a failure.
func IsSensorFailure(value, mean, std float64) bool {
	if std <= 0 || math.IsNaN(std) {
		return false
	}
	return math.Abs(value-mean)/std > FailureZScore
}
