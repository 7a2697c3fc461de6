package fusion

import "math"

// combine applies Dempster's rule to two mass functions and returns the
// result together with the conflict mass K.
func combine(m1, m2 MassFunction) (MassFunction, float64) {
	fire := m1.Fire*m2.Fire + m1.Fire*m2.Uncertain + m1.Uncertain*m2.Fire
	normal := m1.Normal*m2.Normal + m1.Normal*m2.Uncertain + m1.Uncertain*m2.Normal
	uncertain := m1.Uncertain * m2.Uncertain
	conflict := m1.Fire*m2.Normal + m1.Normal*m2.Fire

	if conflict >= 1 {
		return Ignorance(), conflict
	}
	norm := 1 - conflict
	return NewMassFunction(fire/norm, normal/norm, uncertain/norm), conflict
}

// Combiner fuses mass functions with Dempster's rule and remembers the
// conflict of its latest call. It is not safe for concurrent use; the
// owning detector serialises access.
type Combiner struct {
	lastConflict float64
}

// NewCombiner creates a Dempster–Shafer combiner
func NewCombiner() *Combiner {
	return &Combiner{}
}

// Conflict returns the conflict mass of the latest combination. For a fold
// it is the total conflict 1 - Π(1 - Kᵢ) of the chain.
func (c *Combiner) Conflict() float64 {
	return c.lastConflict
}

// Combine returns m1 ⊕ m2
func (c *Combiner) Combine(m1, m2 MassFunction) MassFunction {
	result, k := combine(m1, m2)
	c.lastConflict = k
	return result
}

// CombineMultiple left-folds ⊕ over masses. An empty list yields ignorance.
func (c *Combiner) CombineMultiple(masses []MassFunction) MassFunction {
	result, k := foldDempster(masses)
	c.lastConflict = k
	return result
}

// CombineWeighted discounts each mass by its share wᵢ/Σw of the total weight
// and then folds ⊕. Non-positive weights count as zero.
func (c *Combiner) CombineWeighted(masses []MassFunction, weights []float64) MassFunction {
	result, k := foldDempster(discountAll(masses, weights, DiscountShare))
	c.lastConflict = k
	return result
}

func foldDempster(masses []MassFunction) (MassFunction, float64) {
	if len(masses) == 0 {
		return Ignorance(), 0
	}
	result := masses[0]
	agreement := 1.0
	for _, m := range masses[1:] {
		var k float64
		result, k = combine(result, m)
		agreement *= 1 - math.Min(k, 1)
	}
	return result, 1 - agreement
}

// DiscountMode selects how raw channel weights become reliabilities
type DiscountMode int

const (
	// DiscountShare uses αᵢ = wᵢ/Σw
	DiscountShare DiscountMode = iota
	// DiscountReliability uses αᵢ = wᵢ/max(w), so the most trusted channel
	// is taken at face value and the rest relative to it.
	DiscountReliability
)

func (d DiscountMode) String() string {
	switch d {
	case DiscountShare:
		return "share"
	case DiscountReliability:
		return "reliability"
	}
	return "unknown"
}

func discountAll(masses []MassFunction, weights []float64, mode DiscountMode) []MassFunction {
	n := len(masses)
	if len(weights) < n {
		n = len(weights)
	}

	var total, maxWeight float64
	for i := 0; i < n; i++ {
		w := weights[i]
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		total += w
		maxWeight = math.Max(maxWeight, w)
	}
	if total <= 0 {
		return nil
	}

	denom := total
	if mode == DiscountReliability {
		denom = maxWeight
	}

	out := make([]MassFunction, 0, n)
	for i := 0; i < n; i++ {
		w := weights[i]
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		out = append(out, masses[i].Discount(w/denom))
	}
	return out
}
