// Package fusion implements Dempster–Shafer evidence combination on the
// two-element frame {fire, normal}.
package fusion

import (
	"fmt"
	"math"
)

// sumTolerance is how far a decoded triple may drift from 1 and still be
// accepted verbatim.
const sumTolerance = 1e-9

// MassFunction is a basic belief assignment over {fire, normal} with the
// remaining mass on the whole frame (uncertain). Fire+Normal+Uncertain = 1.
type MassFunction struct {
	Fire      float64 `json:"fire"`
	Normal    float64 `json:"normal"`
	Uncertain float64 `json:"uncertain"`
}

// Ignorance is the vacuous mass function (0, 0, 1)
func Ignorance() MassFunction {
	return MassFunction{Uncertain: 1}
}

// NewMassFunction normalises (fire, normal, uncertain) to sum to one.
// Negative or non-finite parts count as zero; a non-positive sum yields
// total ignorance.
func NewMassFunction(fire, normal, uncertain float64) MassFunction {
	fire, normal, uncertain = clampPart(fire), clampPart(normal), clampPart(uncertain)
	sum := fire + normal + uncertain
	if sum <= 0 {
		return Ignorance()
	}
	return MassFunction{
		Fire:      fire / sum,
		Normal:    normal / sum,
		Uncertain: uncertain / sum,
	}
}

func clampPart(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Pignistic returns BetP(fire) = Fire + Uncertain/2
func (m MassFunction) Pignistic() float64 {
	return m.Fire + m.Uncertain/2
}

// IsIgnorance reports whether m carries no specific evidence
func (m MassFunction) IsIgnorance() bool {
	return m.Fire == 0 && m.Normal == 0
}

// Discount weakens m by reliability alpha in [0,1], moving 1-alpha to the
// uncertain mass.
func (m MassFunction) Discount(alpha float64) MassFunction {
	if alpha >= 1 {
		return m
	}
	if alpha <= 0 || math.IsNaN(alpha) {
		return Ignorance()
	}
	return NewMassFunction(alpha*m.Fire, alpha*m.Normal, alpha*m.Uncertain+(1-alpha))
}

// Blend returns (1-w)*m + w*other, component-wise
func (m MassFunction) Blend(other MassFunction, w float64) MassFunction {
	return NewMassFunction(
		(1-w)*m.Fire+w*other.Fire,
		(1-w)*m.Normal+w*other.Normal,
		(1-w)*m.Uncertain+w*other.Uncertain,
	)
}

// ToMap converts m to a plain record for persistence and diagnostics
func (m MassFunction) ToMap() map[string]float64 {
	return map[string]float64{
		"fire":      m.Fire,
		"normal":    m.Normal,
		"uncertain": m.Uncertain,
	}
}

// FromMap rebuilds a mass function from ToMap output. A record that is
// already normalised is taken verbatim so the round trip is bit-exact.
func FromMap(d map[string]float64) (MassFunction, error) {
	f, okF := d["fire"]
	n, okN := d["normal"]
	u, okU := d["uncertain"]
	if !okF || !okN || !okU {
		return Ignorance(), fmt.Errorf("mass record missing keys: %v", d)
	}
	if f >= 0 && n >= 0 && u >= 0 && math.Abs(f+n+u-1) <= sumTolerance {
		return MassFunction{Fire: f, Normal: n, Uncertain: u}, nil
	}
	return NewMassFunction(f, n, u), nil
}

func (m MassFunction) String() string {
	return fmt.Sprintf("m(F=%.4f, N=%.4f, U=%.4f)", m.Fire, m.Normal, m.Uncertain)
}
