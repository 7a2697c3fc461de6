package adaptive

import (
	"fmt"
	"math"

	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

// MaxChangeRatio is the largest relative move a single adaptation may make
const MaxChangeRatio = 0.50

// extremeCase is a reading that every level of a channel must still alarm on
type extremeCase struct {
	channel models.Channel
	value   float64
}

var extremeCases = []extremeCase{
	{models.ChannelCO, 500},
	{models.ChannelSmoke, 80},
	{models.ChannelTemperature, 100},
}

// Validator rejects threshold sets that move too far or would miss an
// unmistakable fire.
type Validator struct {
	maxChange float64
}

// NewValidator creates a validator with the default change limit
func NewValidator() Validator {
	return Validator{maxChange: MaxChangeRatio}
}

// Validate checks newTS against oldTS. Keys are visited in sorted order so
// the reported reason is deterministic.
func (v Validator) Validate(oldTS, newTS models.ThresholdSet) (bool, string) {
	keys := newTS.Keys()

	for _, key := range keys {
		if val := newTS[key]; !(val > 0) || math.IsInf(val, 0) {
			return false, fmt.Sprintf("%s must be a positive number, got %v", key, val)
		}
	}

	for _, key := range keys {
		old, ok := oldTS[key]
		if !ok || old == 0 {
			continue
		}
		change := math.Abs(newTS[key]-old) / math.Abs(old)
		if change > v.maxChange {
			return false, fmt.Sprintf("%s changed %.1f%% (limit %.0f%%): %.4g -> %.4g",
				key, change*100, v.maxChange*100, old, newTS[key])
		}
	}

	for _, ec := range extremeCases {
		for _, level := range models.ThresholdLevels {
			key := models.ThresholdKey(ec.channel, level)
			val, ok := newTS[key]
			if ok && val > ec.value {
				return false, fmt.Sprintf("%s=%.4g would not trigger on %s=%.0f", key, val, ec.channel, ec.value)
			}
		}
	}

	return true, "ok"
}

// BackgroundOverlaps lists the watch levels of newTS that sit on the wrong
// side of their channel's learned mean. They do not fail validation.
func (v Validator) BackgroundOverlaps(newTS models.ThresholdSet, byChannel map[models.Channel]*stats.OnlineStatistics) []string {
	var out []string
	for _, ch := range models.ThresholdChannels {
		s := byChannel[ch]
		key := models.ThresholdKey(ch, models.LevelWatch)
		watch, ok := newTS[key]
		if !ok || s == nil || s.N() < MinAdaptSamples {
			continue
		}
		inside := watch <= s.Mean()
		if models.IsInverse(ch) {
			inside = watch >= s.Mean()
		}
		if inside {
			out = append(out, key)
		}
	}
	return out
}
