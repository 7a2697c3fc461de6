package models

import (
	"math"
	"sort"
	"strings"
)

// ThresholdLevel is one of the four alarm steps configured per channel
type ThresholdLevel string

const (
	LevelWatch   ThresholdLevel = "watch"
	LevelCaution ThresholdLevel = "caution"
	LevelWarning ThresholdLevel = "warning"
	LevelDanger  ThresholdLevel = "danger"
)

// ThresholdLevels lists the levels from least to most severe
var ThresholdLevels = []ThresholdLevel{LevelWatch, LevelCaution, LevelWarning, LevelDanger}

// ThresholdChannels are the channels that carry a four-level threshold set
var ThresholdChannels = []Channel{
	ChannelTemperature,
	ChannelTempRate,
	ChannelCO,
	ChannelCO2,
	ChannelO2,
	ChannelSmoke,
	ChannelCH4,
	ChannelH2S,
	ChannelHumidity,
}

// IsInverse reports whether lower values of ch indicate greater fire risk
func IsInverse(ch Channel) bool {
	return ch == ChannelO2 || ch == ChannelHumidity
}

// ThresholdKey builds the interop key, e.g. "co_caution"
func ThresholdKey(ch Channel, level ThresholdLevel) string {
	return string(ch) + "_" + string(level)
}

// ParseThresholdKey splits a key like "temp_rate_warning" into its channel
// and level. The level is always the segment after the last underscore.
func ParseThresholdKey(key string) (Channel, ThresholdLevel, bool) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	level := ThresholdLevel(key[i+1:])
	switch level {
	case LevelWatch, LevelCaution, LevelWarning, LevelDanger:
		return Channel(key[:i]), level, true
	}
	return "", "", false
}

// ThresholdSet is a flat map from threshold key to value
type ThresholdSet map[string]float64

var standardThresholds = ThresholdSet{
	"temperature_watch":   35,
	"temperature_caution": 45,
	"temperature_warning": 55,
	"temperature_danger":  65,
	"temp_rate_watch":     2,
	"temp_rate_caution":   5,
	"temp_rate_warning":   8,
	"temp_rate_danger":    12,
	"co_watch":            30,
	"co_caution":          50,
	"co_warning":          100,
	"co_danger":           200,
	"co2_watch":           1500,
	"co2_caution":         2500,
	"co2_warning":         5000,
	"co2_danger":          10000,
	"o2_watch":            19.5,
	"o2_caution":          18.5,
	"o2_warning":          17.5,
	"o2_danger":           16.0,
	"smoke_watch":         10,
	"smoke_caution":       25,
	"smoke_warning":       50,
	"smoke_danger":        75,
	"ch4_watch":           10,
	"ch4_caution":         20,
	"ch4_warning":         35,
	"ch4_danger":          50,
	"h2s_watch":           10,
	"h2s_caution":         20,
	"h2s_warning":         50,
	"h2s_danger":          100,
	"humidity_watch":      35,
	"humidity_caution":    25,
	"humidity_warning":    20,
	"humidity_danger":     15,
}

// StandardThresholds returns a fresh copy of the factory thresholds
func StandardThresholds() ThresholdSet {
	return standardThresholds.Clone()
}

// Clone returns an independent copy of ts
func (ts ThresholdSet) Clone() ThresholdSet {
	out := make(ThresholdSet, len(ts))
	for k, v := range ts {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets hold exactly the same keys and values
func (ts ThresholdSet) Equal(other ThresholdSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for k, v := range ts {
		ov, ok := other[k]
		if !ok || math.Float64bits(ov) != math.Float64bits(v) {
			return false
		}
	}
	return true
}

// Get returns the threshold for a channel and level
func (ts ThresholdSet) Get(ch Channel, level ThresholdLevel) (float64, bool) {
	v, ok := ts[ThresholdKey(ch, level)]
	return v, ok
}

// Levels returns watch, caution, warning and danger for ch. Missing keys
// fall back to the factory value so a partial set still yields a full ladder.
func (ts ThresholdSet) Levels(ch Channel) ([4]float64, bool) {
	var out [4]float64
	for i, level := range ThresholdLevels {
		key := ThresholdKey(ch, level)
		if v, ok := ts[key]; ok {
			out[i] = v
			continue
		}
		v, ok := standardThresholds[key]
		if !ok {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

// Keys returns the keys of ts in sorted order
func (ts ThresholdSet) Keys() []string {
	keys := make([]string, 0, len(ts))
	for k := range ts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
