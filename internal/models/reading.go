package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Channel names a measured (or derived) quantity carried by a reading.
// The string form is the interop key used in threshold keys and storage.
type Channel string

const (
	ChannelTemperature Channel = "temperature" // °C
	ChannelTempRate    Channel = "temp_rate"   // °C/min, derived from temperature history
	ChannelHumidity    Channel = "humidity"    // %RH
	ChannelCO          Channel = "co"          // ppm
	ChannelCO2         Channel = "co2"         // ppm
	ChannelO2          Channel = "o2"          // %
	ChannelH2S         Channel = "h2s"         // ppm
	ChannelCH4         Channel = "ch4"         // %LEL
	ChannelSmoke       Channel = "smoke"       // %
	ChannelWater       Channel = "water"       // 0/1
	ChannelExtInput    Channel = "ext_input"   // 0/1
)

// Reading is one frame from a sensor node. Every channel is optional; a nil
// field means the node did not report that channel.
type Reading struct {
	SensorID    string    `json:"sensor_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	CO          *float64  `json:"co,omitempty"`
	CO2         *float64  `json:"co2,omitempty"`
	O2          *float64  `json:"o2,omitempty"`
	H2S         *float64  `json:"h2s,omitempty"`
	CH4         *float64  `json:"ch4,omitempty"`
	Smoke       *float64  `json:"smoke,omitempty"`
	Water       *float64  `json:"water,omitempty"`
	ExtInput    *float64  `json:"ext_input,omitempty"`
}

// ChannelValue pairs a channel with a present value.
type ChannelValue struct {
	Channel Channel
	Value   float64
}

// readingFields is the fixed accessor table for the measured channels, in
// declaration order. temp_rate is derived and never carried on a Reading.
var readingFields = []struct {
	channel Channel
	field   func(r *Reading) **float64
}{
	{ChannelTemperature, func(r *Reading) **float64 { return &r.Temperature }},
	{ChannelHumidity, func(r *Reading) **float64 { return &r.Humidity }},
	{ChannelCO, func(r *Reading) **float64 { return &r.CO }},
	{ChannelCO2, func(r *Reading) **float64 { return &r.CO2 }},
	{ChannelO2, func(r *Reading) **float64 { return &r.O2 }},
	{ChannelH2S, func(r *Reading) **float64 { return &r.H2S }},
	{ChannelCH4, func(r *Reading) **float64 { return &r.CH4 }},
	{ChannelSmoke, func(r *Reading) **float64 { return &r.Smoke }},
	{ChannelWater, func(r *Reading) **float64 { return &r.Water }},
	{ChannelExtInput, func(r *Reading) **float64 { return &r.ExtInput }},
}

// MeasuredChannels returns the channels a Reading can carry, in a stable order.
func MeasuredChannels() []Channel {
	out := make([]Channel, len(readingFields))
	for i, f := range readingFields {
		out[i] = f.channel
	}
	return out
}

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 {
	return &v
}

// NewReading creates an empty Reading for sensorID stamped with the current time
func NewReading(sensorID string) *Reading {
	return &Reading{
		SensorID:  sensorID,
		Timestamp: time.Now(),
	}
}

// Value returns the value of ch and whether it is present
func (r *Reading) Value(ch Channel) (float64, bool) {
	for _, f := range readingFields {
		if f.channel == ch {
			p := *f.field(r)
			if p == nil {
				return 0, false
			}
			return *p, true
		}
	}
	return 0, false
}

// Set stores v on channel ch. Unknown channels are ignored.
func (r *Reading) Set(ch Channel, v float64) *Reading {
	for _, f := range readingFields {
		if f.channel == ch {
			*f.field(r) = Float(v)
			break
		}
	}
	return r
}

// Present returns every channel that carries a value, in declaration order
func (r *Reading) Present() []ChannelValue {
	out := make([]ChannelValue, 0, len(readingFields))
	for _, f := range readingFields {
		if p := *f.field(r); p != nil {
			out = append(out, ChannelValue{Channel: f.channel, Value: *p})
		}
	}
	return out
}

// IsValid checks the identity fields of the reading. Channel values are
// checked individually by consumers so one bad channel doesn't drop a frame.
func (r *Reading) IsValid() bool {
	if r.SensorID == "" {
		return false
	}
	if r.Timestamp.IsZero() {
		return false
	}
	return true
}

// IsFinite reports whether v can be used in arithmetic
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// get the reading as a string
func (r *Reading) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SensorID: %s, Timestamp: %s", r.SensorID, r.Timestamp.Format(time.RFC3339))
	for _, cv := range r.Present() {
		fmt.Fprintf(&b, ", %s: %.2f", cv.Channel, cv.Value)
	}
	return b.String()
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := &Reading{
		SensorID:  r.SensorID,
		Timestamp: r.Timestamp,
	}
	for _, f := range readingFields {
		if p := *f.field(r); p != nil {
			*f.field(c) = Float(*p)
		}
	}
	return c
}
