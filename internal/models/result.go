package models

import "time"

// Belief is the fused (fire, normal, uncertain) mass triple
type Belief struct {
	Fire      float64 `json:"fire"`
	Normal    float64 `json:"normal"`
	Uncertain float64 `json:"uncertain"`
}

// FireDetectionResult is the outcome of one detection pass for one reading.
// Values are never modified after the detector returns it.
type FireDetectionResult struct {
	SensorID          string              `json:"sensor_id"`
	Timestamp         time.Time           `json:"timestamp"`
	FireProbability   float64             `json:"fire_probability"`
	AlertLevel        AlertLevel          `json:"alert_level"`
	Belief            Belief              `json:"belief"`
	Contributions     map[Channel]float64 `json:"contributions"`
	TriggeredRules    []string            `json:"triggered_rules"`
	Message           string              `json:"message"`
	RecommendedAction string              `json:"recommended_action"`
}

// IsAlarm reports whether the result is at WARNING or above
func (r *FireDetectionResult) IsAlarm() bool {
	return r.AlertLevel >= AlertWarning
}
