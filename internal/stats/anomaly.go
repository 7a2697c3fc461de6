package stats

import "math"

const (
	// DefaultZThreshold is the Z-score beyond which a sample is an outlier
	DefaultZThreshold = 3.0
	// DefaultFireEventThreshold is the fire probability above which a
	// reading is treated as a fire rather than background.
	DefaultFireEventThreshold = 0.5
	// MinAnomalySamples is how many samples are needed before outliers are judged
	MinAnomalySamples = 100
)

// AnomalyFilter keeps outliers and fire events out of the training stream
type AnomalyFilter struct {
	ZThreshold         float64
	FireEventThreshold float64
}

// NewAnomalyFilter returns a filter with the default thresholds
func NewAnomalyFilter() AnomalyFilter {
	return AnomalyFilter{
		ZThreshold:         DefaultZThreshold,
		FireEventThreshold: DefaultFireEventThreshold,
	}
}

// IsAnomaly reports whether value is more than ZThreshold deviations from
// the mean of s. Young or flat statistics never flag anything.
func (f AnomalyFilter) IsAnomaly(value float64, s *OnlineStatistics) bool {
	if s == nil || s.N() < MinAnomalySamples {
		return false
	}
	std := s.Std()
	if std <= 0 {
		return false
	}
	return math.Abs(value-s.Mean())/std > f.ZThreshold
}

// IsFireEvent reports whether p is high enough that the reading must not
// train the statistics.
func (f AnomalyFilter) IsFireEvent(p float64) bool {
	return p > f.FireEventThreshold
}
