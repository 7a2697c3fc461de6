package detector

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// MultiSensorFireDetector keeps one FireDetector per sensor id
type MultiSensorFireDetector struct {
	mu         sync.Mutex
	cfg        Config
	thresholds models.ThresholdSet
	failures   FailureChecker
	detectors  map[string]*FireDetector
	logger     zerolog.Logger
}

// NewMultiSensorFireDetector creates an empty multi-sensor detector
func NewMultiSensorFireDetector(cfg Config, ts models.ThresholdSet, logger zerolog.Logger) *MultiSensorFireDetector {
	if ts == nil {
		ts = models.StandardThresholds()
	}
	return &MultiSensorFireDetector{
		cfg:        cfg,
		thresholds: ts.Clone(),
		detectors:  make(map[string]*FireDetector),
		logger:     logger,
	}
}

// SetFailureChecker installs fc on every current and future detector
func (m *MultiSensorFireDetector) SetFailureChecker(fc FailureChecker) {
	m.mu.Lock()
	m.failures = fc
	detectors := m.snapshot()
	m.mu.Unlock()

	for _, d := range detectors {
		d.SetFailureChecker(fc)
	}
}

func (m *MultiSensorFireDetector) snapshot() []*FireDetector {
	out := make([]*FireDetector, 0, len(m.detectors))
	for _, d := range m.detectors {
		out = append(out, d)
	}
	return out
}

func (m *MultiSensorFireDetector) detector(sensorID string) *FireDetector {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.detectors[sensorID]
	if !ok {
		d = NewFireDetector(m.cfg, m.thresholds, m.logger.With().Str("sensor_id", sensorID).Logger())
		if m.failures != nil {
			d.failures = m.failures
		}
		m.detectors[sensorID] = d
	}
	return d
}

// Detect routes one reading to its sensor's detector
func (m *MultiSensorFireDetector) Detect(r *models.Reading) models.FireDetectionResult {
	return m.detector(r.SensorID).Detect(r)
}

// DetectAll runs every reading and returns the results with the most
// severe level among them (NORMAL for an empty batch).
func (m *MultiSensorFireDetector) DetectAll(readings []*models.Reading) ([]models.FireDetectionResult, models.AlertLevel) {
	results := make([]models.FireDetectionResult, 0, len(readings))
	maxLevel := models.AlertNormal
	for _, r := range readings {
		res := m.Detect(r)
		if res.AlertLevel > maxLevel {
			maxLevel = res.AlertLevel
		}
		results = append(results, res)
	}
	return results, maxLevel
}

// UpdateThresholds forwards ts to every detector and to detectors created later
func (m *MultiSensorFireDetector) UpdateThresholds(ts models.ThresholdSet) {
	m.mu.Lock()
	m.thresholds = ts.Clone()
	detectors := m.snapshot()
	m.mu.Unlock()

	for _, d := range detectors {
		d.UpdateThresholds(ts)
	}
}

// Thresholds returns the set new detectors start from
func (m *MultiSensorFireDetector) Thresholds() models.ThresholdSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds.Clone()
}

// Reset clears one sensor's detector state, or all of them for ""
func (m *MultiSensorFireDetector) Reset(sensorID string) {
	m.mu.Lock()
	if sensorID == "" {
		m.detectors = make(map[string]*FireDetector)
		m.mu.Unlock()
		return
	}
	delete(m.detectors, sensorID)
	m.mu.Unlock()
}

// SensorIDs returns the sensors seen so far, sorted
func (m *MultiSensorFireDetector) SensorIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.detectors))
	for id := range m.detectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
