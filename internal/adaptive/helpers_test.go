package adaptive

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

var day0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

// memStore is an in-memory VersionStore with failure injection
type memStore struct {
	mu       sync.Mutex
	versions map[uint32]ThresholdVersion
	fail     bool
}

func newMemStore() *memStore {
	return &memStore{versions: make(map[uint32]ThresholdVersion)}
}

func (s *memStore) SaveVersion(_ context.Context, v ThresholdVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	v.Thresholds = v.Thresholds.Clone()
	s.versions[v.Version] = v
	return nil
}

func (s *memStore) MarkRolledBack(_ context.Context, versions []uint32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	for _, n := range versions {
		v := s.versions[n]
		t := at
		v.RolledBackAt = &t
		s.versions[n] = v
	}
	return nil
}

func (s *memStore) LoadVersions(_ context.Context, limit int) ([]ThresholdVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errStoreDown
	}
	out := make([]ThresholdVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func seededRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 7))
}

// constantStats returns statistics fed n copies of v
func constantStats(v float64, n int) *stats.OnlineStatistics {
	s := stats.NewOnlineStatistics(seededRand())
	for i := 0; i < n; i++ {
		s.Update(v, day0.Add(time.Duration(i)*time.Minute))
	}
	return s
}

// officeReading is the i-th reading of a calm office sampled every ten minutes
func officeReading(sensorID string, i int) *models.Reading {
	f := float64(i)
	r := &models.Reading{SensorID: sensorID, Timestamp: day0.Add(time.Duration(i) * 10 * time.Minute)}
	r.Set(models.ChannelTemperature, 22+math.Sin(f/5)).
		Set(models.ChannelCO2, 600+50*math.Sin(f/7)).
		Set(models.ChannelCO, 1+0.2*math.Sin(f/3)).
		Set(models.ChannelO2, 20.9+0.05*math.Sin(f/3)).
		Set(models.ChannelHumidity, 45+3*math.Sin(f/11)).
		Set(models.ChannelSmoke, 0)
	return r
}

// officeDays is how many readings cover just under eight days
const officeDays = 1152
