package models

import (
	"fmt"
	"strings"
)

// AlertLevel is the ordered severity of a detection result
type AlertLevel int

const (
	AlertNormal AlertLevel = iota + 1
	AlertWatch
	AlertCaution
	AlertWarning
	AlertDanger
)

var alertLevelNames = map[AlertLevel]string{
	AlertNormal:  "NORMAL",
	AlertWatch:   "WATCH",
	AlertCaution: "CAUTION",
	AlertWarning: "WARNING",
	AlertDanger:  "DANGER",
}

// AlertLevels lists every level from least to most severe
var AlertLevels = []AlertLevel{AlertNormal, AlertWatch, AlertCaution, AlertWarning, AlertDanger}

// FireProbabilityThresholds maps each level to the smallest fire
// probability that reaches it.
var FireProbabilityThresholds = map[AlertLevel]float64{
	AlertNormal:  0.0,
	AlertWatch:   0.2,
	AlertCaution: 0.4,
	AlertWarning: 0.6,
	AlertDanger:  0.8,
}

var recommendedActions = map[AlertLevel]string{
	AlertNormal:  "정상 운영 - 조치 불필요",
	AlertWatch:   "주의 관찰 - 센서 추이를 모니터링하십시오",
	AlertCaution: "현장 확인 - 담당자가 해당 구역을 점검하십시오",
	AlertWarning: "경보 - 초기 진화 준비 및 대피 준비",
	AlertDanger:  "즉시 대피 - 119 신고 및 전원 대피",
}

func (l AlertLevel) String() string {
	if name, ok := alertLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AlertLevel(%d)", int(l))
}

// IsValid reports whether l is one of the five defined levels
func (l AlertLevel) IsValid() bool {
	return l >= AlertNormal && l <= AlertDanger
}

// RecommendedAction returns the static operator guidance for l
func (l AlertLevel) RecommendedAction() string {
	return recommendedActions[l]
}

// MarshalText encodes the level by name
func (l AlertLevel) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("invalid alert level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name
func (l *AlertLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseAlertLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseAlertLevel converts a case-insensitive level name to an AlertLevel
func ParseAlertLevel(s string) (AlertLevel, error) {
	for level, name := range alertLevelNames {
		if strings.EqualFold(name, s) {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown alert level %q", s)
}

// LevelForProbability returns the most severe level whose probability
// threshold is at or below p.
func LevelForProbability(p float64) AlertLevel {
	level := AlertNormal
	for _, l := range AlertLevels {
		if FireProbabilityThresholds[l] <= p {
			level = l
		}
	}
	return level
}
