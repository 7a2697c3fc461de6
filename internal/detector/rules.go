package detector

import "github.com/afroash/fire-monitor/internal/models"

// Operator compares a channel value against a rule constant
type Operator string

const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
)

// Condition is a single channel predicate
type Condition struct {
	Channel models.Channel `json:"channel"`
	Op      Operator       `json:"op"`
	Value   float64        `json:"value"`
}

// Holds reports whether v satisfies the condition
func (c Condition) Holds(v float64) bool {
	switch c.Op {
	case OpGreater:
		return v > c.Value
	case OpLess:
		return v < c.Value
	}
	return false
}

// Rule raises the fire probability when every condition holds at once
type Rule struct {
	Name          string            `json:"name"`
	Conditions    []Condition       `json:"conditions"`
	Boost         float64           `json:"boost"`
	LevelOverride models.AlertLevel `json:"level_override,omitempty"`
	Message       string            `json:"message"`
}

// Matches reports whether every condition's channel is present and holds
func (r Rule) Matches(values map[models.Channel]float64) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		v, ok := values[c.Channel]
		if !ok || !c.Holds(v) {
			return false
		}
	}
	return true
}

func gt(ch models.Channel, v float64) Condition { return Condition{Channel: ch, Op: OpGreater, Value: v} }
func lt(ch models.Channel, v float64) Condition { return Condition{Channel: ch, Op: OpLess, Value: v} }

// DefaultRules returns the baseline multi-sensor combination rules
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "smoke_and_temp_rise",
			Conditions: []Condition{gt(models.ChannelSmoke, 10), gt(models.ChannelTempRate, 2)},
			Boost:      0.20,
			Message:    "연기 감지 + 온도 상승",
		},
		{
			Name:       "smoke_and_co",
			Conditions: []Condition{gt(models.ChannelSmoke, 10), gt(models.ChannelCO, 30)},
			Boost:      0.25,
			Message:    "연기 + CO 동시 감지",
		},
		{
			Name:       "co_and_o2_drop",
			Conditions: []Condition{gt(models.ChannelCO, 50), lt(models.ChannelO2, 19.5)},
			Boost:      0.20,
			Message:    "CO 증가 + 산소 감소",
		},
		{
			Name:       "rapid_temp_rise",
			Conditions: []Condition{gt(models.ChannelTempRate, 5), gt(models.ChannelTemperature, 35)},
			Boost:      0.15,
			Message:    "급격한 온도 상승",
		},
		{
			Name:       "multi_gas_alert",
			Conditions: []Condition{gt(models.ChannelCO, 30), gt(models.ChannelCO2, 2000), lt(models.ChannelO2, 19.5)},
			Boost:      0.30,
			Message:    "복합 가스 이상 (CO/CO2/O2)",
		},
		{
			Name: "flashover_warning",
			Conditions: []Condition{
				gt(models.ChannelTemperature, 55),
				gt(models.ChannelSmoke, 50),
				gt(models.ChannelCO, 100),
			},
			Boost:         0.40,
			LevelOverride: models.AlertDanger,
			Message:       "Flashover 임박 - 즉시 대피",
		},
	}
}

// RuleOutcome is the aggregate effect of the rules that fired
type RuleOutcome struct {
	Boost    float64
	Override models.AlertLevel
	Names    []string
	Messages []string
}

// EvaluateRules applies rules in order. Boosts add up; the override is the
// most severe one seen.
func EvaluateRules(rules []Rule, values map[models.Channel]float64) RuleOutcome {
	var out RuleOutcome
	for _, r := range rules {
		if !r.Matches(values) {
			continue
		}
		out.Boost += r.Boost
		out.Names = append(out.Names, r.Name)
		out.Messages = append(out.Messages, r.Message)
		if r.LevelOverride > out.Override {
			out.Override = r.LevelOverride
		}
	}
	return out
}
