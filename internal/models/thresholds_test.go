package models

import "testing"

func TestStandardThresholds_Values(t *testing.T) {
	ts := StandardThresholds()

	tests := []struct {
		key  string
		want float64
	}{
		{"temperature_watch", 35},
		{"temperature_danger", 65},
		{"temp_rate_caution", 5},
		{"co_warning", 100},
		{"co2_danger", 10000},
		{"o2_watch", 19.5},
		{"o2_danger", 16.0},
		{"smoke_caution", 25},
		{"ch4_warning", 35},
		{"h2s_danger", 100},
		{"humidity_watch", 35},
		{"humidity_danger", 15},
	}
	for _, tt := range tests {
		if got := ts[tt.key]; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}
	if len(ts) != len(ThresholdChannels)*len(ThresholdLevels) {
		t.Errorf("len = %d, want %d", len(ts), len(ThresholdChannels)*len(ThresholdLevels))
	}
}

func TestStandardThresholds_ReturnsCopy(t *testing.T) {
	a := StandardThresholds()
	a["co_watch"] = 1
	if StandardThresholds()["co_watch"] != 30 {
		t.Error("mutating a returned set must not change the factory values")
	}
}

func TestStandardThresholds_Ordering(t *testing.T) {
	ts := StandardThresholds()
	for _, ch := range ThresholdChannels {
		levels, ok := ts.Levels(ch)
		if !ok {
			t.Fatalf("Levels(%s) not found", ch)
		}
		for i := 1; i < len(levels); i++ {
			if IsInverse(ch) && levels[i] >= levels[i-1] {
				t.Errorf("%s: inverse ladder not decreasing: %v", ch, levels)
			}
			if !IsInverse(ch) && levels[i] <= levels[i-1] {
				t.Errorf("%s: ladder not increasing: %v", ch, levels)
			}
		}
	}
}

func TestParseThresholdKey(t *testing.T) {
	tests := []struct {
		key       string
		wantCh    Channel
		wantLevel ThresholdLevel
		wantOK    bool
	}{
		{"co_caution", ChannelCO, LevelCaution, true},
		{"temp_rate_warning", ChannelTempRate, LevelWarning, true},
		{"temperature_danger", ChannelTemperature, LevelDanger, true},
		{"co_", "", "", false},
		{"watch", "", "", false},
		{"co_extreme", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ch, level, ok := ParseThresholdKey(tt.key)
			if ok != tt.wantOK || ch != tt.wantCh || level != tt.wantLevel {
				t.Errorf("ParseThresholdKey(%q) = %q, %q, %v", tt.key, ch, level, ok)
			}
			if ok && ThresholdKey(ch, level) != tt.key {
				t.Errorf("ThresholdKey round trip = %q", ThresholdKey(ch, level))
			}
		})
	}
}

func TestThresholdSet_LevelsFallsBack(t *testing.T) {
	ts := ThresholdSet{"co_watch": 25}
	levels, ok := ts.Levels(ChannelCO)
	if !ok {
		t.Fatal("Levels(co) not found")
	}
	want := [4]float64{25, 50, 100, 200}
	if levels != want {
		t.Errorf("Levels(co) = %v, want %v", levels, want)
	}
	if _, ok := ts.Levels(ChannelWater); ok {
		t.Error("water has no threshold ladder")
	}
}

func TestThresholdSet_Equal(t *testing.T) {
	a := StandardThresholds()
	b := a.Clone()
	if !a.Equal(b) {
		t.Error("clone should be equal")
	}
	b["co_watch"] = 31
	if a.Equal(b) {
		t.Error("modified clone should differ")
	}
	delete(b, "co_watch")
	if a.Equal(b) {
		t.Error("sets with different keys should differ")
	}
}
