package ingest

import (
	"fmt"
	"math"

	"batterywatch/internal/telemetry"
)

// Bounds are the physical plausibility limits a reading must satisfy.
// Readings outside them are marked invalid but still recorded so downstream
// consumers see data-quality metrics.
type Bounds struct {
	VoltageMin     float64 `mapstructure:"voltage_min"`
	VoltageMax     float64 `mapstructure:"voltage_max"`
	CurrentAbsMax  float64 `mapstructure:"current_abs_max"`
	TemperatureMin float64 `mapstructure:"temperature_min"`
	TemperatureMax float64 `mapstructure:"temperature_max"`
}

// DefaultBounds covers the safe envelope of a Li-ion cell plus sensor slack.
func DefaultBounds() Bounds {
	return Bounds{
		VoltageMin:     2.5,
		VoltageMax:     4.5,
		CurrentAbsMax:  5.0,
		TemperatureMin: -20,
		TemperatureMax: 80,
	}
}

// validate scores a sample against the bounds. Each violated bound scales
// the quality score down; a sample stays usable while the combined score is
// above 0.5.
func (b Bounds) validate(s telemetry.Sample) (bool, float64, []string) {
	quality := 1.0
	var problems []string

	if s.Voltage < b.VoltageMin || s.Voltage > b.VoltageMax {
		problems = append(problems, fmt.Sprintf("voltage %.3fV outside [%.1f, %.1f]", s.Voltage, b.VoltageMin, b.VoltageMax))
		quality *= 0.5
	}
	if math.Abs(s.Current) > b.CurrentAbsMax {
		problems = append(problems, fmt.Sprintf("current %.3fA exceeds ±%.1fA", s.Current, b.CurrentAbsMax))
		quality *= 0.7
	}
	if s.Temperature < b.TemperatureMin || s.Temperature > b.TemperatureMax {
		problems = append(problems, fmt.Sprintf("temperature %.1f°C outside [%.0f, %.0f]", s.Temperature, b.TemperatureMin, b.TemperatureMax))
		quality *= 0.6
	}
	if s.Capacity < 0 || s.Capacity > 100 {
		problems = append(problems, fmt.Sprintf("capacity %.1f%% outside [0, 100]", s.Capacity))
		quality *= 0.4
	}

	// power consistency against the expected noise profile; only meaningful
	// when the reading carried its own power figure
	if s.Power > 0 {
		expected := s.Voltage * math.Abs(s.Current)
		diff := math.Abs(s.Power-expected) / math.Max(expected, 0.1)
		if diff > 0.1 {
			problems = append(problems, fmt.Sprintf("power %.3fW inconsistent with V*I %.3fW", s.Power, expected))
			quality *= 0.8
		}
	}

	valid := len(problems) == 0 || quality > 0.5
	return valid, quality, problems
}
