package alerting

import (
	"fmt"
	"math"

	"batterywatch/internal/telemetry"
)

// Breach is one evaluator finding for the current tick.
type Breach struct {
	Type           string
	Severity       telemetry.AlertSeverity
	Title          string
	Message        string
	SensorValue    float64
	ThresholdValue float64
}

// Input is everything the evaluators see for one battery tick.
type Input struct {
	Sample     telemetry.Sample
	Prediction *telemetry.Prediction // nil while models warm up
	Previous   *telemetry.Prediction // prediction from the prior cycle
}

// Evaluator is one alert strategy. The engine combines several so each can
// be tested and replaced in isolation.
type Evaluator interface {
	Evaluate(in Input) []Breach
}

// Thresholds are the configured alert bounds for direct comparison.
type Thresholds struct {
	VoltageMin     float64
	VoltageMax     float64
	CurrentMax     float64
	TemperatureMax float64
	CapacityMin    float64
}

// ThresholdEvaluator compares the latest valid sample against the bounds.
type ThresholdEvaluator struct {
	bounds Thresholds
}

// NewThresholdEvaluator constructs a ThresholdEvaluator.
func NewThresholdEvaluator(bounds Thresholds) *ThresholdEvaluator {
	return &ThresholdEvaluator{bounds: bounds}
}

// Evaluate reports threshold breaches on the sample. Invalid samples are
// skipped; data quality problems are the ingestor's concern.
func (t *ThresholdEvaluator) Evaluate(in Input) []Breach {
	s := in.Sample
	if !s.Valid {
		return nil
	}

	var breaches []Breach
	if s.Voltage < t.bounds.VoltageMin {
		breaches = append(breaches, Breach{
			Type:           "voltage",
			Severity:       severityFor(s.Voltage, t.bounds.VoltageMin),
			Title:          "undervoltage",
			Message:        fmt.Sprintf("voltage %.3fV below minimum %.2fV", s.Voltage, t.bounds.VoltageMin),
			SensorValue:    s.Voltage,
			ThresholdValue: t.bounds.VoltageMin,
		})
	} else if s.Voltage > t.bounds.VoltageMax {
		breaches = append(breaches, Breach{
			Type:           "voltage",
			Severity:       severityFor(s.Voltage, t.bounds.VoltageMax),
			Title:          "overvoltage",
			Message:        fmt.Sprintf("voltage %.3fV above maximum %.2fV", s.Voltage, t.bounds.VoltageMax),
			SensorValue:    s.Voltage,
			ThresholdValue: t.bounds.VoltageMax,
		})
	}

	if math.Abs(s.Current) > t.bounds.CurrentMax {
		breaches = append(breaches, Breach{
			Type:           "current",
			Severity:       severityFor(math.Abs(s.Current), t.bounds.CurrentMax),
			Title:          "overcurrent",
			Message:        fmt.Sprintf("current %.3fA exceeds ±%.1fA", s.Current, t.bounds.CurrentMax),
			SensorValue:    math.Abs(s.Current),
			ThresholdValue: t.bounds.CurrentMax,
		})
	}

	if s.Temperature > t.bounds.TemperatureMax {
		breaches = append(breaches, Breach{
			Type:           "temperature",
			Severity:       severityFor(s.Temperature, t.bounds.TemperatureMax),
			Title:          "overtemperature",
			Message:        fmt.Sprintf("temperature %.1f°C above maximum %.0f°C", s.Temperature, t.bounds.TemperatureMax),
			SensorValue:    s.Temperature,
			ThresholdValue: t.bounds.TemperatureMax,
		})
	}

	if s.Capacity < t.bounds.CapacityMin {
		breaches = append(breaches, Breach{
			Type:           "capacity",
			Severity:       severityFor(s.Capacity, t.bounds.CapacityMin),
			Title:          "low charge",
			Message:        fmt.Sprintf("state of charge %.1f%% below minimum %.0f%%", s.Capacity, t.bounds.CapacityMin),
			SensorValue:    s.Capacity,
			ThresholdValue: t.bounds.CapacityMin,
		})
	}

	return breaches
}

// severityFor grades a breach by its magnitude relative to the threshold.
func severityFor(value, threshold float64) telemetry.AlertSeverity {
	if threshold == 0 {
		return telemetry.SeverityWarning
	}
	ratio := math.Abs(value-threshold) / math.Abs(threshold)
	switch {
	case ratio >= 0.5:
		return telemetry.SeverityDanger
	case ratio >= 0.15:
		return telemetry.SeverityCritical
	default:
		return telemetry.SeverityWarning
	}
}

// ModelEvaluator raises alerts from anomaly flags and risk transitions.
type ModelEvaluator struct {
	tagThreshold float64
	dangerScore  float64
}

// NewModelEvaluator constructs a ModelEvaluator. tagThreshold is the
// anomaly score at which flags fire; dangerScore escalates flag severity.
func NewModelEvaluator(tagThreshold, dangerScore float64) *ModelEvaluator {
	return &ModelEvaluator{tagThreshold: tagThreshold, dangerScore: dangerScore}
}

// Evaluate reports model-driven breaches for the current prediction.
func (m *ModelEvaluator) Evaluate(in Input) []Breach {
	p := in.Prediction
	if p == nil || p.Stale || p.Degraded {
		return nil
	}

	var breaches []Breach

	for _, flag := range p.AnomalyFlags {
		severity := telemetry.SeverityWarning
		if m.dangerScore > 0 && p.AnomalyScore >= m.dangerScore {
			severity = telemetry.SeverityCritical
		}
		breaches = append(breaches, Breach{
			Type:           flag,
			Severity:       severity,
			Title:          "anomaly detected",
			Message:        fmt.Sprintf("%s signature, anomaly score %.2f", flag, p.AnomalyScore),
			SensorValue:    p.AnomalyScore,
			ThresholdValue: m.tagThreshold,
		})
	}

	// risk transitions: alert when the band worsens into critical or danger
	prevRank := telemetry.RiskNormal.Rank()
	if in.Previous != nil {
		prevRank = in.Previous.RiskLevel.Rank()
	}
	if p.RiskLevel.Rank() > prevRank && p.RiskLevel.Rank() >= telemetry.RiskCritical.Rank() {
		severity := telemetry.SeverityCritical
		if p.RiskLevel == telemetry.RiskDanger {
			severity = telemetry.SeverityDanger
		}
		breaches = append(breaches, Breach{
			Type:           "risk_level",
			Severity:       severity,
			Title:          "risk level escalated",
			Message:        fmt.Sprintf("risk level rose to %s, health %.1f", p.RiskLevel, p.HealthScore),
			SensorValue:    p.HealthScore,
			ThresholdValue: 0,
		})
	}

	return breaches
}

var (
	_ Evaluator = (*ThresholdEvaluator)(nil)
	_ Evaluator = (*ModelEvaluator)(nil)
)
