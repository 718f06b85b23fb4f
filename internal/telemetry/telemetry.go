package telemetry

import (
	"context"
	"time"
)

// BatteryStatus is the lifecycle state of a monitored battery.
type BatteryStatus string

const (
	StatusActive      BatteryStatus = "active"
	StatusMaintenance BatteryStatus = "maintenance"
	StatusRetired     BatteryStatus = "retired"
)

// Battery is read-only reference data describing one monitored cell or pack.
type Battery struct {
	ID              string
	Model           string
	NominalCapacity float64 // Ah
	NominalVoltage  float64 // V
	Location        string
	InstallDate     time.Time
	Status          BatteryStatus
}

// Sample is one enriched telemetry reading. Immutable once buffered.
type Sample struct {
	BatteryID          string
	Timestamp          time.Time
	Voltage            float64 // V
	Current            float64 // A, negative while discharging
	Temperature        float64 // °C
	Capacity           float64 // state of charge, 0-100 %
	Power              float64 // W, derived voltage*|current|
	InternalResistance float64 // Ω
	CycleCount         int
	IsCharging         bool
	Valid              bool
	QualityScore       float64 // 0-1
}

// Source yields at most one raw reading per battery per tick.
type Source interface {
	// Next returns the reading for the given tick, or ok=false when the
	// source has nothing for this battery right now.
	Next(batteryID string, now time.Time) (Sample, bool)
}

// RiskLevel is one of four ordered severity bands.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
	RiskDanger   RiskLevel = "danger"
)

var riskOrder = map[RiskLevel]int{
	RiskNormal:   0,
	RiskWarning:  1,
	RiskCritical: 2,
	RiskDanger:   3,
}

// Rank returns the ordinal position of the band, normal lowest.
func (r RiskLevel) Rank() int { return riskOrder[r] }

// Prediction is the joint output of one inference cycle.
type Prediction struct {
	BatteryID           string
	CreatedAt           time.Time
	RiskLevel           RiskLevel
	ConfidenceScore     float64 // 0-1
	HealthScore         float64 // 0-100
	DegradationRate     float64 // health points per cycle
	RemainingCycles     int
	PredictedFailureAt  *time.Time
	AnomalyScore        float64
	AnomalyFlags        []string
	ModelVersion        string
	DataPointsUsed      int
	Stale               bool // carried over from a previous cycle
	Degraded            bool // produced after an inference fault
}

// Persister is the external store collaborator. The pipeline degrades to
// in-memory operation when inserts fail; errors are logged, never fatal.
type Persister interface {
	InsertSample(ctx context.Context, s Sample) error
	InsertPrediction(ctx context.Context, p Prediction) error
	InsertAlert(ctx context.Context, a Alert) error
	ListSamples(ctx context.Context, batteryID string, from, to time.Time) ([]Sample, error)
}
