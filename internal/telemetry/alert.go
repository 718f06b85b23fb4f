package telemetry

import (
	"fmt"
	"time"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityDanger   AlertSeverity = "danger"
)

// AlertStatus tracks the forward-only alert lifecycle.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a deduplicated, stateful alert record.
type Alert struct {
	ID             string
	BatteryID      string
	Type           string
	Severity       AlertSeverity
	Status         AlertStatus
	Title          string
	Message        string
	SensorValue    float64
	ThresholdValue float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
}

// CanTransition reports whether moving to the given status is legal.
// Allowed: active→acknowledged, active→resolved, acknowledged→resolved.
func (a *Alert) CanTransition(to AlertStatus) bool {
	switch a.Status {
	case AlertActive:
		return to == AlertAcknowledged || to == AlertResolved
	case AlertAcknowledged:
		return to == AlertResolved
	default:
		return false
	}
}

// ErrIllegalTransition signals an attempt to move an alert backwards.
type ErrIllegalTransition struct {
	From, To AlertStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal alert transition %s -> %s", e.From, e.To)
}
