package broadcast

import (
	"fmt"
	"time"

	"batterywatch/internal/telemetry"
)

// EventKind discriminates the closed set of broadcast payloads.
type EventKind string

const (
	KindTelemetry  EventKind = "telemetry"
	KindPrediction EventKind = "prediction"
	KindAlert      EventKind = "alert"
	KindStats      EventKind = "stats"
)

// FleetStats is the periodic aggregate payload.
type FleetStats struct {
	At             time.Time
	Batteries      int
	TotalSamples   int64
	ValidSamples   int64
	InvalidSamples int64
	ActiveAlerts   int
}

// Event is a tagged variant: exactly one payload field matching Kind is set.
// It is validated at the publish boundary.
type Event struct {
	Kind      EventKind
	BatteryID string // empty for fleet-wide stats
	At        time.Time

	Sample     *telemetry.Sample
	Prediction *telemetry.Prediction
	Alert      *telemetry.Alert
	Stats      *FleetStats
}

func (e Event) validate() error {
	var payloads int
	if e.Sample != nil {
		payloads++
	}
	if e.Prediction != nil {
		payloads++
	}
	if e.Alert != nil {
		payloads++
	}
	if e.Stats != nil {
		payloads++
	}
	if payloads != 1 {
		return fmt.Errorf("event carries %d payloads, want exactly 1", payloads)
	}

	switch e.Kind {
	case KindTelemetry:
		if e.Sample == nil {
			return fmt.Errorf("telemetry event without sample payload")
		}
	case KindPrediction:
		if e.Prediction == nil {
			return fmt.Errorf("prediction event without prediction payload")
		}
	case KindAlert:
		if e.Alert == nil {
			return fmt.Errorf("alert event without alert payload")
		}
	case KindStats:
		if e.Stats == nil {
			return fmt.Errorf("stats event without stats payload")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
