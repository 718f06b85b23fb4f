package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"batterywatch/internal/telemetry"
)

// ErrAlertNotFound reports an unknown or already resolved alert ID.
var ErrAlertNotFound = errors.New("alerting: alert not found")

// AlertSink receives alert lifecycle events for fan-out.
type AlertSink interface {
	PublishAlert(a telemetry.Alert)
}

// entry pairs an unresolved alert with its dedup bookkeeping.
type entry struct {
	alert        telemetry.Alert
	lastBreachAt time.Time
}

// Engine fuses evaluator breaches into a deduplicated, stateful alert
// stream. It is the single authoritative owner of unresolved alert state,
// so two near-simultaneous ticks can never create duplicate active alerts.
type Engine struct {
	evaluators  []Evaluator
	cooldown    time.Duration
	autoResolve bool
	sink        AlertSink
	store       telemetry.Persister
	logger      zerolog.Logger

	mu sync.Mutex
	// battery -> alert type -> unresolved alert
	open map[string]map[string]*entry
	byID map[string]*entry
}

// Options configure the engine.
type Options struct {
	Cooldown    time.Duration
	AutoResolve bool
}

// NewEngine constructs an Engine. sink and store may be nil.
func NewEngine(opts Options, evaluators []Evaluator, sink AlertSink, store telemetry.Persister, logger zerolog.Logger) *Engine {
	return &Engine{
		evaluators:  evaluators,
		cooldown:    opts.Cooldown,
		autoResolve: opts.AutoResolve,
		sink:        sink,
		store:       store,
		logger:      logger.With().Str("component", "alert_engine").Logger(),
		open:        make(map[string]map[string]*entry),
		byID:        make(map[string]*entry),
	}
}

// Process runs all evaluators over one tick's input and reconciles the
// result against unresolved alert state. It returns alerts created or
// updated this tick.
func (e *Engine) Process(ctx context.Context, in Input, now time.Time) []telemetry.Alert {
	var breaches []Breach
	for _, ev := range e.evaluators {
		breaches = append(breaches, ev.Evaluate(in)...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batteryID := in.Sample.BatteryID
	touched := make(map[string]bool, len(breaches))
	var emitted []telemetry.Alert

	for _, b := range breaches {
		touched[b.Type] = true

		if existing, ok := e.open[batteryID][b.Type]; ok {
			// dedup: refresh the unresolved alert instead of storming
			existing.alert.SensorValue = b.SensorValue
			existing.alert.UpdatedAt = now
			existing.lastBreachAt = now
			if severityRank(b.Severity) > severityRank(existing.alert.Severity) {
				existing.alert.Severity = b.Severity
			}
			e.emit(ctx, existing.alert)
			emitted = append(emitted, existing.alert)
			continue
		}

		alert := telemetry.Alert{
			ID:             uuid.NewString(),
			BatteryID:      batteryID,
			Type:           b.Type,
			Severity:       b.Severity,
			Status:         telemetry.AlertActive,
			Title:          b.Title,
			Message:        b.Message,
			SensorValue:    b.SensorValue,
			ThresholdValue: b.ThresholdValue,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		ent := &entry{alert: alert, lastBreachAt: now}
		if e.open[batteryID] == nil {
			e.open[batteryID] = make(map[string]*entry)
		}
		e.open[batteryID][b.Type] = ent
		e.byID[alert.ID] = ent

		e.logger.Info().
			Str("battery_id", batteryID).
			Str("alert_type", b.Type).
			Str("severity", string(b.Severity)).
			Float64("sensor_value", b.SensorValue).
			Msg("alert raised")
		e.emit(ctx, alert)
		emitted = append(emitted, alert)
	}

	if e.autoResolve {
		emitted = append(emitted, e.resolveClearedLocked(ctx, batteryID, touched, now)...)
	}

	return emitted
}

// resolveClearedLocked resolves unresolved alerts whose condition has not
// re-breached for a full cooldown window. Caller holds e.mu.
func (e *Engine) resolveClearedLocked(ctx context.Context, batteryID string, touched map[string]bool, now time.Time) []telemetry.Alert {
	var resolved []telemetry.Alert
	for alertType, ent := range e.open[batteryID] {
		if touched[alertType] {
			continue
		}
		if now.Sub(ent.lastBreachAt) <= e.cooldown {
			continue
		}
		ent.alert.Status = telemetry.AlertResolved
		ts := now
		ent.alert.ResolvedAt = &ts
		ent.alert.UpdatedAt = now
		delete(e.open[batteryID], alertType)
		delete(e.byID, ent.alert.ID)

		e.logger.Info().
			Str("battery_id", batteryID).
			Str("alert_type", alertType).
			Msg("alert auto-resolved, condition cleared")
		e.emit(ctx, ent.alert)
		resolved = append(resolved, ent.alert)
	}
	return resolved
}

// Acknowledge moves an active alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID, by string, now time.Time) (telemetry.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.byID[alertID]
	if !ok {
		return telemetry.Alert{}, ErrAlertNotFound
	}
	if !ent.alert.CanTransition(telemetry.AlertAcknowledged) {
		return telemetry.Alert{}, &telemetry.ErrIllegalTransition{From: ent.alert.Status, To: telemetry.AlertAcknowledged}
	}
	ent.alert.Status = telemetry.AlertAcknowledged
	ts := now
	ent.alert.AcknowledgedAt = &ts
	ent.alert.AcknowledgedBy = by
	ent.alert.UpdatedAt = now

	e.emit(ctx, ent.alert)
	return ent.alert, nil
}

// Resolve closes an active or acknowledged alert. Resolved is terminal.
func (e *Engine) Resolve(ctx context.Context, alertID string, now time.Time) (telemetry.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.byID[alertID]
	if !ok {
		return telemetry.Alert{}, ErrAlertNotFound
	}
	if !ent.alert.CanTransition(telemetry.AlertResolved) {
		return telemetry.Alert{}, &telemetry.ErrIllegalTransition{From: ent.alert.Status, To: telemetry.AlertResolved}
	}
	ent.alert.Status = telemetry.AlertResolved
	ts := now
	ent.alert.ResolvedAt = &ts
	ent.alert.UpdatedAt = now
	delete(e.open[ent.alert.BatteryID], ent.alert.Type)
	delete(e.byID, alertID)

	e.emit(ctx, ent.alert)
	return ent.alert, nil
}

// Unresolved returns a copy of all unresolved alerts.
func (e *Engine) Unresolved() []telemetry.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]telemetry.Alert, 0, len(e.byID))
	for _, ent := range e.byID {
		out = append(out, ent.alert)
	}
	return out
}

// ActiveCount reports the number of unresolved alerts.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byID)
}

func (e *Engine) emit(ctx context.Context, a telemetry.Alert) {
	if e.sink != nil {
		e.sink.PublishAlert(a)
	}
	if e.store != nil {
		if err := e.store.InsertAlert(ctx, a); err != nil {
			e.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
		}
	}
}

func severityRank(s telemetry.AlertSeverity) int {
	switch s {
	case telemetry.SeverityDanger:
		return 3
	case telemetry.SeverityCritical:
		return 2
	case telemetry.SeverityWarning:
		return 1
	default:
		return 0
	}
}
