package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/telemetry"
)

func testThresholds() Thresholds {
	return Thresholds{
		VoltageMin:     3.0,
		VoltageMax:     4.2,
		CurrentMax:     3.0,
		TemperatureMax: 60,
		CapacityMin:    20,
	}
}

func newTestEngine(cooldown time.Duration) *Engine {
	return NewEngine(Options{Cooldown: cooldown, AutoResolve: true},
		[]Evaluator{NewThresholdEvaluator(testThresholds())},
		nil, nil, zerolog.Nop())
}

func validSample(voltage float64) telemetry.Sample {
	return telemetry.Sample{
		BatteryID:   "B1",
		Timestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Voltage:     voltage,
		Current:     -0.5,
		Temperature: 25,
		Capacity:    80,
		Valid:       true,
	}
}

func TestOvervoltageRaisesOneAlert(t *testing.T) {
	e := newTestEngine(5 * time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	emitted := e.Process(context.Background(), Input{Sample: validSample(4.35)}, now)
	if len(emitted) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(emitted))
	}
	al := emitted[0]
	if al.Type != "voltage" {
		t.Fatalf("alert type = %s, want voltage", al.Type)
	}
	if al.Status != telemetry.AlertActive {
		t.Fatalf("alert status = %s, want active", al.Status)
	}
	if al.SensorValue != 4.35 || al.ThresholdValue != 4.2 {
		t.Fatalf("alert values = %.2f/%.2f, want 4.35/4.2", al.SensorValue, al.ThresholdValue)
	}
	if al.ID == "" {
		t.Fatal("alert should carry an ID")
	}
	if e.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", e.ActiveCount())
	}
}

func TestRepeatedBreachRefreshesInsteadOfStorming(t *testing.T) {
	e := newTestEngine(5 * time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first := e.Process(context.Background(), Input{Sample: validSample(4.35)}, now)
	second := e.Process(context.Background(), Input{Sample: validSample(4.40)}, now.Add(time.Second))

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("each tick should emit one alert, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Fatal("repeated breach must refresh the same alert, not create a new one")
	}
	if second[0].SensorValue != 4.40 {
		t.Fatalf("refresh should update sensor value, got %.2f", second[0].SensorValue)
	}
	if e.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", e.ActiveCount())
	}
}

func TestRefreshEscalatesSeverityOnly(t *testing.T) {
	e := newTestEngine(5 * time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// 4.3/4.2 is a 2% breach (warning), 6.5/4.2 is over 50% (danger)
	first := e.Process(context.Background(), Input{Sample: validSample(4.3)}, now)
	if first[0].Severity != telemetry.SeverityWarning {
		t.Fatalf("severity = %s, want warning", first[0].Severity)
	}

	second := e.Process(context.Background(), Input{Sample: validSample(6.5)}, now.Add(time.Second))
	if second[0].Severity != telemetry.SeverityDanger {
		t.Fatalf("severity = %s, want danger after escalation", second[0].Severity)
	}

	third := e.Process(context.Background(), Input{Sample: validSample(4.3)}, now.Add(2*time.Second))
	if third[0].Severity != telemetry.SeverityDanger {
		t.Fatalf("severity = %s, severity must not de-escalate on refresh", third[0].Severity)
	}
}

func TestAutoResolveAfterCooldown(t *testing.T) {
	e := newTestEngine(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Process(context.Background(), Input{Sample: validSample(4.35)}, now)

	// condition cleared but cooldown not yet elapsed
	mid := e.Process(context.Background(), Input{Sample: validSample(3.7)}, now.Add(30*time.Second))
	if len(mid) != 0 {
		t.Fatalf("no transitions expected inside cooldown, got %d", len(mid))
	}
	if e.ActiveCount() != 1 {
		t.Fatal("alert should stay active inside cooldown")
	}

	late := e.Process(context.Background(), Input{Sample: validSample(3.7)}, now.Add(2*time.Minute))
	if len(late) != 1 {
		t.Fatalf("expected one auto-resolve transition, got %d", len(late))
	}
	if late[0].Status != telemetry.AlertResolved {
		t.Fatalf("status = %s, want resolved", late[0].Status)
	}
	if late[0].ResolvedAt == nil {
		t.Fatal("resolved alert should carry ResolvedAt")
	}
	if e.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0", e.ActiveCount())
	}
}

func TestAcknowledgeThenResolveLifecycle(t *testing.T) {
	e := newTestEngine(5 * time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	raised := e.Process(context.Background(), Input{Sample: validSample(4.35)}, now)
	id := raised[0].ID

	acked, err := e.Acknowledge(context.Background(), id, "operator", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if acked.Status != telemetry.AlertAcknowledged || acked.AcknowledgedBy != "operator" {
		t.Fatalf("unexpected acked state: %+v", acked)
	}
	if acked.AcknowledgedAt == nil {
		t.Fatal("acked alert should carry AcknowledgedAt")
	}

	// acknowledged alerts cannot be re-acknowledged
	if _, err := e.Acknowledge(context.Background(), id, "operator2", now.Add(2*time.Minute)); err == nil {
		t.Fatal("re-acknowledge should fail")
	}

	resolved, err := e.Resolve(context.Background(), id, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != telemetry.AlertResolved {
		t.Fatalf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt.Before(*resolved.AcknowledgedAt) {
		t.Fatal("ResolvedAt must not precede AcknowledgedAt")
	}

	// resolved is terminal: the alert is no longer addressable
	if _, err := e.Resolve(context.Background(), id, now.Add(4*time.Minute)); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("want ErrAlertNotFound for resolved alert, got %v", err)
	}
}

func TestInvalidSampleRaisesNothing(t *testing.T) {
	e := newTestEngine(5 * time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	bad := validSample(9.9)
	bad.Valid = false
	emitted := e.Process(context.Background(), Input{Sample: bad}, now)
	if len(emitted) != 0 {
		t.Fatalf("invalid samples must not alert, got %d", len(emitted))
	}
}

func TestModelEvaluatorFlagsAndRiskTransition(t *testing.T) {
	m := NewModelEvaluator(3, 6)

	pred := &telemetry.Prediction{
		BatteryID:    "B1",
		RiskLevel:    telemetry.RiskCritical,
		AnomalyScore: 7.2,
		AnomalyFlags: []string{"thermal_anomaly"},
		HealthScore:  65,
	}
	prev := &telemetry.Prediction{RiskLevel: telemetry.RiskWarning}

	breaches := m.Evaluate(Input{Sample: validSample(3.7), Prediction: pred, Previous: prev})
	if len(breaches) != 2 {
		t.Fatalf("expected flag + risk transition breaches, got %d", len(breaches))
	}
	if breaches[0].Type != "thermal_anomaly" || breaches[0].Severity != telemetry.SeverityCritical {
		t.Fatalf("unexpected flag breach: %+v", breaches[0])
	}
	if breaches[1].Type != "risk_level" {
		t.Fatalf("unexpected transition breach: %+v", breaches[1])
	}

	// stale predictions are ignored
	stale := *pred
	stale.Stale = true
	if got := m.Evaluate(Input{Sample: validSample(3.7), Prediction: &stale}); len(got) != 0 {
		t.Fatalf("stale prediction must not alert, got %d", len(got))
	}

	// no transition when the risk level is unchanged
	same := m.Evaluate(Input{Sample: validSample(3.7), Prediction: pred, Previous: pred})
	for _, b := range same {
		if b.Type == "risk_level" {
			t.Fatal("unchanged risk level must not re-alert")
		}
	}
}
