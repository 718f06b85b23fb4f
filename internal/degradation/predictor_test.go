package degradation

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/features"
	"batterywatch/internal/telemetry"
)

func testBands() Bands {
	return Bands{
		WarningHealth:   85,
		CriticalHealth:  70,
		DangerHealth:    50,
		EndOfLifeHealth: 50,
		AnomalyWarning:  3,
		AnomalyCritical: 6,
	}
}

// trainingVectors spans a range of wear states so the regression has signal
// to fit: cycle counts, resistance, and temperature all vary.
func trainingVectors(n int, seed int64) []features.Vector {
	rng := rand.New(rand.NewSource(seed))
	e := features.NewExtractor(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := make([]features.Vector, 0, n)
	for k := 0; k < n; k++ {
		wear := float64(k) / float64(n)
		samples := make([]telemetry.Sample, 30)
		for i := range samples {
			samples[i] = telemetry.Sample{
				BatteryID:          "B1",
				Timestamp:          base.Add(time.Duration(k*30+i) * time.Second),
				Voltage:            3.7 - 0.2*wear + rng.NormFloat64()*0.01,
				Current:            -0.5 + rng.NormFloat64()*0.02,
				Temperature:        25 + 15*wear + rng.NormFloat64()*0.5,
				Capacity:           90 - 30*wear + rng.NormFloat64(),
				Power:              1.85,
				InternalResistance: 0.05 + 0.05*wear + rng.NormFloat64()*0.001,
				CycleCount:         int(1000 * wear),
				Valid:              true,
			}
		}
		v, err := e.Extract(samples)
		if err != nil {
			panic(err)
		}
		out = append(out, v)
	}
	return out
}

func TestPredictWithoutModel(t *testing.T) {
	p := NewPredictor(Options{Bands: testBands(), RetrainMinSamples: 10}, zerolog.Nop())
	if _, err := p.Predict(features.Vector{}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("want ErrModelUnavailable, got %v", err)
	}
}

func TestRetrainBelowMinimumKeepsPreviousModel(t *testing.T) {
	p := NewPredictor(Options{Bands: testBands(), RetrainMinSamples: 20}, zerolog.Nop())

	if err := p.Retrain(trainingVectors(30, 1)); err != nil {
		t.Fatalf("initial retrain failed: %v", err)
	}
	before := p.ModelVersion()

	err := p.Retrain(trainingVectors(5, 2))
	if !errors.Is(err, ErrNotEnoughTrainingData) {
		t.Fatalf("want ErrNotEnoughTrainingData, got %v", err)
	}
	if got := p.ModelVersion(); got != before {
		t.Fatalf("failed retrain must not swap the model: %s -> %s", before, got)
	}
}

func TestPredictProducesBoundedEstimates(t *testing.T) {
	p := NewPredictor(Options{Bands: testBands(), RetrainMinSamples: 10}, zerolog.Nop())
	vectors := trainingVectors(50, 1)
	if err := p.Retrain(vectors); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	for _, v := range []features.Vector{vectors[0], vectors[25], vectors[49]} {
		est, err := p.Predict(v)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if est.HealthScore < 0 || est.HealthScore > 100 {
			t.Fatalf("health %.2f out of [0,100]", est.HealthScore)
		}
		if est.DegradationRate < 0.001 {
			t.Fatalf("degradation rate %.5f below floor", est.DegradationRate)
		}
		if est.RemainingCycles < 0 {
			t.Fatalf("remaining cycles %d negative", est.RemainingCycles)
		}
		if est.Confidence < 0.1 || est.Confidence > 0.99 {
			t.Fatalf("confidence %.2f out of [0.1,0.99]", est.Confidence)
		}
		if est.ModelVersion == "" {
			t.Fatal("estimate should carry the model version")
		}
	}

	fresh, err := p.Predict(vectors[0])
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	worn, err := p.Predict(vectors[49])
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if worn.HealthScore >= fresh.HealthScore {
		t.Fatalf("worn battery should score lower health: fresh %.2f worn %.2f", fresh.HealthScore, worn.HealthScore)
	}
}

func TestRiskLevelBands(t *testing.T) {
	p := NewPredictor(Options{Bands: testBands(), RetrainMinSamples: 10}, zerolog.Nop())

	cases := []struct {
		health  float64
		anomaly float64
		want    telemetry.RiskLevel
	}{
		{95, 0, telemetry.RiskNormal},
		{80, 0, telemetry.RiskWarning},
		{65, 0, telemetry.RiskCritical},
		{40, 0, telemetry.RiskDanger},
		{95, 3.5, telemetry.RiskWarning},
		{95, 7.0, telemetry.RiskCritical},
		{40, 7.0, telemetry.RiskDanger}, // health danger outranks anomaly critical
	}
	for _, tc := range cases {
		if got := p.RiskLevel(tc.health, tc.anomaly); got != tc.want {
			t.Fatalf("RiskLevel(%.0f, %.1f) = %s, want %s", tc.health, tc.anomaly, got, tc.want)
		}
	}
}
