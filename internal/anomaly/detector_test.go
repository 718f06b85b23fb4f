package anomaly

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/features"
	"batterywatch/internal/telemetry"
)

func trainingVectors(n int, seed int64) []features.Vector {
	rng := rand.New(rand.NewSource(seed))
	e := features.NewExtractor(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := make([]features.Vector, 0, n)
	for k := 0; k < n; k++ {
		samples := make([]telemetry.Sample, 30)
		for i := range samples {
			samples[i] = telemetry.Sample{
				BatteryID:          "B1",
				Timestamp:          base.Add(time.Duration(k*30+i) * time.Second),
				Voltage:            3.7 + rng.NormFloat64()*0.01,
				Current:            -0.5 + rng.NormFloat64()*0.02,
				Temperature:        25 + rng.NormFloat64()*0.5,
				Capacity:           80 + rng.NormFloat64(),
				Power:              1.85,
				InternalResistance: 0.05 + rng.NormFloat64()*0.001,
				CycleCount:         100,
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

func TestScoreWithoutModel(t *testing.T) {
	d := NewDetector(Options{TagThreshold: 3, RetrainMinSamples: 10}, zerolog.Nop())
	if _, err := d.Score(features.Vector{}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("want ErrModelUnavailable, got %v", err)
	}
	if d.Trained() {
		t.Fatal("detector should report untrained")
	}
}

func TestRetrainBelowMinimumKeepsPreviousModel(t *testing.T) {
	d := NewDetector(Options{TagThreshold: 3, RetrainMinSamples: 20}, zerolog.Nop())

	if err := d.Retrain(trainingVectors(20, 1)); err != nil {
		t.Fatalf("initial retrain failed: %v", err)
	}
	before := d.ModelVersion()

	err := d.Retrain(trainingVectors(5, 2))
	if !errors.Is(err, ErrNotEnoughTrainingData) {
		t.Fatalf("want ErrNotEnoughTrainingData, got %v", err)
	}
	if got := d.ModelVersion(); got != before {
		t.Fatalf("failed retrain must not swap the model: %s -> %s", before, got)
	}
}

func TestRetrainBumpsVersion(t *testing.T) {
	d := NewDetector(Options{TagThreshold: 3, RetrainMinSamples: 10}, zerolog.Nop())

	if err := d.Retrain(trainingVectors(20, 1)); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	first := d.ModelVersion()
	if err := d.Retrain(trainingVectors(20, 2)); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	if second := d.ModelVersion(); second == first {
		t.Fatalf("retrain should bump the model version, still %s", second)
	}
}

func TestScoreSeparatesNormalFromFaulty(t *testing.T) {
	d := NewDetector(Options{TagThreshold: 3, RetrainMinSamples: 10}, zerolog.Nop())
	vectors := trainingVectors(40, 1)
	if err := d.Retrain(vectors); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	normal, err := d.Score(vectors[0])
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	faulty := vectors[0]
	faulty.Temperature.Mean = 70
	faulty.Temperature.Slope = 0.5
	faulty.Temperature.Std = 8
	hot, err := d.Score(faulty)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	if hot.Score <= normal.Score {
		t.Fatalf("thermal fault should score higher: normal %.3f hot %.3f", normal.Score, hot.Score)
	}
	if !hasFlag(hot.Flags, "thermal_anomaly") {
		t.Fatalf("expected thermal_anomaly flag, got %v", hot.Flags)
	}
	if hasFlag(normal.Flags, "thermal_anomaly") {
		t.Fatalf("normal vector should not be flagged, got %v", normal.Flags)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
