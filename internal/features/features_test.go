package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"batterywatch/internal/telemetry"
)

func window(n int, mutate func(i int, s *telemetry.Sample)) []telemetry.Sample {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]telemetry.Sample, n)
	for i := range out {
		out[i] = telemetry.Sample{
			BatteryID:          "B1",
			Timestamp:          base.Add(time.Duration(i) * time.Second),
			Voltage:            3.7,
			Current:            -0.5,
			Temperature:        25,
			Capacity:           80,
			Power:              1.85,
			InternalResistance: 0.05,
			CycleCount:         100,
			Valid:              true,
		}
		if mutate != nil {
			mutate(i, &out[i])
		}
	}
	return out
}

func TestExtractRejectsShortWindow(t *testing.T) {
	e := NewExtractor(20)
	_, err := e.Extract(window(19, nil))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData, got %v", err)
	}
	if _, err := e.Extract(window(20, nil)); err != nil {
		t.Fatalf("20 samples should be enough: %v", err)
	}
}

func TestExtractConstantSignalHasZeroSlope(t *testing.T) {
	e := NewExtractor(20)
	v, err := e.Extract(window(21, nil))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if math.Abs(v.Voltage.Slope) > 1e-9 {
		t.Fatalf("constant voltage slope = %g, want ~0", v.Voltage.Slope)
	}
	if v.Voltage.Std > 1e-9 {
		t.Fatalf("constant voltage std = %g, want 0", v.Voltage.Std)
	}
	if v.Voltage.Mean != 3.7 {
		t.Fatalf("voltage mean = %g, want 3.7", v.Voltage.Mean)
	}
	if v.SampleCount != 21 {
		t.Fatalf("sample count = %d, want 21", v.SampleCount)
	}
}

func TestExtractLinearTrendSlope(t *testing.T) {
	e := NewExtractor(20)
	v, err := e.Extract(window(60, func(i int, s *telemetry.Sample) {
		s.Temperature = 25 + 0.5*float64(i)
	}))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if math.Abs(v.Temperature.Slope-0.5) > 1e-9 {
		t.Fatalf("temperature slope = %g, want 0.5 per second", v.Temperature.Slope)
	}
	if math.Abs(v.Temperature.RateOfChange-0.5) > 1e-9 {
		t.Fatalf("temperature rate of change = %g, want 0.5", v.Temperature.RateOfChange)
	}
}

func TestDutyRatiosPartitionWindow(t *testing.T) {
	e := NewExtractor(20)
	// first third charging, second third discharging, rest idle
	v, err := e.Extract(window(60, func(i int, s *telemetry.Sample) {
		switch {
		case i < 20:
			s.Current = 1.0
		case i < 40:
			s.Current = -0.8
		default:
			s.Current = 0
		}
	}))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if math.Abs(v.ChargeRatio-1.0/3) > 1e-9 {
		t.Fatalf("charge ratio = %g, want 1/3", v.ChargeRatio)
	}
	if math.Abs(v.DischargeRatio-1.0/3) > 1e-9 {
		t.Fatalf("discharge ratio = %g, want 1/3", v.DischargeRatio)
	}
	if math.Abs(v.IdleRatio-1.0/3) > 1e-9 {
		t.Fatalf("idle ratio = %g, want 1/3", v.IdleRatio)
	}
}

func TestValuesMatchesNamesOrder(t *testing.T) {
	e := NewExtractor(20)
	v, err := e.Extract(window(30, nil))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	vals := v.Values()
	if len(vals) != len(Names) {
		t.Fatalf("Values length %d, Names length %d", len(vals), len(Names))
	}
	// spot check the pinned positions the models rely on
	if vals[0] != v.Voltage.Mean {
		t.Fatal("voltage_mean must be the first feature")
	}
	if vals[len(vals)-1] != v.DischargeRatio {
		t.Fatal("discharge_ratio must be the last feature")
	}
}
