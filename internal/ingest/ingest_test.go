package ingest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/telemetry"
)

func goodSample(i int) telemetry.Sample {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return telemetry.Sample{
		BatteryID:          "B1",
		Timestamp:          base.Add(time.Duration(i) * time.Second),
		Voltage:            3.7,
		Current:            -0.5,
		Temperature:        25,
		Capacity:           80,
		InternalResistance: 0.05,
		CycleCount:         10,
	}
}

func TestIngestDerivesPowerAndMarksValid(t *testing.T) {
	ing := New(DefaultBounds(), 16, nil, nil, zerolog.Nop())

	got := ing.Ingest(context.Background(), goodSample(0))
	if !got.Valid {
		t.Fatalf("in-range sample should be valid: %+v", got)
	}
	if got.QualityScore != 1 {
		t.Fatalf("clean sample quality = %.2f, want 1", got.QualityScore)
	}
	wantPower := math.Round(3.7*0.5*1000) / 1000
	if got.Power != wantPower {
		t.Fatalf("derived power = %.3f, want %.3f", got.Power, wantPower)
	}
}

func TestIngestKeepsInvalidSamples(t *testing.T) {
	ing := New(DefaultBounds(), 16, nil, nil, zerolog.Nop())

	bad := goodSample(0)
	bad.Voltage = 9.9
	got := ing.Ingest(context.Background(), bad)
	if got.Valid {
		t.Fatal("out-of-range voltage should mark the sample invalid")
	}
	if got.QualityScore >= 1 {
		t.Fatalf("quality should be degraded, got %.2f", got.QualityScore)
	}

	// invalid samples are buffered, not dropped
	if n := ing.BufferLen("B1"); n != 1 {
		t.Fatalf("buffer length = %d, want 1", n)
	}
	if got := ing.Recent("B1", 10); len(got) != 0 {
		t.Fatalf("Recent should filter invalid samples, got %d", len(got))
	}
	if got := ing.RecentAll("B1", 10); len(got) != 1 {
		t.Fatalf("RecentAll should keep invalid samples, got %d", len(got))
	}
}

func TestIngestStatsCount(t *testing.T) {
	ing := New(DefaultBounds(), 16, nil, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		ing.Ingest(context.Background(), goodSample(i))
	}
	bad := goodSample(5)
	bad.Capacity = 130
	bad.Voltage = 5.0
	ing.Ingest(context.Background(), bad)

	st := ing.Stats()
	if st.TotalSamples != 6 {
		t.Fatalf("total = %d, want 6", st.TotalSamples)
	}
	if st.ValidSamples != 5 {
		t.Fatalf("valid = %d, want 5", st.ValidSamples)
	}
	if st.InvalidSamples != 1 {
		t.Fatalf("invalid = %d, want 1", st.InvalidSamples)
	}
	if st.LastUpdate.IsZero() {
		t.Fatal("last update should be set")
	}
}

func TestDownsampleBuckets(t *testing.T) {
	ing := New(DefaultBounds(), 256, nil, nil, zerolog.Nop())

	for i := 0; i < 120; i++ {
		s := goodSample(i)
		s.Voltage = 3.5 + 0.001*float64(i)
		ing.Ingest(context.Background(), s)
	}

	from := goodSample(0).Timestamp
	to := goodSample(120).Timestamp
	aggs := ing.Downsample("B1", from, to, time.Minute)
	if len(aggs) != 2 {
		t.Fatalf("expected 2 one-minute buckets, got %d", len(aggs))
	}
	first := aggs[0]
	if first.SampleCount != 60 {
		t.Fatalf("first bucket has %d samples, want 60", first.SampleCount)
	}
	if first.Voltage.Min > first.Voltage.Avg || first.Voltage.Avg > first.Voltage.Max {
		t.Fatalf("aggregate ordering violated: %+v", first.Voltage)
	}
	if first.Voltage.Std <= 0 {
		t.Fatal("rising voltage should have nonzero std")
	}
}
