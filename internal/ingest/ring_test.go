package ingest

import (
	"testing"
	"time"

	"batterywatch/internal/telemetry"
)

func tsSample(id string, i int) telemetry.Sample {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return telemetry.Sample{
		BatteryID: id,
		Timestamp: base.Add(time.Duration(i) * time.Second),
		Voltage:   3.7,
		Valid:     true,
	}
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	r := newRing(4)
	for i := 0; i < 10; i++ {
		r.append(tsSample("B1", i))
	}

	if got := r.len(); got != 4 {
		t.Fatalf("ring should stay bounded at 4, got %d", got)
	}

	snap := r.snapshot()
	if len(snap) != 4 {
		t.Fatalf("snapshot length = %d, want 4", len(snap))
	}
	for i, s := range snap {
		want := tsSample("B1", 6+i).Timestamp
		if !s.Timestamp.Equal(want) {
			t.Fatalf("snapshot[%d] = %v, want %v (oldest first)", i, s.Timestamp, want)
		}
	}
}

func TestRingLatestFiltersInvalid(t *testing.T) {
	r := newRing(8)
	for i := 0; i < 6; i++ {
		s := tsSample("B1", i)
		s.Valid = i%2 == 0
		r.append(s)
	}

	valid := r.latest(10, true)
	if len(valid) != 3 {
		t.Fatalf("expected 3 valid samples, got %d", len(valid))
	}
	all := r.latest(10, false)
	if len(all) != 6 {
		t.Fatalf("expected 6 samples without filter, got %d", len(all))
	}
	if !all[0].Timestamp.Before(all[5].Timestamp) {
		t.Fatal("latest should return samples oldest first")
	}
}

func TestRingBetweenHalfOpen(t *testing.T) {
	r := newRing(16)
	for i := 0; i < 10; i++ {
		r.append(tsSample("B1", i))
	}

	from := tsSample("B1", 2).Timestamp
	to := tsSample("B1", 7).Timestamp
	got := r.between(from, to)
	if len(got) != 5 {
		t.Fatalf("between returned %d samples, want 5", len(got))
	}
	if !got[0].Timestamp.Equal(from) {
		t.Fatal("between should include the from bound")
	}
	if got[len(got)-1].Timestamp.Equal(to) {
		t.Fatal("between should exclude the to bound")
	}
}
