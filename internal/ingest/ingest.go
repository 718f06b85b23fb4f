package ingest

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/telemetry"
)

// SampleSink receives enriched samples for fan-out. Publishing must never
// block ingestion.
type SampleSink interface {
	PublishTelemetry(s telemetry.Sample)
}

// Stats are running ingestion counters.
type Stats struct {
	TotalSamples   int64
	ValidSamples   int64
	InvalidSamples int64
	LastUpdate     time.Time
}

// Ingestor validates, enriches, and buffers samples per battery.
type Ingestor struct {
	bounds     Bounds
	bufferSize int
	store      telemetry.Persister
	sink       SampleSink
	logger     zerolog.Logger

	mu      sync.RWMutex
	buffers map[string]*ring

	total   atomic.Int64
	valid   atomic.Int64
	lastUpd atomic.Int64 // unix nanos
}

// New constructs an Ingestor. store and sink may be nil.
func New(bounds Bounds, bufferSize int, store telemetry.Persister, sink SampleSink, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		bounds:     bounds,
		bufferSize: bufferSize,
		store:      store,
		sink:       sink,
		logger:     logger.With().Str("component", "ingestor").Logger(),
		buffers:    make(map[string]*ring),
	}
}

// Ingest enriches and records one raw sample, returning the stored form.
// Out-of-range samples are marked invalid, never dropped.
func (i *Ingestor) Ingest(ctx context.Context, raw telemetry.Sample) telemetry.Sample {
	s := raw
	if s.Power == 0 {
		s.Power = round3(s.Voltage * math.Abs(s.Current))
	}

	valid, quality, problems := i.bounds.validate(s)
	s.Valid = valid
	s.QualityScore = quality
	if len(problems) > 0 {
		i.logger.Warn().
			Str("battery_id", s.BatteryID).
			Strs("problems", problems).
			Float64("quality_score", quality).
			Msg("sample failed validation checks")
	}

	i.buffer(s.BatteryID).append(s)

	i.total.Add(1)
	if valid {
		i.valid.Add(1)
	}
	i.lastUpd.Store(s.Timestamp.UnixNano())

	if i.sink != nil {
		i.sink.PublishTelemetry(s)
	}
	if i.store != nil {
		// fire and forget; persistence failure never aborts ingestion
		if err := i.store.InsertSample(ctx, s); err != nil {
			i.logger.Error().Err(err).Str("battery_id", s.BatteryID).Msg("failed to persist sample")
		}
	}

	return s
}

// Recent returns up to n most-recent valid samples for a battery, oldest
// first.
func (i *Ingestor) Recent(batteryID string, n int) []telemetry.Sample {
	return i.buffer(batteryID).latest(n, true)
}

// RecentAll is Recent without the validity filter.
func (i *Ingestor) RecentAll(batteryID string, n int) []telemetry.Sample {
	return i.buffer(batteryID).latest(n, false)
}

// Range returns buffered samples with from <= ts < to.
func (i *Ingestor) Range(batteryID string, from, to time.Time) []telemetry.Sample {
	return i.buffer(batteryID).between(from, to)
}

// BufferLen reports the number of buffered samples for a battery.
func (i *Ingestor) BufferLen(batteryID string) int {
	return i.buffer(batteryID).len()
}

// Stats returns the running counters.
func (i *Ingestor) Stats() Stats {
	total := i.total.Load()
	valid := i.valid.Load()
	var last time.Time
	if ns := i.lastUpd.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Stats{
		TotalSamples:   total,
		ValidSamples:   valid,
		InvalidSamples: total - valid,
		LastUpdate:     last,
	}
}

func (i *Ingestor) buffer(batteryID string) *ring {
	i.mu.RLock()
	r, ok := i.buffers[batteryID]
	i.mu.RUnlock()
	if ok {
		return r
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if r, ok = i.buffers[batteryID]; ok {
		return r
	}
	r = newRing(i.bufferSize)
	i.buffers[batteryID] = r
	return r
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
