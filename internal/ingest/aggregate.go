package ingest

import (
	"math"
	"time"

	"batterywatch/internal/telemetry"
)

// MetricAggregate summarises one metric over a downsampling bucket.
type MetricAggregate struct {
	Min float64
	Max float64
	Avg float64
	Std float64
}

// Aggregate is a fixed-interval downsampling bucket.
type Aggregate struct {
	BatteryID   string
	BucketStart time.Time
	SampleCount int
	Voltage     MetricAggregate
	Current     MetricAggregate
	Temperature MetricAggregate
	Capacity    MetricAggregate
}

// Downsample buckets the samples in [from, to) into fixed intervals with
// min/max/avg/std per metric. Empty buckets are omitted.
func (i *Ingestor) Downsample(batteryID string, from, to time.Time, interval time.Duration) []Aggregate {
	if interval <= 0 {
		return nil
	}
	samples := i.Range(batteryID, from, to)
	if len(samples) == 0 {
		return nil
	}

	grouped := make(map[time.Time][]telemetry.Sample)
	var order []time.Time
	for _, s := range samples {
		bucket := s.Timestamp.Truncate(interval)
		if _, ok := grouped[bucket]; !ok {
			order = append(order, bucket)
		}
		grouped[bucket] = append(grouped[bucket], s)
	}

	out := make([]Aggregate, 0, len(order))
	for _, bucket := range order {
		group := grouped[bucket]
		agg := Aggregate{
			BatteryID:   batteryID,
			BucketStart: bucket,
			SampleCount: len(group),
		}
		agg.Voltage = aggregate(group, func(s telemetry.Sample) float64 { return s.Voltage })
		agg.Current = aggregate(group, func(s telemetry.Sample) float64 { return s.Current })
		agg.Temperature = aggregate(group, func(s telemetry.Sample) float64 { return s.Temperature })
		agg.Capacity = aggregate(group, func(s telemetry.Sample) float64 { return s.Capacity })
		out = append(out, agg)
	}
	return out
}

func aggregate(samples []telemetry.Sample, metric func(telemetry.Sample) float64) MetricAggregate {
	agg := MetricAggregate{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, s := range samples {
		v := metric(s)
		sum += v
		agg.Min = math.Min(agg.Min, v)
		agg.Max = math.Max(agg.Max, v)
	}
	n := float64(len(samples))
	agg.Avg = sum / n

	var sq float64
	for _, s := range samples {
		d := metric(s) - agg.Avg
		sq += d * d
	}
	agg.Std = math.Sqrt(sq / n)
	return agg
}
