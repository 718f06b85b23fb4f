package features

import (
	"errors"
	"math"
	"time"

	"batterywatch/internal/telemetry"
)

// ErrInsufficientData reports a window below the minimum sample count. It is
// an expected outcome, not a fault: callers skip inference for the cycle.
var ErrInsufficientData = errors.New("features: insufficient samples in window")

// MetricStats summarises one metric across the window.
type MetricStats struct {
	Mean         float64
	Std          float64
	Min          float64
	Max          float64
	Slope        float64 // least-squares trend per second
	RateOfChange float64 // (last-first)/elapsed, per second
}

// Vector is the derived numeric summary of one telemetry window.
type Vector struct {
	BatteryID   string
	WindowStart time.Time
	WindowEnd   time.Time
	SampleCount int

	Voltage     MetricStats
	Current     MetricStats
	Temperature MetricStats
	Capacity    MetricStats
	Power       MetricStats
	Resistance  MetricStats

	ResistanceTrend     float64
	CoulombicEfficiency float64
	ChargeRatio         float64
	DischargeRatio      float64
	IdleRatio           float64
	CycleCount          int
}

// Names lists the model input features in their fixed order.
var Names = []string{
	"voltage_mean", "voltage_std", "voltage_slope", "voltage_roc",
	"current_mean", "current_std",
	"temperature_mean", "temperature_std", "temperature_slope",
	"capacity_mean", "capacity_slope",
	"power_mean",
	"resistance_mean", "resistance_trend",
	"coulombic_efficiency",
	"charge_ratio", "discharge_ratio",
}

// Values returns the model inputs in the same order as Names.
func (v Vector) Values() []float64 {
	return []float64{
		v.Voltage.Mean, v.Voltage.Std, v.Voltage.Slope, v.Voltage.RateOfChange,
		v.Current.Mean, v.Current.Std,
		v.Temperature.Mean, v.Temperature.Std, v.Temperature.Slope,
		v.Capacity.Mean, v.Capacity.Slope,
		v.Power.Mean,
		v.Resistance.Mean, v.ResistanceTrend,
		v.CoulombicEfficiency,
		v.ChargeRatio, v.DischargeRatio,
	}
}

// Extractor computes feature vectors from sample windows.
type Extractor struct {
	minSamples int
}

// NewExtractor constructs an Extractor with the given minimum window size.
func NewExtractor(minSamples int) *Extractor {
	if minSamples < 2 {
		minSamples = 2
	}
	return &Extractor{minSamples: minSamples}
}

// Extract computes the feature vector over a window of samples ordered
// oldest first. Returns ErrInsufficientData below the minimum count.
func (e *Extractor) Extract(samples []telemetry.Sample) (Vector, error) {
	if len(samples) < e.minSamples {
		return Vector{}, ErrInsufficientData
	}

	first, last := samples[0], samples[len(samples)-1]
	v := Vector{
		BatteryID:   last.BatteryID,
		WindowStart: first.Timestamp,
		WindowEnd:   last.Timestamp,
		SampleCount: len(samples),
		CycleCount:  last.CycleCount,
	}

	elapsed := make([]float64, len(samples))
	for i, s := range samples {
		elapsed[i] = s.Timestamp.Sub(first.Timestamp).Seconds()
	}

	v.Voltage = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.Voltage })
	v.Current = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.Current })
	v.Temperature = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.Temperature })
	v.Capacity = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.Capacity })
	v.Power = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.Power })
	v.Resistance = metricStats(samples, elapsed, func(s telemetry.Sample) float64 { return s.InternalResistance })
	v.ResistanceTrend = v.Resistance.Slope

	v.CoulombicEfficiency = coulombicEfficiency(samples)
	v.ChargeRatio, v.DischargeRatio, v.IdleRatio = dutyRatios(samples)

	return v, nil
}

func metricStats(samples []telemetry.Sample, elapsed []float64, metric func(telemetry.Sample) float64) MetricStats {
	st := MetricStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, s := range samples {
		val := metric(s)
		sum += val
		st.Min = math.Min(st.Min, val)
		st.Max = math.Max(st.Max, val)
	}
	n := float64(len(samples))
	st.Mean = sum / n

	var sq float64
	for _, s := range samples {
		d := metric(s) - st.Mean
		sq += d * d
	}
	st.Std = math.Sqrt(sq / n)

	st.Slope = leastSquaresSlope(elapsed, samples, metric)

	if span := elapsed[len(elapsed)-1]; span > 0 {
		st.RateOfChange = (metric(samples[len(samples)-1]) - metric(samples[0])) / span
	}
	return st
}

// leastSquaresSlope fits value = a + b*t over the window and returns b.
func leastSquaresSlope(elapsed []float64, samples []telemetry.Sample, metric func(telemetry.Sample) float64) float64 {
	n := float64(len(samples))
	var sumT, sumV, sumTV, sumTT float64
	for i, s := range samples {
		t := elapsed[i]
		val := metric(s)
		sumT += t
		sumV += val
		sumTV += t * val
		sumTT += t * t
	}
	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		return 0
	}
	return (n*sumTV - sumT*sumV) / denom
}

// coulombicEfficiency estimates the ratio of discharge to charge capacity
// throughput across the window. Idle windows report 1.
func coulombicEfficiency(samples []telemetry.Sample) float64 {
	var charge, discharge float64
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		cur := samples[i].Current
		if cur > 0.1 {
			charge += cur * dt
		} else if cur < -0.1 {
			discharge += -cur * dt
		}
	}
	if charge <= 0 {
		return 1
	}
	return math.Min(discharge/charge, 2)
}

func dutyRatios(samples []telemetry.Sample) (charge, discharge, idle float64) {
	var c, d int
	for _, s := range samples {
		switch {
		case s.Current > 0.1:
			c++
		case s.Current < -0.1:
			d++
		}
	}
	n := float64(len(samples))
	charge = float64(c) / n
	discharge = float64(d) / n
	idle = 1 - charge - discharge
	return charge, discharge, idle
}
