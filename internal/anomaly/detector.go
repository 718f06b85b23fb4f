package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/features"
)

var (
	// ErrModelUnavailable means no model has been trained yet.
	ErrModelUnavailable = errors.New("anomaly: no trained model")
	// ErrNotEnoughTrainingData marks a recoverable retrain failure; the
	// previous model stays active.
	ErrNotEnoughTrainingData = errors.New("anomaly: not enough training examples")
)

// featureGroups attributes score contributions to diagnosable tags.
var featureGroups = map[string][]string{
	"voltage_drift":            {"voltage_mean", "voltage_slope"},
	"voltage_instability":      {"voltage_std", "voltage_roc"},
	"capacity_fade":            {"capacity_mean", "capacity_slope", "coulombic_efficiency"},
	"thermal_anomaly":          {"temperature_mean", "temperature_std", "temperature_slope"},
	"internal_short_signature": {"current_mean", "current_std"},
	"resistance_rise":          {"resistance_mean", "resistance_trend"},
}

// model is an immutable per-feature robust baseline. Readers hold one
// reference for the duration of a call; retrain publishes a fresh instance.
type model struct {
	version   string
	trainedAt time.Time
	examples  int
	center    []float64 // per-feature median
	scale     []float64 // per-feature MAD-derived spread
}

// Result carries an anomaly score with per-group attribution. Scores are
// unbounded and non-negative; higher means more anomalous.
type Result struct {
	Score       float64
	Flags       []string
	GroupScores map[string]float64
}

// Detector scores feature vectors against a trained baseline.
type Detector struct {
	active       atomic.Pointer[model]
	generation   atomic.Int64
	tagThreshold float64
	minTrain     int
	logger       zerolog.Logger
}

// Options configure the detector.
type Options struct {
	TagThreshold      float64
	RetrainMinSamples int
}

// NewDetector constructs an untrained Detector.
func NewDetector(opts Options, logger zerolog.Logger) *Detector {
	if opts.TagThreshold <= 0 {
		opts.TagThreshold = 3
	}
	if opts.RetrainMinSamples <= 0 {
		opts.RetrainMinSamples = 100
	}
	return &Detector{
		tagThreshold: opts.TagThreshold,
		minTrain:     opts.RetrainMinSamples,
		logger:       logger.With().Str("component", "anomaly_detector").Logger(),
	}
}

// Trained reports whether an active model exists.
func (d *Detector) Trained() bool { return d.active.Load() != nil }

// ModelVersion returns the active model version, or empty when untrained.
func (d *Detector) ModelVersion() string {
	if m := d.active.Load(); m != nil {
		return m.version
	}
	return ""
}

// Score evaluates one feature vector. The returned score is the mean
// absolute robust z-score across features; tags fire where a feature
// group's peak deviation exceeds the configured threshold.
func (d *Detector) Score(v features.Vector) (Result, error) {
	m := d.active.Load()
	if m == nil {
		return Result{}, ErrModelUnavailable
	}

	values := v.Values()
	zs := make(map[string]float64, len(values))
	var total float64
	for i, name := range features.Names {
		z := math.Abs(values[i]-m.center[i]) / m.scale[i]
		zs[name] = z
		total += z
	}
	score := total / float64(len(values))

	result := Result{
		Score:       score,
		GroupScores: make(map[string]float64, len(featureGroups)),
	}
	for group, members := range featureGroups {
		var peak float64
		for _, name := range members {
			peak = math.Max(peak, zs[name])
		}
		result.GroupScores[group] = peak
		if peak > d.tagThreshold {
			result.Flags = append(result.Flags, group)
		}
	}
	sort.Strings(result.Flags)
	return result, nil
}

// Retrain refits the baseline from historical feature vectors and atomically
// swaps the active model. With fewer than the minimum examples it fails
// recoverably and leaves the previous model in place.
func (d *Detector) Retrain(vectors []features.Vector) error {
	if len(vectors) < d.minTrain {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughTrainingData, len(vectors), d.minTrain)
	}

	count := len(features.Names)
	columns := make([][]float64, count)
	for i := range columns {
		columns[i] = make([]float64, 0, len(vectors))
	}
	for _, v := range vectors {
		for i, val := range v.Values() {
			columns[i] = append(columns[i], val)
		}
	}

	next := &model{
		version:   fmt.Sprintf("baseline-v%d", d.generation.Add(1)),
		trainedAt: time.Now().UTC(),
		examples:  len(vectors),
		center:    make([]float64, count),
		scale:     make([]float64, count),
	}
	for i, col := range columns {
		med := median(col)
		next.center[i] = med
		next.scale[i] = robustScale(col, med)
	}

	d.active.Store(next)
	d.logger.Info().
		Str("model_version", next.version).
		Int("examples", next.examples).
		Msg("anomaly baseline retrained")
	return nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// robustScale converts the median absolute deviation into a stddev-like
// spread, floored so constant features cannot blow up the score.
func robustScale(values []float64, med float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	mad := median(devs)
	scale := 1.4826 * mad
	floor := math.Max(1e-6, math.Abs(med)*1e-3)
	return math.Max(scale, floor)
}
