package degradation

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/features"
	"batterywatch/internal/telemetry"
)

var (
	// ErrModelUnavailable means no regression has been fitted yet.
	ErrModelUnavailable = errors.New("degradation: no trained model")
	// ErrNotEnoughTrainingData marks a recoverable retrain failure.
	ErrNotEnoughTrainingData = errors.New("degradation: not enough training examples")
)

// Bands hold the externally configured risk boundaries. Health boundaries
// are ordered danger < critical < warning; the anomaly boundaries lift the
// band when the outlier score crosses them.
type Bands struct {
	WarningHealth   float64
	CriticalHealth  float64
	DangerHealth    float64
	EndOfLifeHealth float64
	AnomalyWarning  float64
	AnomalyCritical float64
}

// Estimate is the predictor's output for one inference cycle.
type Estimate struct {
	HealthScore     float64
	DegradationRate float64 // health points per cycle
	RemainingCycles int
	Confidence      float64
	ModelVersion    string
	DataPointsUsed  int
}

// model is an immutable linear health regression over four physically
// motivated inputs: cycle count, mean internal resistance, mean
// temperature, and mean capacity.
type model struct {
	version   string
	trainedAt time.Time
	examples  int
	weights   [5]float64 // intercept + 4 inputs
	rmse      float64
}

func (m *model) predict(in [4]float64) float64 {
	out := m.weights[0]
	for i, v := range in {
		out += m.weights[i+1] * v
	}
	return out
}

// Predictor estimates battery health from feature vectors.
type Predictor struct {
	active     atomic.Pointer[model]
	generation atomic.Int64
	bands      Bands
	minTrain   int
	logger     zerolog.Logger
}

// Options configure the predictor.
type Options struct {
	Bands             Bands
	RetrainMinSamples int
}

// NewPredictor constructs an untrained Predictor.
func NewPredictor(opts Options, logger zerolog.Logger) *Predictor {
	if opts.RetrainMinSamples <= 0 {
		opts.RetrainMinSamples = 100
	}
	return &Predictor{
		bands:    opts.Bands,
		minTrain: opts.RetrainMinSamples,
		logger:   logger.With().Str("component", "degradation_predictor").Logger(),
	}
}

// Trained reports whether an active model exists.
func (p *Predictor) Trained() bool { return p.active.Load() != nil }

// ModelVersion returns the active model version, or empty when untrained.
func (p *Predictor) ModelVersion() string {
	if m := p.active.Load(); m != nil {
		return m.version
	}
	return ""
}

// Predict estimates health, degradation rate, and remaining cycles for one
// feature vector.
func (p *Predictor) Predict(v features.Vector) (Estimate, error) {
	m := p.active.Load()
	if m == nil {
		return Estimate{}, ErrModelUnavailable
	}

	health := clamp(m.predict(inputs(v)), 0, 100)

	cycles := math.Max(float64(v.CycleCount), 1)
	rate := math.Max(0.001, (100-health)/cycles)

	remaining := 0
	if health > p.bands.EndOfLifeHealth {
		remaining = int((health - p.bands.EndOfLifeHealth) / rate)
	}

	confidence := clamp(1-m.rmse/25, 0.1, 0.99)

	return Estimate{
		HealthScore:     health,
		DegradationRate: rate,
		RemainingCycles: remaining,
		Confidence:      confidence,
		ModelVersion:    m.version,
		DataPointsUsed:  v.SampleCount,
	}, nil
}

// RiskLevel maps health and anomaly score jointly onto the four ordered
// bands; the higher of the two classifications wins.
func (p *Predictor) RiskLevel(health, anomalyScore float64) telemetry.RiskLevel {
	fromHealth := telemetry.RiskNormal
	switch {
	case health < p.bands.DangerHealth:
		fromHealth = telemetry.RiskDanger
	case health < p.bands.CriticalHealth:
		fromHealth = telemetry.RiskCritical
	case health < p.bands.WarningHealth:
		fromHealth = telemetry.RiskWarning
	}

	fromAnomaly := telemetry.RiskNormal
	switch {
	case p.bands.AnomalyCritical > 0 && anomalyScore >= p.bands.AnomalyCritical:
		fromAnomaly = telemetry.RiskCritical
	case p.bands.AnomalyWarning > 0 && anomalyScore >= p.bands.AnomalyWarning:
		fromAnomaly = telemetry.RiskWarning
	}

	if fromAnomaly.Rank() > fromHealth.Rank() {
		return fromAnomaly
	}
	return fromHealth
}

// Retrain fits the regression against historical vectors and atomically
// swaps the active model. Health labels come from the degradation curve the
// window itself exposes: cycle wear, resistance growth over the nominal
// 50mΩ, and sustained thermal stress.
func (p *Predictor) Retrain(vectors []features.Vector) error {
	if len(vectors) < p.minTrain {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughTrainingData, len(vectors), p.minTrain)
	}

	rows := make([][4]float64, len(vectors))
	labels := make([]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = inputs(v)
		labels[i] = healthLabel(v)
	}

	weights, err := fitLeastSquares(rows, labels)
	if err != nil {
		return fmt.Errorf("degradation: fit failed: %w", err)
	}

	next := &model{
		version:   fmt.Sprintf("healthreg-v%d", p.generation.Add(1)),
		trainedAt: time.Now().UTC(),
		examples:  len(vectors),
		weights:   weights,
	}

	var sq float64
	for i, row := range rows {
		d := next.predict(row) - labels[i]
		sq += d * d
	}
	next.rmse = math.Sqrt(sq / float64(len(rows)))

	p.active.Store(next)
	p.logger.Info().
		Str("model_version", next.version).
		Int("examples", next.examples).
		Float64("rmse", next.rmse).
		Msg("degradation model retrained")
	return nil
}

func inputs(v features.Vector) [4]float64 {
	return [4]float64{
		float64(v.CycleCount),
		v.Resistance.Mean,
		v.Temperature.Mean,
		v.Capacity.Mean,
	}
}

func healthLabel(v features.Vector) float64 {
	label := 100.0
	label -= 0.01 * float64(v.CycleCount)
	label -= 400 * math.Max(0, v.Resistance.Mean-0.05)
	label -= 0.5 * math.Max(0, v.Temperature.Mean-40)
	return clamp(label, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
