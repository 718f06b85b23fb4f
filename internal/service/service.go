package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/alerting"
	"batterywatch/internal/anomaly"
	"batterywatch/internal/broadcast"
	"batterywatch/internal/config"
	"batterywatch/internal/degradation"
	"batterywatch/internal/features"
	"batterywatch/internal/ingest"
	"batterywatch/internal/scheduler"
	"batterywatch/internal/simulator"
	"batterywatch/internal/telemetry"
)

// ScenarioInjector applies fault overrides to the telemetry source.
type ScenarioInjector interface {
	InjectScenario(batteryID string, s simulator.Scenario, ticks int) error
}

// AnomalyScorer is the outlier model the stage chain scores each cycle.
type AnomalyScorer interface {
	Score(v features.Vector) (anomaly.Result, error)
	Retrain(vectors []features.Vector) error
	ModelVersion() string
}

// HealthPredictor is the degradation model the stage chain queries each cycle.
type HealthPredictor interface {
	Predict(v features.Vector) (degradation.Estimate, error)
	RiskLevel(health, anomalyScore float64) telemetry.RiskLevel
	Retrain(vectors []features.Vector) error
	ModelVersion() string
}

// batteryState is the per-battery prediction cell. Each battery's chain is
// the only writer during its tick; readers take the mutex.
type batteryState struct {
	id string

	mu       sync.Mutex
	lastGood *telemetry.Prediction
}

// Service orchestrates the per-battery ingestion and inference pipeline.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	source    telemetry.Source
	injector  ScenarioInjector
	ingestor  *ingest.Ingestor
	extractor *features.Extractor
	detector  AnomalyScorer
	predictor HealthPredictor
	alerts    *alerting.Engine
	gateway   *broadcast.Gateway
	store     telemetry.Persister
	logger    zerolog.Logger

	collecting atomic.Bool

	// serialises retrain runs; force bypasses the minimum gap
	retrainMu     sync.Mutex
	lastRetrainAt time.Time

	mu        sync.RWMutex
	batteries map[string]*batteryState
	order     []string
}

// Dependencies bundles the service collaborators.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Source    telemetry.Source
	Injector  ScenarioInjector
	Ingestor  *ingest.Ingestor
	Extractor *features.Extractor
	Detector  AnomalyScorer
	Predictor HealthPredictor
	Alerts    *alerting.Engine
	Gateway   *broadcast.Gateway
	Store     telemetry.Persister
}

// New constructs the pipeline service for a fleet of battery IDs.
func New(cfg *config.Config, batteryIDs []string, deps Dependencies, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		scheduler: deps.Scheduler,
		source:    deps.Source,
		injector:  deps.Injector,
		ingestor:  deps.Ingestor,
		extractor: deps.Extractor,
		detector:  deps.Detector,
		predictor: deps.Predictor,
		alerts:    deps.Alerts,
		gateway:   deps.Gateway,
		store:     deps.Store,
		logger:    logger.With().Str("component", "service").Logger(),
		batteries: make(map[string]*batteryState, len(batteryIDs)),
		order:     append([]string(nil), batteryIDs...),
	}
	for _, id := range batteryIDs {
		s.batteries[id] = &batteryState{id: id}
	}
	s.collecting.Store(true)
	return s
}

// Run begins the tick loop and the periodic stats emitter.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	if s.cfg.Pipeline.StatsInterval > 0 && s.gateway != nil {
		go s.statsLoop(ctx)
	}

	return s.scheduler.Run(ctx, s.Tick)
}

// Tick runs one cadence cycle: every battery's chain executes concurrently
// with the others, sequentially within itself.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	if !s.collecting.Load() {
		return nil
	}

	s.mu.RLock()
	batteries := make([]*batteryState, 0, len(s.order))
	for _, id := range s.order {
		batteries = append(batteries, s.batteries[id])
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range batteries {
		wg.Add(1)
		go func(b *batteryState) {
			defer wg.Done()
			s.runChain(ctx, b, now)
		}(b)
	}
	wg.Wait()
	return nil
}

// runChain executes one battery's stage chain for one tick. A fault in one
// battery's chain never propagates to the others.
func (s *Service) runChain(ctx context.Context, b *batteryState, now time.Time) {
	raw, ok := s.source.Next(b.id, now)
	if !ok {
		return
	}

	sample := s.ingestor.Ingest(ctx, raw)

	window := s.ingestor.Recent(b.id, s.cfg.Features.WindowSize)
	vector, err := s.extractor.Extract(window)

	var prediction *telemetry.Prediction
	switch {
	case errors.Is(err, features.ErrInsufficientData):
		// expected while the buffer warms up; skip inference this cycle
		s.logger.Debug().Str("battery_id", b.id).Int("window", len(window)).Msg("insufficient data, inference skipped")
	case err != nil:
		s.logger.Error().Err(err).Str("battery_id", b.id).Msg("feature extraction failed")
	default:
		prediction = s.inferAndPublish(ctx, b, vector, now)
	}

	// the prior cycle's good prediction must be captured before this
	// cycle's result overwrites it; the evaluators compare the two
	b.mu.Lock()
	previous := b.lastGood
	if prediction != nil && !prediction.Stale && !prediction.Degraded {
		b.lastGood = prediction
	}
	b.mu.Unlock()

	s.alerts.Process(ctx, alerting.Input{
		Sample:     sample,
		Prediction: prediction,
		Previous:   previous,
	}, now)
}

// inferAndPublish runs both models over the feature vector. Model faults
// are caught at the call boundary and degrade to the last good prediction.
func (s *Service) inferAndPublish(ctx context.Context, b *batteryState, vector features.Vector, now time.Time) *telemetry.Prediction {
	prediction, err := s.infer(vector, now)
	if err != nil {
		if errors.Is(err, anomaly.ErrModelUnavailable) || errors.Is(err, degradation.ErrModelUnavailable) {
			// predictions withheld until a model exists; last known good
			// stays visible flagged stale
			return s.staleCopy(b)
		}
		s.logger.Error().Err(err).Str("battery_id", b.id).Msg("inference fault, reusing last good prediction")
		return s.degradedCopy(b)
	}

	if s.gateway != nil {
		s.gateway.PublishPrediction(prediction)
	}
	if s.store != nil {
		if insErr := s.store.InsertPrediction(ctx, prediction); insErr != nil {
			s.logger.Error().Err(insErr).Str("battery_id", b.id).Msg("failed to persist prediction")
		}
	}
	return &prediction
}

// infer produces one Prediction. Panics inside a model call surface as
// errors so one battery's fault never halts the tick loop.
func (s *Service) infer(vector features.Vector, now time.Time) (prediction telemetry.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference fault: %v", r)
		}
	}()

	result, err := s.detector.Score(vector)
	if err != nil {
		return telemetry.Prediction{}, err
	}

	estimate, err := s.predictor.Predict(vector)
	if err != nil {
		return telemetry.Prediction{}, err
	}

	prediction = telemetry.Prediction{
		BatteryID:       vector.BatteryID,
		CreatedAt:       now,
		RiskLevel:       s.predictor.RiskLevel(estimate.HealthScore, result.Score),
		ConfidenceScore: estimate.Confidence,
		HealthScore:     estimate.HealthScore,
		DegradationRate: estimate.DegradationRate,
		RemainingCycles: estimate.RemainingCycles,
		AnomalyScore:    result.Score,
		AnomalyFlags:    result.Flags,
		ModelVersion:    estimate.ModelVersion,
		DataPointsUsed:  estimate.DataPointsUsed,
	}

	if estimate.RemainingCycles > 0 {
		failureAt := now.Add(time.Duration(float64(estimate.RemainingCycles) * float64(averageCycleDuration(vector))))
		prediction.PredictedFailureAt = &failureAt
	}

	return prediction, nil
}

// averageCycleDuration derives a cycle pace from the window, falling back
// to the one-cycle-per-hour duty the fleet is modelled on.
func averageCycleDuration(v features.Vector) time.Duration {
	const fallback = time.Hour
	span := v.WindowEnd.Sub(v.WindowStart)
	if span <= 0 {
		return fallback
	}
	// cycle progression over the window via the capacity slope is too noisy;
	// the discharge duty ratio gives a steadier estimate
	if v.DischargeRatio <= 0 {
		return fallback
	}
	estimated := time.Duration(float64(time.Hour) / v.DischargeRatio)
	if estimated <= 0 || estimated > 24*time.Hour {
		return fallback
	}
	return estimated
}

func (s *Service) staleCopy(b *batteryState) *telemetry.Prediction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastGood == nil {
		return nil
	}
	cp := *b.lastGood
	cp.Stale = true
	return &cp
}

func (s *Service) degradedCopy(b *batteryState) *telemetry.Prediction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastGood == nil {
		return nil
	}
	cp := *b.lastGood
	cp.Degraded = true
	return &cp
}

// CurrentPrediction returns the last good prediction for a battery.
func (s *Service) CurrentPrediction(batteryID string) (telemetry.Prediction, bool) {
	s.mu.RLock()
	b, ok := s.batteries[batteryID]
	s.mu.RUnlock()
	if !ok {
		return telemetry.Prediction{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastGood == nil {
		return telemetry.Prediction{}, false
	}
	return *b.lastGood, true
}

// Collecting reports whether the tick loop is processing batteries.
func (s *Service) Collecting() bool { return s.collecting.Load() }

func (s *Service) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Pipeline.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st := s.ingestor.Stats()
			s.gateway.PublishStats(broadcast.FleetStats{
				At:             now.UTC(),
				Batteries:      len(s.order),
				TotalSamples:   st.TotalSamples,
				ValidSamples:   st.ValidSamples,
				InvalidSamples: st.InvalidSamples,
				ActiveAlerts:   s.alerts.ActiveCount(),
			})
		}
	}
}
