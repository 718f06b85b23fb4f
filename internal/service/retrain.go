package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batterywatch/internal/anomaly"
	"batterywatch/internal/degradation"
	"batterywatch/internal/features"
	"batterywatch/internal/telemetry"
)

const (
	modelAnomaly     = "anomaly"
	modelDegradation = "degradation"

	defaultRetrainPeriodDays = 7
	minRetrainGap            = time.Hour
)

type retrainRequest struct {
	anomaly     bool
	degradation bool
	period      time.Duration
	force       bool
}

func (s *Service) validateRetrain(cmd Command) (retrainRequest, error) {
	req := retrainRequest{force: cmd.Force}

	if len(cmd.ModelTypes) == 0 {
		req.anomaly = true
		req.degradation = true
	}
	for _, mt := range cmd.ModelTypes {
		switch mt {
		case modelAnomaly:
			req.anomaly = true
		case modelDegradation:
			req.degradation = true
		default:
			return retrainRequest{}, fmt.Errorf("%w: unknown model type %q", ErrInvalidCommand, mt)
		}
	}

	days := cmd.PeriodDays
	if days == 0 {
		days = defaultRetrainPeriodDays
	}
	if days < 0 {
		return retrainRequest{}, fmt.Errorf("%w: period_days must be positive", ErrInvalidCommand)
	}
	req.period = time.Duration(days) * 24 * time.Hour

	return req, nil
}

// retrain rebuilds the requested models from historical samples. Runs in
// its own goroutine; failures leave the previous models active.
func (s *Service) retrain(ctx context.Context, req retrainRequest) {
	s.retrainMu.Lock()
	defer s.retrainMu.Unlock()

	if !req.force && time.Since(s.lastRetrainAt) < minRetrainGap {
		s.logger.Warn().Time("last_retrain", s.lastRetrainAt).Msg("retrain skipped, too soon since previous run")
		return
	}

	started := time.Now().UTC()
	vectors := s.trainingVectors(ctx, started.Add(-req.period), started)
	s.logger.Info().
		Int("training_vectors", len(vectors)).
		Dur("period", req.period).
		Bool("anomaly", req.anomaly).
		Bool("degradation", req.degradation).
		Msg("retraining models")

	if req.anomaly {
		if err := s.detector.Retrain(vectors); err != nil {
			if errors.Is(err, anomaly.ErrNotEnoughTrainingData) {
				s.logger.Warn().Err(err).Msg("anomaly retrain skipped, previous model kept")
			} else {
				s.logger.Error().Err(err).Msg("anomaly retrain failed")
			}
		} else {
			s.logger.Info().Str("model_version", s.detector.ModelVersion()).Msg("anomaly model retrained")
		}
	}

	if req.degradation {
		if err := s.predictor.Retrain(vectors); err != nil {
			if errors.Is(err, degradation.ErrNotEnoughTrainingData) {
				s.logger.Warn().Err(err).Msg("degradation retrain skipped, previous model kept")
			} else {
				s.logger.Error().Err(err).Msg("degradation retrain failed")
			}
		} else {
			s.logger.Info().Str("model_version", s.predictor.ModelVersion()).Msg("degradation model retrained")
		}
	}

	s.lastRetrainAt = time.Now()
}

// trainingVectors re-extracts feature vectors over sliding windows of
// historical samples, preferring the durable store over the in-memory
// buffers when one is configured.
func (s *Service) trainingVectors(ctx context.Context, from, to time.Time) []features.Vector {
	window := s.cfg.Features.WindowSize
	stride := window / 4
	if stride < 1 {
		stride = 1
	}

	var vectors []features.Vector
	for _, id := range s.order {
		samples := s.historicalSamples(ctx, id, from, to)
		for start := 0; start+window <= len(samples); start += stride {
			vec, err := s.extractor.Extract(samples[start : start+window])
			if err != nil {
				continue
			}
			vectors = append(vectors, vec)
		}
	}
	return vectors
}

func (s *Service) historicalSamples(ctx context.Context, batteryID string, from, to time.Time) []telemetry.Sample {
	if s.store != nil {
		samples, err := s.store.ListSamples(ctx, batteryID, from, to)
		if err != nil {
			s.logger.Error().Err(err).Str("battery_id", batteryID).Msg("failed to load training samples, falling back to buffer")
		} else if len(samples) > 0 {
			return filterValid(samples)
		}
	}
	return filterValid(s.ingestor.Range(batteryID, from, to))
}

func filterValid(samples []telemetry.Sample) []telemetry.Sample {
	out := samples[:0:0]
	for _, smp := range samples {
		if smp.Valid {
			out = append(out, smp)
		}
	}
	return out
}
