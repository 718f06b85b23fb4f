package service

import (
	"context"
	"time"

	"batterywatch/internal/features"
	"batterywatch/internal/simulator"
	"batterywatch/internal/telemetry"
)

// Bootstrap fits initial models from a synthetic shakedown run so the
// pipeline can predict before any real history accumulates. Seeds are
// offset from the fleet's so the training traces differ from live ones.
func (s *Service) Bootstrap(ctx context.Context) error {
	window := s.cfg.Features.WindowSize
	stride := window / 4
	if stride < 1 {
		stride = 1
	}

	minTrain := s.cfg.Anomaly.RetrainMinSamples
	if s.cfg.Degradation.RetrainMinSamples > minTrain {
		minTrain = s.cfg.Degradation.RetrainMinSamples
	}

	fleetSize := len(s.cfg.Fleet)
	if fleetSize == 0 {
		return nil
	}
	ticks := window + stride*(minTrain/fleetSize+1)

	var vectors []features.Vector
	base := time.Now().UTC().Add(-24 * time.Hour)
	for _, bc := range s.cfg.Fleet {
		if err := ctx.Err(); err != nil {
			return err
		}

		scratch := simulator.New(simulator.Options{
			ID:              bc.ID,
			NominalCapacity: bc.NominalCapacity,
			NominalVoltage:  bc.NominalVoltage,
			Seed:            bc.Seed + 7919,
		})

		trace := make([]telemetry.Sample, 0, ticks)
		for i := 0; i < ticks; i++ {
			at := base.Add(time.Duration(i) * s.cfg.Pipeline.TickInterval)
			smp, ok := scratch.Next(bc.ID, at)
			if !ok {
				break
			}
			trace = append(trace, smp)
		}

		for start := 0; start+window <= len(trace); start += stride {
			vec, err := s.extractor.Extract(trace[start : start+window])
			if err != nil {
				continue
			}
			vectors = append(vectors, vec)
		}
	}

	s.logger.Info().Int("training_vectors", len(vectors)).Msg("bootstrapping models from synthetic run")

	if err := s.detector.Retrain(vectors); err != nil {
		return err
	}
	if err := s.predictor.Retrain(vectors); err != nil {
		return err
	}
	return nil
}
