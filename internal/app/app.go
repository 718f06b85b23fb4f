package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/alerting"
	"batterywatch/internal/anomaly"
	"batterywatch/internal/broadcast"
	"batterywatch/internal/config"
	"batterywatch/internal/degradation"
	"batterywatch/internal/features"
	"batterywatch/internal/ingest"
	"batterywatch/internal/logging"
	"batterywatch/internal/scheduler"
	"batterywatch/internal/service"
	"batterywatch/internal/simulator"
	"batterywatch/internal/storage"
	"batterywatch/internal/telemetry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) fleetConfig() []config.BatteryConfig {
	if len(a.Config.Fleet) > 0 {
		return a.Config.Fleet
	}
	return config.DefaultFleet()
}

// fleetBatteries exposes the configured fleet as reference records.
func (a *App) fleetBatteries() []telemetry.Battery {
	cfg := a.fleetConfig()
	out := make([]telemetry.Battery, 0, len(cfg))
	for _, b := range cfg {
		out = append(out, telemetry.Battery{
			ID:              b.ID,
			Model:           b.Model,
			NominalCapacity: b.NominalCapacity,
			NominalVoltage:  b.NominalVoltage,
			Location:        b.Location,
			Status:          telemetry.StatusActive,
		})
	}
	return out
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// pipeline groups the assembled components behind one handle.
type pipeline struct {
	fleet    *simulator.Fleet
	gateway  *broadcast.Gateway
	svc      *service.Service
	alerts   *alerting.Engine
	ingestor *ingest.Ingestor
}

// buildPipeline wires the full stage chain. store may be nil for an
// in-memory run.
func (a *App) buildPipeline(store *storage.Store) *pipeline {
	cfg := a.Config
	if len(cfg.Fleet) == 0 {
		cfg.Fleet = config.DefaultFleet()
	}

	batteryIDs := make([]string, 0, len(cfg.Fleet))
	fleetOpts := make([]simulator.Options, 0, len(cfg.Fleet))
	for _, b := range cfg.Fleet {
		batteryIDs = append(batteryIDs, b.ID)
		fleetOpts = append(fleetOpts, simulator.Options{
			ID:              b.ID,
			NominalCapacity: b.NominalCapacity,
			NominalVoltage:  b.NominalVoltage,
			Seed:            b.Seed,
		})
	}

	var persister telemetry.Persister
	if store != nil {
		persister = store
	}

	fleet := simulator.NewFleet(fleetOpts)
	gateway := broadcast.NewGateway(cfg.Broadcast.QueueSize, a.Logger)
	ingestor := ingest.New(ingest.DefaultBounds(), cfg.Pipeline.BufferSize, persister, gateway, a.Logger)
	extractor := features.NewExtractor(cfg.Features.MinSamples)

	detector := anomaly.NewDetector(anomaly.Options{
		TagThreshold:      cfg.Anomaly.TagThreshold,
		RetrainMinSamples: cfg.Anomaly.RetrainMinSamples,
	}, a.Logger)

	predictor := degradation.NewPredictor(degradation.Options{
		Bands: degradation.Bands{
			WarningHealth:   cfg.Degradation.WarningHealth,
			CriticalHealth:  cfg.Degradation.CriticalHealth,
			DangerHealth:    cfg.Degradation.DangerHealth,
			EndOfLifeHealth: cfg.Degradation.EndOfLifeHealth,
			AnomalyWarning:  cfg.Anomaly.TagThreshold,
			AnomalyCritical: cfg.Anomaly.DangerScore,
		},
		RetrainMinSamples: cfg.Degradation.RetrainMinSamples,
	}, a.Logger)

	evaluators := []alerting.Evaluator{
		alerting.NewThresholdEvaluator(alerting.Thresholds{
			VoltageMin:     cfg.Thresholds.VoltageMin,
			VoltageMax:     cfg.Thresholds.VoltageMax,
			CurrentMax:     cfg.Thresholds.CurrentMax,
			TemperatureMax: cfg.Thresholds.TemperatureMax,
			CapacityMin:    cfg.Thresholds.CapacityMin,
		}),
		alerting.NewModelEvaluator(cfg.Anomaly.TagThreshold, cfg.Anomaly.DangerScore),
	}

	engine := alerting.NewEngine(alerting.Options{
		Cooldown:    cfg.Alerting.Cooldown,
		AutoResolve: cfg.Alerting.AutoResolve,
	}, evaluators, gateway, persister, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval: cfg.Pipeline.TickInterval,
	}, a.Logger)

	svc := service.New(cfg, batteryIDs, service.Dependencies{
		Scheduler: sched,
		Source:    fleet,
		Injector:  fleet,
		Ingestor:  ingestor,
		Extractor: extractor,
		Detector:  detector,
		Predictor: predictor,
		Alerts:    engine,
		Gateway:   gateway,
		Store:     persister,
	}, a.Logger)

	return &pipeline{fleet: fleet, gateway: gateway, svc: svc, alerts: engine, ingestor: ingestor}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else if count, countErr := store.CountSamples(ctx); countErr == nil {
		a.Logger.Info().Int64("stored_samples", count).Msg("database connected")
	}
	if closeStore != nil {
		defer closeStore()
	}

	p := a.buildPipeline(store)

	if err := p.svc.Bootstrap(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("model bootstrap failed; predictions withheld until retrain")
	}

	batteries := a.fleetBatteries()
	for _, b := range batteries {
		a.Logger.Debug().
			Str("battery_id", b.ID).
			Str("model", b.Model).
			Str("location", b.Location).
			Float64("nominal_capacity_ah", b.NominalCapacity).
			Msg("battery registered")
	}
	a.Logger.Info().Int("batteries", len(batteries)).Msg("starting monitoring service")
	err = p.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	BatteryID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the offline demo run.
type SimulateOptions struct {
	Ticks    int
	Scenario string
	Battery  string
}
