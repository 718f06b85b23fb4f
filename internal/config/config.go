package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"batterywatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Thresholds  ThresholdConfig   `mapstructure:"thresholds"`
	Features    FeatureConfig     `mapstructure:"features"`
	Anomaly     AnomalyConfig     `mapstructure:"anomaly"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Fleet       []BatteryConfig   `mapstructure:"fleet"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps
// the pipeline running purely from in-memory buffers.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PipelineConfig governs the per-battery tick cadence and buffering.
type PipelineConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	BufferSize    int           `mapstructure:"buffer_size"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// ThresholdConfig holds the physical alert bounds.
type ThresholdConfig struct {
	VoltageMin     float64 `mapstructure:"voltage_min"`
	VoltageMax     float64 `mapstructure:"voltage_max"`
	CurrentMax     float64 `mapstructure:"current_max"`
	TemperatureMax float64 `mapstructure:"temperature_max"`
	CapacityMin    float64 `mapstructure:"capacity_min"`
}

// FeatureConfig sizes the extraction window.
type FeatureConfig struct {
	WindowSize int `mapstructure:"window_size"`
	MinSamples int `mapstructure:"min_samples"`
}

// AnomalyConfig tunes the outlier model.
type AnomalyConfig struct {
	TagThreshold      float64 `mapstructure:"tag_threshold"`
	RetrainMinSamples int     `mapstructure:"retrain_min_samples"`
	DangerScore       float64 `mapstructure:"danger_score"`
}

// DegradationConfig tunes the health model and risk banding.
type DegradationConfig struct {
	RetrainMinSamples int     `mapstructure:"retrain_min_samples"`
	WarningHealth     float64 `mapstructure:"warning_health"`
	CriticalHealth    float64 `mapstructure:"critical_health"`
	DangerHealth      float64 `mapstructure:"danger_health"`
	EndOfLifeHealth   float64 `mapstructure:"end_of_life_health"`
}

// AlertingConfig defines dedup behaviour.
type AlertingConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	AutoResolve bool          `mapstructure:"auto_resolve"`
}

// BroadcastConfig sizes per-subscriber queues.
type BroadcastConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// BatteryConfig declares one simulated battery in the fleet.
type BatteryConfig struct {
	ID              string  `mapstructure:"id"`
	Model           string  `mapstructure:"model"`
	NominalCapacity float64 `mapstructure:"nominal_capacity"`
	NominalVoltage  float64 `mapstructure:"nominal_voltage"`
	Location        string  `mapstructure:"location"`
	Seed            int64   `mapstructure:"seed"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults. It can be
// called again at runtime to pick up threshold changes.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BATTERYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "batterywatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("pipeline.tick_interval", "1s")
	v.SetDefault("pipeline.buffer_size", 2880)
	v.SetDefault("pipeline.stats_interval", "30s")

	v.SetDefault("thresholds.voltage_min", 3.0)
	v.SetDefault("thresholds.voltage_max", 4.2)
	v.SetDefault("thresholds.current_max", 3.0)
	v.SetDefault("thresholds.temperature_max", 60.0)
	v.SetDefault("thresholds.capacity_min", 20.0)

	v.SetDefault("features.window_size", 100)
	v.SetDefault("features.min_samples", 20)

	v.SetDefault("anomaly.tag_threshold", 3.0)
	v.SetDefault("anomaly.retrain_min_samples", 100)
	v.SetDefault("anomaly.danger_score", 6.0)

	v.SetDefault("degradation.retrain_min_samples", 100)
	v.SetDefault("degradation.warning_health", 85.0)
	v.SetDefault("degradation.critical_health", 70.0)
	v.SetDefault("degradation.danger_health", 50.0)
	v.SetDefault("degradation.end_of_life_health", 50.0)

	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.auto_resolve", true)

	v.SetDefault("broadcast.queue_size", 64)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Pipeline.TickInterval <= 0 {
		return fmt.Errorf("pipeline.tick_interval must be greater than zero")
	}
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("pipeline.buffer_size must be greater than zero")
	}
	if c.Features.MinSamples <= 1 {
		return fmt.Errorf("features.min_samples must be greater than one")
	}
	if c.Features.WindowSize < c.Features.MinSamples {
		return fmt.Errorf("features.window_size must be at least features.min_samples")
	}
	if c.Thresholds.VoltageMin >= c.Thresholds.VoltageMax {
		return fmt.Errorf("thresholds.voltage_min must be below thresholds.voltage_max")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if !(c.Degradation.DangerHealth < c.Degradation.CriticalHealth &&
		c.Degradation.CriticalHealth < c.Degradation.WarningHealth) {
		return fmt.Errorf("degradation risk bands must be ordered danger < critical < warning")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for i, b := range c.Fleet {
		if b.ID == "" {
			return fmt.Errorf("fleet[%d].id is required", i)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// DefaultFleet supplies a three battery demo fleet when none is configured.
func DefaultFleet() []BatteryConfig {
	return []BatteryConfig{
		{ID: "BATTERY_001", Model: "Li-ion 18650 INR18650-25R", NominalCapacity: 2.5, NominalVoltage: 3.7, Location: "line A-1", Seed: 1},
		{ID: "BATTERY_002", Model: "Li-ion 18650 NCR18650B", NominalCapacity: 3.4, NominalVoltage: 3.7, Location: "line A-2", Seed: 2},
		{ID: "BATTERY_003", Model: "Li-ion pouch E63", NominalCapacity: 63.0, NominalVoltage: 3.8, Location: "storage B-1", Seed: 3},
	}
}
