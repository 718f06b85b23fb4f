package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file should fail")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.App.Name != "batterywatch" {
		t.Fatalf("app name = %s, want batterywatch", cfg.App.Name)
	}
	if cfg.Pipeline.TickInterval != time.Second {
		t.Fatalf("tick interval = %v, want 1s", cfg.Pipeline.TickInterval)
	}
	if cfg.Pipeline.BufferSize != 2880 {
		t.Fatalf("buffer size = %d, want 2880", cfg.Pipeline.BufferSize)
	}
	if cfg.Thresholds.VoltageMax != 4.2 {
		t.Fatalf("voltage max = %.2f, want 4.2", cfg.Thresholds.VoltageMax)
	}
	if cfg.Thresholds.TemperatureMax != 60 {
		t.Fatalf("temperature max = %.0f, want 60", cfg.Thresholds.TemperatureMax)
	}
	if cfg.Alerting.Cooldown != 5*time.Minute {
		t.Fatalf("cooldown = %v, want 5m", cfg.Alerting.Cooldown)
	}
	if !cfg.Alerting.AutoResolve {
		t.Fatal("auto resolve should default on")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"pipeline:",
		"  tick_interval: 250ms",
		"thresholds:",
		"  voltage_max: 4.1",
		"fleet:",
		"  - id: CELL_A",
		"    nominal_capacity: 2.5",
		"    nominal_voltage: 3.7",
		"    seed: 11",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Pipeline.TickInterval != 250*time.Millisecond {
		t.Fatalf("tick interval = %v, want 250ms", cfg.Pipeline.TickInterval)
	}
	if cfg.Thresholds.VoltageMax != 4.1 {
		t.Fatalf("voltage max = %.2f, want 4.1", cfg.Thresholds.VoltageMax)
	}
	if len(cfg.Fleet) != 1 || cfg.Fleet[0].ID != "CELL_A" || cfg.Fleet[0].Seed != 11 {
		t.Fatalf("fleet not decoded: %+v", cfg.Fleet)
	}
	// untouched keys keep their defaults
	if cfg.Pipeline.BufferSize != 2880 {
		t.Fatalf("buffer size = %d, want default 2880", cfg.Pipeline.BufferSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Pipeline.TickInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero tick interval should fail validation")
	}

	cfg = base()
	cfg.Features.WindowSize = 5
	cfg.Features.MinSamples = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("window smaller than min samples should fail validation")
	}

	cfg = base()
	cfg.Thresholds.VoltageMin = 4.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted voltage bounds should fail validation")
	}

	cfg = base()
	cfg.Degradation.DangerHealth = 90
	if err := cfg.Validate(); err == nil {
		t.Fatal("unordered risk bands should fail validation")
	}

	cfg = base()
	cfg.Fleet = []BatteryConfig{{}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("battery without ID should fail validation")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if got := cfg.ResolveMaxPoints(0); got != cfg.Export.MaxDataPoints {
		t.Fatalf("ResolveMaxPoints(0) = %d, want config default %d", got, cfg.Export.MaxDataPoints)
	}
	if got := cfg.ResolveMaxPoints(500); got != 500 {
		t.Fatalf("ResolveMaxPoints(500) = %d, want 500", got)
	}
}
