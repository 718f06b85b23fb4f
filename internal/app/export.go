package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"batterywatch/internal/telemetry"
)

// Export renders one battery's telemetry history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.BatteryID == "" {
		return errors.New("--battery is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Pipeline.TickInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamples(ctx, opts.BatteryID, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("battery_id", opts.BatteryID).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.BatteryID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []telemetry.Sample, max int) []telemetry.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]telemetry.Sample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []telemetry.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ts", "battery_id", "voltage", "current", "temperature", "capacity", "power", "internal_resistance", "cycle_count", "is_charging", "is_valid", "quality_score"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			s.Timestamp.Format(time.RFC3339),
			s.BatteryID,
			formatFloat(s.Voltage),
			formatFloat(s.Current),
			formatFloat(s.Temperature),
			formatFloat(s.Capacity),
			formatFloat(s.Power),
			formatFloat(s.InternalResistance),
			strconv.Itoa(s.CycleCount),
			strconv.FormatBool(s.IsCharging),
			strconv.FormatBool(s.Valid),
			formatFloat(s.QualityScore),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, batteryID string, samples []telemetry.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	voltage := make([]float64, len(samples))
	temperature := make([]float64, len(samples))
	capacity := make([]float64, len(samples))

	for i, s := range samples {
		x[i] = s.Timestamp
		voltage[i] = s.Voltage
		temperature[i] = s.Temperature
		capacity[i] = s.Capacity
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  batteryID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Voltage (V) / Temperature (C)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Capacity (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Voltage",
				XValues: x,
				YValues: voltage,
			},
			chart.TimeSeries{
				Name:    "Temperature",
				XValues: x,
				YValues: temperature,
			},
			chart.TimeSeries{
				Name:    "Capacity %",
				XValues: x,
				YValues: capacity,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
