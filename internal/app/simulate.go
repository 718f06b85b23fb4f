package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"batterywatch/internal/broadcast"
	"batterywatch/internal/service"
	"batterywatch/internal/telemetry"
)

// Simulate runs the full pipeline offline against the synthetic fleet for a
// fixed number of ticks, with time compressed, and prints every alert
// transition. No database or scheduler is involved.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Ticks <= 0 {
		return errors.New("--ticks must be greater than zero")
	}

	p := a.buildPipeline(nil)

	if err := p.svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap models: %w", err)
	}

	if opts.Scenario != "" {
		err := p.svc.Execute(ctx, service.Command{
			Type:      service.CmdInjectScenario,
			Scenario:  opts.Scenario,
			BatteryID: opts.Battery,
		})
		if err != nil {
			return err
		}
	}

	sub := p.gateway.SubscribeStats()
	defer p.gateway.Unsubscribe(sub)

	start := time.Now().UTC()
	now := start
	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		now = now.Add(a.Config.Pipeline.TickInterval)
		if err := p.svc.Tick(ctx, now); err != nil {
			return err
		}
		drainAlerts(sub.Events())
	}

	printRunSummary(p, a.fleetBatteries(), start, now)

	unresolved := p.alerts.Unresolved()
	fmt.Fprintf(os.Stdout, "\nsimulation finished: %d ticks, %d unresolved alerts\n", opts.Ticks, len(unresolved))
	return nil
}

// printRunSummary prints per-minute aggregates for each battery.
func printRunSummary(p *pipeline, batteries []telemetry.Battery, from, to time.Time) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\nBattery\tBucket\tSamples\tVolt avg\tVolt min/max\tTemp avg\tTemp max\tCap avg")

	for _, b := range batteries {
		aggs := p.ingestor.Downsample(b.ID, from, to.Add(time.Second), time.Minute)
		for _, agg := range aggs {
			fmt.Fprintf(writer, "%s\t%s\t%d\t%.3f\t%.3f/%.3f\t%.1f\t%.1f\t%.1f\n",
				b.ID,
				agg.BucketStart.Format("15:04"),
				agg.SampleCount,
				agg.Voltage.Avg,
				agg.Voltage.Min, agg.Voltage.Max,
				agg.Temperature.Avg,
				agg.Temperature.Max,
				agg.Capacity.Avg,
			)
		}
	}
	writer.Flush()
}

// drainAlerts prints queued alert events without blocking.
func drainAlerts(events <-chan broadcast.Event) {
	for {
		select {
		case ev := <-events:
			if ev.Alert == nil {
				continue
			}
			al := ev.Alert
			fmt.Fprintf(os.Stdout, "%s  %-10s  %-20s  %-8s  %-12s  value=%.3f threshold=%.3f  %s\n",
				al.UpdatedAt.Format(time.RFC3339),
				al.BatteryID,
				al.Type,
				al.Severity,
				al.Status,
				al.SensorValue,
				al.ThresholdValue,
				al.Title,
			)
		default:
			return
		}
	}
}
