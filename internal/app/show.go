package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"batterywatch/internal/telemetry"
)

// Show prints recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tBattery\tType\tSeverity\tStatus\tValue\tThreshold\tTitle")

	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.BatteryID,
			al.Type,
			al.Severity,
			formatStatus(al),
			al.SensorValue,
			al.ThresholdValue,
			sanitizeInline(al.Title),
		)
	}

	writer.Flush()
	return nil
}

func formatStatus(al telemetry.Alert) string {
	if al.Status == telemetry.AlertAcknowledged && al.AcknowledgedBy != "" {
		return fmt.Sprintf("%s(%s)", al.Status, al.AcknowledgedBy)
	}
	return string(al.Status)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
