package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"batterywatch/internal/telemetry"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertSampleSQL = `INSERT INTO samples (
        battery_id,
        ts,
        voltage,
        current,
        temperature,
        capacity,
        power,
        internal_resistance,
        cycle_count,
        is_charging,
        is_valid,
        quality_score
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    );`

	listSamplesSQL = `SELECT
        battery_id,
        ts,
        voltage,
        current,
        temperature,
        capacity,
        power,
        internal_resistance,
        cycle_count,
        is_charging,
        is_valid,
        quality_score
    FROM samples
    WHERE battery_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	insertPredictionSQL = `INSERT INTO predictions (
        battery_id,
        created_at,
        risk_level,
        confidence_score,
        health_score,
        degradation_rate,
        remaining_cycles,
        predicted_failure_at,
        anomaly_score,
        anomaly_flags,
        model_version,
        data_points_used
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    );`

	upsertAlertSQL = `INSERT INTO alerts (
        id,
        battery_id,
        alert_type,
        severity,
        status,
        title,
        message,
        sensor_value,
        threshold_value,
        created_at,
        updated_at,
        acknowledged_at,
        acknowledged_by,
        resolved_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (id) DO UPDATE
    SET severity        = EXCLUDED.severity,
        status          = EXCLUDED.status,
        sensor_value    = EXCLUDED.sensor_value,
        updated_at      = EXCLUDED.updated_at,
        acknowledged_at = EXCLUDED.acknowledged_at,
        acknowledged_by = EXCLUDED.acknowledged_by,
        resolved_at     = EXCLUDED.resolved_at;`

	listRecentAlertsSQL = `SELECT
        id,
        battery_id,
        alert_type,
        severity,
        status,
        title,
        message,
        sensor_value,
        threshold_value,
        created_at,
        updated_at,
        acknowledged_at,
        acknowledged_by,
        resolved_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM samples;`
)

// Store persists samples, predictions, and alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample persists one telemetry sample.
func (s *Store) InsertSample(ctx context.Context, sample telemetry.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.BatteryID,
		sample.Timestamp,
		sample.Voltage,
		sample.Current,
		sample.Temperature,
		sample.Capacity,
		sample.Power,
		sample.InternalResistance,
		sample.CycleCount,
		sample.IsCharging,
		sample.Valid,
		sample.QualityScore,
	)
	if execErr != nil {
		return fmt.Errorf("insert sample: %w", execErr)
	}
	return nil
}

// ListSamples returns stored samples for a battery ordered by timestamp,
// with from <= ts < to.
func (s *Store) ListSamples(ctx context.Context, batteryID string, from, to time.Time) ([]telemetry.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSQL, batteryID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]telemetry.Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertPrediction persists one inference result.
func (s *Store) InsertPrediction(ctx context.Context, p telemetry.Prediction) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	flags, marshalErr := json.Marshal(p.AnomalyFlags)
	if marshalErr != nil {
		return fmt.Errorf("marshal anomaly flags: %w", marshalErr)
	}

	_, execErr := pool.Exec(ctx, insertPredictionSQL,
		p.BatteryID,
		p.CreatedAt,
		string(p.RiskLevel),
		p.ConfidenceScore,
		p.HealthScore,
		p.DegradationRate,
		p.RemainingCycles,
		p.PredictedFailureAt,
		p.AnomalyScore,
		flags,
		p.ModelVersion,
		p.DataPointsUsed,
	)
	if execErr != nil {
		return fmt.Errorf("insert prediction: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert, updating mutable fields on conflict so
// state transitions land on the same row.
func (s *Store) InsertAlert(ctx context.Context, a telemetry.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertAlertSQL,
		a.ID,
		a.BatteryID,
		a.Type,
		string(a.Severity),
		string(a.Status),
		a.Title,
		a.Message,
		a.SensorValue,
		a.ThresholdValue,
		a.CreatedAt,
		a.UpdatedAt,
		a.AcknowledgedAt,
		nullableString(a.AcknowledgedBy),
		a.ResolvedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]telemetry.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]telemetry.Alert, 0, limit)
	for rows.Next() {
		var (
			a        telemetry.Alert
			severity string
			status   string
			ackBy    *string
		)
		if err := rows.Scan(
			&a.ID,
			&a.BatteryID,
			&a.Type,
			&severity,
			&status,
			&a.Title,
			&a.Message,
			&a.SensorValue,
			&a.ThresholdValue,
			&a.CreatedAt,
			&a.UpdatedAt,
			&a.AcknowledgedAt,
			&ackBy,
			&a.ResolvedAt,
		); err != nil {
			return nil, err
		}
		a.Severity = telemetry.AlertSeverity(severity)
		a.Status = telemetry.AlertStatus(status)
		if ackBy != nil {
			a.AcknowledgedBy = *ackBy
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func scanSample(rows pgx.Rows) (telemetry.Sample, error) {
	var s telemetry.Sample
	if err := rows.Scan(
		&s.BatteryID,
		&s.Timestamp,
		&s.Voltage,
		&s.Current,
		&s.Temperature,
		&s.Capacity,
		&s.Power,
		&s.InternalResistance,
		&s.CycleCount,
		&s.IsCharging,
		&s.Valid,
		&s.QualityScore,
	); err != nil {
		return telemetry.Sample{}, err
	}
	return s, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var _ telemetry.Persister = (*Store)(nil)
