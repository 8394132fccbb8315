package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/pamirel/thermogate/internal/db"
	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

type TelemetryStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	now    func() time.Time
}

var _ store.Store = (*TelemetryStore)(nil)

func NewTelemetryStore(db *sql.DB, writer *dbpkg.Worker) *TelemetryStore {
	return &TelemetryStore{
		db:     db,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *TelemetryStore) Exists(ctx context.Context, deviceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM devices WHERE device_id = ?;`, deviceID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Exists %s: %w", deviceID, err)
	}
	return true, nil
}

// Append inserts one telemetry row. The existence check runs inside the
// write transaction so a concurrent Purge cannot orphan the row.
func (s *TelemetryStore) Append(ctx context.Context, deviceID string, msg types.TelemetryMessage) (bool, error) {
	recMs := s.now().UnixMilli()

	var appended bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM devices WHERE device_id = ?;`, deviceID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("Append lookup device: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO telemetry(
  device_id, status_on, temp, set_temp, heating, ventilator,
  set_ventilator, pressure, recorded_at_ms, wifi_signal, rf_signal
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			deviceID, boolToInt(msg.StatusOn), msg.Temp, msg.SetTemp, boolToInt(msg.Heating),
			msg.Ventilator, msg.SetVentilator, msg.Pressure, recMs, msg.WifiSignal, msg.RFSignal,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		appended = true
		return nil
	})
	return appended, err
}

func (s *TelemetryStore) Latest(ctx context.Context, deviceID string) (*types.TelemetryRecord, error) {
	recs, err := s.query(ctx, deviceID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Recent returns up to n records for deviceID, newest first.
func (s *TelemetryStore) Recent(ctx context.Context, deviceID string, n int) ([]types.TelemetryRecord, error) {
	if n <= 0 {
		n = store.DefaultHistory
	}
	return s.query(ctx, deviceID, n)
}

func (s *TelemetryStore) query(ctx context.Context, deviceID string, limit int) ([]types.TelemetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT num, status_on, temp, set_temp, heating, ventilator,
       set_ventilator, pressure, recorded_at_ms, wifi_signal, rf_signal
FROM telemetry
WHERE device_id = ?
ORDER BY num DESC
LIMIT ?;
`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make([]types.TelemetryRecord, 0, limit)
	for rows.Next() {
		var (
			r                 types.TelemetryRecord
			statusOn, heating int
			recMs             int64
		)
		if err := rows.Scan(
			&r.Num, &statusOn, &r.Temp, &r.SetTemp, &heating, &r.Ventilator,
			&r.SetVentilator, &r.Pressure, &recMs, &r.WifiSignal, &r.RFSignal,
		); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		r.StatusOn = statusOn != 0
		r.Heating = heating != 0
		r.Recorded = time.UnixMilli(recMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Provision creates the storage row for deviceID. Idempotent.
func (s *TelemetryStore) Provision(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("Provision: empty device id")
	}
	nowMs := s.now().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO devices(device_id, created_at_ms) VALUES (?, ?);`,
			deviceID, nowMs,
		); err != nil {
			return fmt.Errorf("Provision %s: %w", deviceID, err)
		}
		return nil
	})
}

// Purge deletes every telemetry row for deviceID and keeps its storage
// provisioned. Returns the number of rows deleted.
func (s *TelemetryStore) Purge(ctx context.Context, deviceID string) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM telemetry WHERE device_id = ?;`, deviceID)
		if err != nil {
			return fmt.Errorf("Purge %s: %w", deviceID, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// PruneOlderThan deletes telemetry rows recorded before cutoff.
//
// Uses the idx_telemetry_time index for an efficient range scan.
func (s *TelemetryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM telemetry
WHERE recorded_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
