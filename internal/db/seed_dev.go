package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// DeviceIDs get telemetry storage so a dev vault can be exercised
	// without running the provisioning tool first.
	DeviceIDs []string
}

// SeedDev provisions storage rows for the given devices. It is idempotent.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for _, id := range opt.DeviceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(device_id, created_at_ms) VALUES (?, ?);
`, id, now); err != nil {
			return fmt.Errorf("seed device %s: %w", id, err)
		}
	}
	return nil
}
