package store

import (
	"context"
	"time"

	"github.com/pamirel/thermogate/internal/gateway/types"
)

// DefaultHistory is the number of records returned when a caller does not
// ask for a specific count.
const DefaultHistory = 100

// TelemetryStore is the per-device time-series collaborator. Append returns
// false (and no error) when the device has no provisioned storage.
type TelemetryStore interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
	Append(ctx context.Context, deviceID string, msg types.TelemetryMessage) (bool, error)
	Latest(ctx context.Context, deviceID string) (*types.TelemetryRecord, error)
	Recent(ctx context.Context, deviceID string, n int) ([]types.TelemetryRecord, error)
}

// Admin is implemented by backends that support provisioning and cleanup
// from operational tooling.
type Admin interface {
	Provision(ctx context.Context, deviceID string) error
	Purge(ctx context.Context, deviceID string) (int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is a full backend.
type Store interface {
	TelemetryStore
	Admin
}
