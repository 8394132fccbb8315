package service

import (
	"context"

	"github.com/pamirel/thermogate/internal/gateway/store"
)

// DeviceLister lists the device ids holding a secret.
type DeviceLister interface {
	DeviceIDs() []string
}

// DeviceStatus describes one provisioned device.
type DeviceStatus struct {
	ID string
	// HasStorage is false when the vault knows the device but its telemetry
	// would be refused by the store.
	HasStorage bool
}

type DeviceRegistry struct {
	keys  DeviceLister
	store store.TelemetryStore
}

func NewDeviceRegistry(keys DeviceLister, ts store.TelemetryStore) *DeviceRegistry {
	return &DeviceRegistry{keys: keys, store: ts}
}

// Devices joins vault membership with storage existence, sorted by id.
func (r *DeviceRegistry) Devices(ctx context.Context) ([]DeviceStatus, error) {
	ids := r.keys.DeviceIDs()
	out := make([]DeviceStatus, 0, len(ids))
	for _, id := range ids {
		ok, err := r.store.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, DeviceStatus{ID: id, HasStorage: ok})
	}
	return out, nil
}

// Unprovisioned returns the vault ids that have no telemetry storage.
func (r *DeviceRegistry) Unprovisioned(ctx context.Context) ([]string, error) {
	devs, err := r.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range devs {
		if !d.HasStorage {
			out = append(out, d.ID)
		}
	}
	return out, nil
}
