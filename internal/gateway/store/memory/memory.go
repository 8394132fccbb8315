package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

// Store keeps telemetry in process memory. It is intended for tests and
// dev environments.
type Store struct {
	mu      sync.RWMutex
	devices map[string][]types.TelemetryRecord
	next    int64
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a store with storage provisioned for each of deviceIDs.
func New(deviceIDs ...string) *Store {
	s := &Store{
		devices: make(map[string][]types.TelemetryRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, id := range deviceIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			s.devices[id] = nil
		}
	}
	return s
}

// SetClock replaces the time source used to stamp appended records.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Exists(_ context.Context, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[deviceID]
	return ok, nil
}

func (s *Store) Append(_ context.Context, deviceID string, msg types.TelemetryMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.devices[deviceID]
	if !ok {
		return false, nil
	}
	s.next++
	s.devices[deviceID] = append(recs, types.RecordFromMessage(msg, s.next, s.now()))
	return true, nil
}

func (s *Store) Latest(_ context.Context, deviceID string) (*types.TelemetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.devices[deviceID]
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(_ context.Context, deviceID string, n int) ([]types.TelemetryRecord, error) {
	if n <= 0 {
		n = store.DefaultHistory
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.devices[deviceID]
	out := make([]types.TelemetryRecord, 0, min(n, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *Store) Provision(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		s.devices[deviceID] = nil
	}
	return nil
}

func (s *Store) Purge(_ context.Context, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.devices[deviceID]
	if !ok {
		return 0, nil
	}
	s.devices[deviceID] = nil
	return int64(len(recs)), nil
}

func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, recs := range s.devices {
		kept := recs[:0]
		for _, r := range recs {
			if r.Recorded.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		s.devices[id] = kept
	}
	return deleted, nil
}
