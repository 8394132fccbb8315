package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/credentials"
	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

// MaxHistory caps the number of records one history request may return.
const MaxHistory = 1000

var ErrAuthenticationFailure = errors.New("authentication failed")

// OperatorService serves the viewer path: login and history.
type OperatorService struct {
	verifier     credentials.Verifier
	store        store.TelemetryStore
	historyLimit int
	logger       zerolog.Logger
}

type OperatorConfig struct {
	// HistoryLimit is the default history size. Defaults to
	// store.DefaultHistory, never above MaxHistory.
	HistoryLimit int
}

func NewOperatorService(v credentials.Verifier, ts store.TelemetryStore, cfg OperatorConfig, logger zerolog.Logger) *OperatorService {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = store.DefaultHistory
	}
	return &OperatorService{
		verifier:     v,
		store:        ts,
		historyLimit: min(limit, MaxHistory),
		logger:       logger,
	}
}

// Login checks the operator's credentials for espID. On success it returns
// the device's latest record, which is nil when there is none or the store
// could not be read.
func (s *OperatorService) Login(ctx context.Context, espID, password string) (*types.TelemetryRecord, error) {
	ok, err := s.verifier.Verify(ctx, espID, password)
	if err != nil {
		// An unreadable users file rejects everyone.
		s.logger.Error().Err(err).Msg("credential check failed")
		return nil, ErrAuthenticationFailure
	}
	if !ok {
		return nil, ErrAuthenticationFailure
	}

	latest, err := s.store.Latest(ctx, espID)
	if err != nil {
		s.logger.Warn().Err(err).Str("esp_id", espID).Msg("latest telemetry unavailable")
		return nil, nil
	}
	return latest, nil
}

// History returns up to count records for espID, newest first. A count of
// zero or less selects the configured default.
func (s *OperatorService) History(ctx context.Context, espID string, count int) ([]types.TelemetryRecord, error) {
	if count <= 0 {
		count = s.historyLimit
	}
	count = min(count, MaxHistory)

	recs, err := s.store.Recent(ctx, espID, count)
	if err != nil {
		return nil, errors.Join(ErrStorageUnavailable, err)
	}
	if recs == nil {
		recs = []types.TelemetryRecord{}
	}
	return recs, nil
}
