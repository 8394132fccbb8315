package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

var ErrStorageUnavailable = errors.New("telemetry storage unavailable")

const (
	ackRecorded      = "Data recorded successfully"
	ackNotRecorded   = "Failed to record data"
	ackProcessFailed = "Failed to process message"
)

// IngestService is the device path: authenticate a frame, then record it.
type IngestService struct {
	auth   *Authenticator
	store  store.TelemetryStore
	logger zerolog.Logger
}

func NewIngestService(auth *Authenticator, ts store.TelemetryStore, logger zerolog.Logger) *IngestService {
	return &IngestService{auth: auth, store: ts, logger: logger}
}

// Authenticate verifies a raw device frame. Any error is a security failure.
func (s *IngestService) Authenticate(raw []byte) (types.TelemetryMessage, error) {
	return s.auth.AuthenticateFrame(raw)
}

// Record appends an authenticated message and returns the acknowledgement
// for the device. The error is ErrStorageUnavailable when the store failed;
// the ack is valid either way.
func (s *IngestService) Record(ctx context.Context, msg types.TelemetryMessage) (types.DeviceAck, error) {
	ok, err := s.store.Append(ctx, msg.ID, msg)
	if err != nil {
		s.logger.Error().Err(err).Str("esp_id", msg.ID).Msg("append telemetry failed")
		return types.DeviceAck{Status: types.AckError, Message: ackProcessFailed}, errors.Join(ErrStorageUnavailable, err)
	}
	if !ok {
		s.logger.Warn().Str("esp_id", msg.ID).Msg("no telemetry storage provisioned for device")
		return types.DeviceAck{Status: types.AckError, Message: ackNotRecorded}, nil
	}
	return types.DeviceAck{Status: types.AckOK, Message: ackRecorded}, nil
}
