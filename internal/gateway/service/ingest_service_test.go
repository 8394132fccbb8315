package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/store/memory"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

// failingStore fails every call.
type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) Exists(context.Context, string) (bool, error) { return false, errBoom }
func (failingStore) Append(context.Context, string, types.TelemetryMessage) (bool, error) {
	return false, errBoom
}
func (failingStore) Latest(context.Context, string) (*types.TelemetryRecord, error) {
	return nil, errBoom
}
func (failingStore) Recent(context.Context, string, int) ([]types.TelemetryRecord, error) {
	return nil, errBoom
}
func (failingStore) PruneOlderThan(context.Context, time.Time) (int64, error) { return 0, errBoom }

func TestIngest_ValidMessageRecorded(t *testing.T) {
	ctx := context.Background()
	ms := memory.New("43130")
	svc := service.NewIngestService(service.NewAuthenticator(newCountingKeys(t)), ms, zerolog.Nop())

	msg, err := svc.Authenticate(signedFrame(t, mustSecret(t), sampleMessage()))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	ack, err := svc.Record(ctx, msg)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ack.Status != types.AckOK || ack.Message != "Data recorded successfully" {
		t.Errorf("unexpected ack %+v", ack)
	}

	latest, _ := ms.Latest(ctx, "43130")
	if latest == nil || latest.Temp != 21.5 {
		t.Errorf("expected stored record, got %+v", latest)
	}
}

func TestIngest_TamperedMessageNotRecorded(t *testing.T) {
	ctx := context.Background()
	ms := memory.New("43130")
	svc := service.NewIngestService(service.NewAuthenticator(newCountingKeys(t)), ms, zerolog.Nop())

	tampered := sampleMessage()
	tampered.Temp = 30
	tag, _ := service.Sign(mustSecret(t), sampleMessage())

	_, err := svc.Authenticate(frameWithTag(t, tampered, tag))
	if !service.IsSecurityFailure(err) {
		t.Fatalf("expected security failure, got %v", err)
	}
	if rec, _ := ms.Latest(ctx, "43130"); rec != nil {
		t.Error("tampered message must not be stored")
	}
}

func TestIngest_NoStorage(t *testing.T) {
	svc := service.NewIngestService(service.NewAuthenticator(newCountingKeys(t)), memory.New(), zerolog.Nop())
	ack, err := svc.Record(context.Background(), sampleMessage())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ack.Status != types.AckError || ack.Message != "Failed to record data" {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestIngest_StoreError(t *testing.T) {
	svc := service.NewIngestService(service.NewAuthenticator(newCountingKeys(t)), failingStore{}, zerolog.Nop())
	ack, err := svc.Record(context.Background(), sampleMessage())
	if !errors.Is(err, service.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if ack.Status != types.AckError || ack.Message != "Failed to process message" {
		t.Errorf("unexpected ack %+v", ack)
	}
}
