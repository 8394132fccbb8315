package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/store/memory"
)

func TestTelemetryPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewTelemetryPruner(memory.New(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately.
	pruner.Stop()
}

func TestTelemetryPruner_PrunesOnStart(t *testing.T) {
	ctx := context.Background()
	ms := memory.New("43130")

	ms.SetClock(func() time.Time { return time.Now().UTC().AddDate(0, 0, -40) })
	if _, err := ms.Append(ctx, "43130", sampleMessage()); err != nil {
		t.Fatal(err)
	}
	ms.SetClock(func() time.Time { return time.Now().UTC() })
	if _, err := ms.Append(ctx, "43130", sampleMessage()); err != nil {
		t.Fatal(err)
	}

	pruner := service.NewTelemetryPruner(ms, service.PrunerConfig{RetentionDays: 30, IntervalHours: 1}, zerolog.Nop())
	pruner.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, _ := ms.Recent(ctx, "43130", 10)
		if len(recs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected old record to be pruned, have %d", len(recs))
		}
		time.Sleep(10 * time.Millisecond)
	}
	pruner.Stop()
}

func TestTelemetryPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewTelemetryPruner(memory.New(), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	pruner.Stop()
	pruner.Stop()
}
