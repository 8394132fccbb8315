package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/credentials"
	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/store/memory"
)

func newOperatorService(t *testing.T, limit int) (*service.OperatorService, *memory.Store) {
	t.Helper()
	ms := memory.New("43130")
	v := credentials.NewStaticStore(credentials.User{EspID: "43130", Password: "pw"})
	return service.NewOperatorService(v, ms, service.OperatorConfig{HistoryLimit: limit}, zerolog.Nop()), ms
}

func TestLogin_Success_ReturnsLatest(t *testing.T) {
	ctx := context.Background()
	svc, ms := newOperatorService(t, 0)

	latest, err := svc.Login(ctx, "43130", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if latest != nil {
		t.Errorf("expected no latest data yet, got %+v", latest)
	}

	if _, err := ms.Append(ctx, "43130", sampleMessage()); err != nil {
		t.Fatal(err)
	}
	latest, err = svc.Login(ctx, "43130", "pw")
	if err != nil || latest == nil || latest.Temp != 21.5 {
		t.Errorf("expected latest record, got %+v err=%v", latest, err)
	}
}

func TestLogin_Failure(t *testing.T) {
	svc, _ := newOperatorService(t, 0)
	if _, err := svc.Login(context.Background(), "43130", "nope"); !errors.Is(err, service.ErrAuthenticationFailure) {
		t.Errorf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestLogin_VerifierErrorRejects(t *testing.T) {
	v := credentials.NewFileStore("/nonexistent/users.json")
	svc := service.NewOperatorService(v, memory.New(), service.OperatorConfig{}, zerolog.Nop())
	if _, err := svc.Login(context.Background(), "43130", "pw"); !errors.Is(err, service.ErrAuthenticationFailure) {
		t.Errorf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestHistory_DefaultAndCap(t *testing.T) {
	ctx := context.Background()
	svc, ms := newOperatorService(t, 3)
	for i := 0; i < 5; i++ {
		m := sampleMessage()
		m.Temp = float64(i)
		if _, err := ms.Append(ctx, "43130", m); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := svc.History(ctx, "43130", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 3 || recs[0].Temp != 4 {
		t.Errorf("expected 3 newest records, got %+v", recs)
	}

	recs, _ = svc.History(ctx, "43130", service.MaxHistory+50)
	if len(recs) != 5 {
		t.Errorf("expected all 5 records, got %d", len(recs))
	}
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	svc, _ := newOperatorService(t, 0)
	recs, err := svc.History(context.Background(), "51515", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if recs == nil {
		t.Error("expected an empty slice so replies encode as []")
	}
}
