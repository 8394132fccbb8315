package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pamirel/thermogate/internal/config"
	"github.com/pamirel/thermogate/internal/gateway/store/backend"
)

func TestOpen_Memory(t *testing.T) {
	s, closeFn, err := backend.Open(context.Background(), config.Config{Store: "memory"},
		backend.Options{Provision: []string{"43130"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if ok, _ := s.Exists(context.Background(), "43130"); !ok {
		t.Error("expected provisioned device")
	}
}

func TestOpen_SQLiteSeedDev(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: "sqlite", Env: "dev", DBPath: filepath.Join(t.TempDir(), "data", "t.db")}

	s, closeFn, err := backend.Open(ctx, cfg, backend.Options{Provision: []string{"43130"}, SeedDev: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if ok, err := s.Exists(ctx, "43130"); err != nil || !ok {
		t.Errorf("expected seeded device, ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Exists(ctx, "51515"); ok {
		t.Error("unexpected device")
	}
}

func TestOpen_SQLiteNoSeedInProd(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: "sqlite", Env: "prod", DBPath: filepath.Join(t.TempDir(), "t.db")}

	s, closeFn, err := backend.Open(ctx, cfg, backend.Options{Provision: []string{"43130"}, SeedDev: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if ok, _ := s.Exists(ctx, "43130"); ok {
		t.Error("prod must not seed devices")
	}
}

func TestOpen_Unknown(t *testing.T) {
	if _, _, err := backend.Open(context.Background(), config.Config{Store: "cassandra"}, backend.Options{}); err == nil {
		t.Error("expected error")
	}
}
