// Package backend opens the telemetry store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/pamirel/thermogate/internal/config"
	"github.com/pamirel/thermogate/internal/db"
	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/store/memory"
	mongostore "github.com/pamirel/thermogate/internal/gateway/store/mongo"
	sqlitestore "github.com/pamirel/thermogate/internal/gateway/store/sqlite"
)

// Options tune Open beyond what Config carries.
type Options struct {
	// Provision gets storage in the memory backend, and in sqlite when
	// SeedDev is set.
	Provision []string
	SeedDev   bool
}

// Open returns the configured store and a function releasing it.
func Open(ctx context.Context, cfg config.Config, opt Options) (store.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		return memory.New(opt.Provision...), func() {}, nil

	case "mongo":
		s, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil

	case "sqlite", "":
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, nil, err
		}
		if opt.SeedDev && cfg.Env == "dev" {
			if err := db.SeedDev(ctx, conn, db.SeedDevOptions{DeviceIDs: opt.Provision}); err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
		}
		w := db.NewWorker(conn)
		closeFn := func() {
			w.Close()
			_ = conn.Close()
		}
		return sqlitestore.NewTelemetryStore(conn, w), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
