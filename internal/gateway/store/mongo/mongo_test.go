package mongo_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	mongostore "github.com/pamirel/thermogate/internal/gateway/store/mongo"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

// openTestStore connects to THERMOGATE_TEST_MONGO_URI using a throwaway
// database per test. Tests skip when no server is configured.
func openTestStore(t *testing.T) *mongostore.Store {
	t.Helper()
	uri := os.Getenv("THERMOGATE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("THERMOGATE_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := fmt.Sprintf("thermogate_test_%d", time.Now().UnixNano())
	s, err := mongostore.Open(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.DropDatabase(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestStore_AppendRequiresProvision(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	msg := types.TelemetryMessage{ID: "43130", Temp: 20}
	ok, err := s.Append(ctx, "43130", msg)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ok {
		t.Fatal("expected false before Provision")
	}

	if err := s.Provision(ctx, "43130"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := s.Provision(ctx, "43130"); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	ok, err = s.Append(ctx, "43130", msg)
	if err != nil || !ok {
		t.Fatalf("Append after Provision: ok=%v err=%v", ok, err)
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Provision(ctx, "43130"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, "43130", types.TelemetryMessage{ID: "43130", Temp: float64(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := s.Recent(ctx, "43130", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].Temp != 3 || recs[1].Temp != 2 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if recs[0].Num != 4 {
		t.Errorf("expected num 4, got %d", recs[0].Num)
	}

	latest, err := s.Latest(ctx, "43130")
	if err != nil || latest == nil || latest.Num != recs[0].Num {
		t.Errorf("Latest mismatch: %+v err=%v", latest, err)
	}

	n, err := s.Purge(ctx, "43130")
	if err != nil || n != 4 {
		t.Errorf("Purge: n=%d err=%v", n, err)
	}
}
