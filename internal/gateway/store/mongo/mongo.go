package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/types"
)

const (
	// collectionPrefix names the per-device collections: thermostat<id>.
	collectionPrefix = "thermostat"
	countersColl     = "counters"
)

// Store keeps each device's telemetry in its own collection. A device has
// storage exactly when its collection exists.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

type recordDoc struct {
	Num           int64     `bson:"num"`
	StatusOn      bool      `bson:"status_on"`
	Temp          float64   `bson:"temp"`
	SetTemp       float64   `bson:"set_temp"`
	Heating       bool      `bson:"heating"`
	Ventilator    float64   `bson:"ventilator"`
	SetVentilator float64   `bson:"set_ventilator"`
	Pressure      float64   `bson:"pressure"`
	Recorded      time.Time `bson:"recorded"`
	WifiSignal    float64   `bson:"wifi_signal"`
	RFSignal      float64   `bson:"rf_signal"`
}

// Open connects to uri and verifies the connection.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if dbName == "" {
		dbName = "thermogate"
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{
		client: cli,
		db:     cli.Database(dbName),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func collectionName(deviceID string) string {
	return collectionPrefix + deviceID
}

func (s *Store) Exists(ctx context.Context, deviceID string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": collectionName(deviceID)})
	if err != nil {
		return false, fmt.Errorf("Exists %s: %w", deviceID, err)
	}
	return len(names) > 0, nil
}

func (s *Store) Append(ctx context.Context, deviceID string, msg types.TelemetryMessage) (bool, error) {
	ok, err := s.Exists(ctx, deviceID)
	if err != nil || !ok {
		return false, err
	}

	num, err := s.nextNum(ctx, deviceID)
	if err != nil {
		return false, err
	}

	rec := types.RecordFromMessage(msg, num, s.now())
	if _, err := s.db.Collection(collectionName(deviceID)).InsertOne(ctx, toDoc(rec)); err != nil {
		return false, fmt.Errorf("Append insert: %w", err)
	}
	return true, nil
}

// nextNum bumps the device's sequence counter and returns the new value.
func (s *Store) nextNum(ctx context.Context, deviceID string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersColl).FindOneAndUpdate(
		ctx,
		bson.M{"_id": collectionName(deviceID)},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", deviceID, err)
	}
	return doc.Seq, nil
}

func (s *Store) Latest(ctx context.Context, deviceID string) (*types.TelemetryRecord, error) {
	var doc recordDoc
	err := s.db.Collection(collectionName(deviceID)).FindOne(
		ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "num", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Latest %s: %w", deviceID, err)
	}
	rec := fromDoc(doc)
	return &rec, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(ctx context.Context, deviceID string, n int) ([]types.TelemetryRecord, error) {
	if n <= 0 {
		n = store.DefaultHistory
	}
	cur, err := s.db.Collection(collectionName(deviceID)).Find(
		ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "num", Value: -1}}).SetLimit(int64(n)),
	)
	if err != nil {
		return nil, fmt.Errorf("Recent %s: %w", deviceID, err)
	}
	defer cur.Close(ctx)

	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("Recent decode: %w", err)
	}
	out := make([]types.TelemetryRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDoc(d))
	}
	return out, nil
}

// Provision creates the device's collection and its num index. Idempotent.
func (s *Store) Provision(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("Provision: empty device id")
	}
	name := collectionName(deviceID)

	err := s.db.CreateCollection(ctx, name)
	var cmdErr mongo.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists") {
		return fmt.Errorf("Provision %s: %w", deviceID, err)
	}

	_, err = s.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "num", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("Provision index %s: %w", deviceID, err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, deviceID string) (int64, error) {
	res, err := s.db.Collection(collectionName(deviceID)).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("Purge %s: %w", deviceID, err)
	}
	return res.DeletedCount, nil
}

// PruneOlderThan deletes records recorded before cutoff across every device
// collection.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$regex": "^" + collectionPrefix + "[0-9]+$"},
	})
	if err != nil {
		return 0, fmt.Errorf("PruneOlderThan list: %w", err)
	}

	var deleted int64
	for _, name := range names {
		res, err := s.db.Collection(name).DeleteMany(ctx, bson.M{
			"recorded": bson.M{"$lt": cutoff.UTC()},
		})
		if err != nil {
			return deleted, fmt.Errorf("PruneOlderThan %s: %w", name, err)
		}
		deleted += res.DeletedCount
	}
	return deleted, nil
}

func toDoc(r types.TelemetryRecord) recordDoc {
	return recordDoc{
		Num:           r.Num,
		StatusOn:      r.StatusOn,
		Temp:          r.Temp,
		SetTemp:       r.SetTemp,
		Heating:       r.Heating,
		Ventilator:    r.Ventilator,
		SetVentilator: r.SetVentilator,
		Pressure:      r.Pressure,
		Recorded:      r.Recorded,
		WifiSignal:    r.WifiSignal,
		RFSignal:      r.RFSignal,
	}
}

func fromDoc(d recordDoc) types.TelemetryRecord {
	return types.TelemetryRecord{
		Num:           d.Num,
		StatusOn:      d.StatusOn,
		Temp:          d.Temp,
		SetTemp:       d.SetTemp,
		Heating:       d.Heating,
		Ventilator:    d.Ventilator,
		SetVentilator: d.SetVentilator,
		Pressure:      d.Pressure,
		Recorded:      d.Recorded.UTC(),
		WifiSignal:    d.WifiSignal,
		RFSignal:      d.RFSignal,
	}
}

// DropDatabase removes the whole database. Used by tests.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}
