package chaindb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoStore connects a MongoDB-backed Store. All operations run with
// background contexts: cancellation is not part of the driver contract, and
// transient connectivity failures surface as ErrNoServer for the reconnect
// supervisor.
func NewMongoStore(address string) (Store, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(address))
	if err != nil {
		return nil, err
	}
	return &mongoStore{client: client}, nil
}

type mongoStore struct {
	client *mongo.Client
}

func (s *mongoStore) Database(name string) Database {
	return &mongoDatabase{db: s.client.Database(name)}
}

func (s *mongoStore) ListDatabaseNames() ([]string, error) {
	names, err := s.client.ListDatabaseNames(context.Background(), bson.D{})
	return names, classifyMongoError(err)
}

func (s *mongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) ListCollectionNames() ([]string, error) {
	names, err := d.db.ListCollectionNames(context.Background(), bson.D{})
	return names, classifyMongoError(err)
}

func (d *mongoDatabase) Drop() error {
	return classifyMongoError(d.db.Drop(context.Background()))
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Find(opts FindOptions) (Iterator, error) {
	fo := options.Find()
	if opts.Sort != nil {
		fo.SetSort(opts.Sort)
	}
	if opts.Hint != "" {
		fo.SetHint(opts.Hint)
	}
	if opts.Min != nil {
		fo.SetMin(opts.Min)
	}
	if opts.Max != nil {
		fo.SetMax(opts.Max)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}

	cur, err := c.coll.Find(context.Background(), bson.D{}, fo)
	if err != nil {
		return nil, classifyMongoError(err)
	}

	it := &mongoIterator{cur: cur}
	if err := it.Next(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func (c *mongoCollection) FindOne(opts FindOptions) (bson.M, error) {
	fo := options.FindOne()
	if opts.Sort != nil {
		fo.SetSort(opts.Sort)
	}
	if opts.Hint != "" {
		fo.SetHint(opts.Hint)
	}
	if opts.Min != nil {
		fo.SetMin(opts.Min)
	}
	if opts.Max != nil {
		fo.SetMax(opts.Max)
	}

	var doc bson.M
	err := c.coll.FindOne(context.Background(), bson.D{}, fo).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}
	return asDocM(normalizeMongoValue(doc)), nil
}

func (c *mongoCollection) BulkWrite(models []WriteModel) (*BulkResult, error) {
	wm := make([]mongo.WriteModel, 0, len(models))
	for _, model := range models {
		switch m := model.(type) {
		case DeleteOne:
			wm = append(wm, mongo.NewDeleteOneModel().SetFilter(m.Filter))
		case ReplaceOne:
			wm = append(wm, mongo.NewReplaceOneModel().SetFilter(m.Filter).SetReplacement(m.Replacement))
		case UpdateOne:
			wm = append(wm, mongo.NewUpdateOneModel().SetFilter(m.Filter).SetUpdate(bson.D{{Key: "$set", Value: m.Set}}))
		case InsertOne:
			wm = append(wm, mongo.NewInsertOneModel().SetDocument(m.Document))
		}
	}

	res, err := c.coll.BulkWrite(context.Background(), wm, options.BulkWrite().SetOrdered(false))
	var out *BulkResult
	if res != nil {
		out = &BulkResult{
			Matched:  res.MatchedCount,
			Modified: res.ModifiedCount,
			Deleted:  res.DeletedCount,
			Inserted: res.InsertedCount,
			Upserted: res.UpsertedCount,
		}
	}
	return out, classifyMongoError(err)
}

func (c *mongoCollection) EstimatedCount(maxTime time.Duration) (int64, error) {
	n, err := c.coll.EstimatedDocumentCount(context.Background(),
		options.EstimatedDocumentCount().SetMaxTime(maxTime))
	return n, classifyMongoError(err)
}

func (c *mongoCollection) Indexes() IndexView {
	return &mongoIndexView{iv: c.coll.Indexes()}
}

func (c *mongoCollection) Drop() error {
	return classifyMongoError(c.coll.Drop(context.Background()))
}

type mongoIndexView struct {
	iv mongo.IndexView
}

func (v *mongoIndexView) List() ([]IndexSpec, error) {
	cur, err := v.iv.List(context.Background())
	if err != nil {
		return nil, classifyMongoError(err)
	}
	defer cur.Close(context.Background())

	var specs []IndexSpec
	for cur.Next(context.Background()) {
		var info struct {
			Name   string `bson:"name"`
			Unique bool   `bson:"unique"`
			Key    bson.D `bson:"key"`
		}
		if err := cur.Decode(&info); err != nil {
			return nil, classifyMongoError(err)
		}
		specs = append(specs, IndexSpec{Name: info.Name, Unique: info.Unique, Keys: info.Key})
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongoError(err)
	}
	return specs, nil
}

func (v *mongoIndexView) Create(spec IndexSpec) error {
	io := options.Index().SetName(spec.Name)
	if spec.Unique {
		io.SetUnique(true)
	}
	_, err := v.iv.CreateOne(context.Background(), mongo.IndexModel{Keys: spec.Keys, Options: io})
	return classifyMongoError(err)
}

func (v *mongoIndexView) DropOne(name string) error {
	_, err := v.iv.DropOne(context.Background(), name)
	return classifyMongoError(err)
}

type mongoIterator struct {
	cur     *mongo.Cursor
	current bson.M
	valid   bool
}

func (it *mongoIterator) Valid() bool {
	return it.valid
}

func (it *mongoIterator) Next() error {
	if it.cur.Next(context.Background()) {
		var doc bson.M
		if err := it.cur.Decode(&doc); err != nil {
			return classifyMongoError(err)
		}
		it.current = asDocM(normalizeMongoValue(doc))
		it.valid = true
		return nil
	}
	it.current = nil
	it.valid = false
	return classifyMongoError(it.cur.Err())
}

func (it *mongoIterator) Current() bson.M {
	return it.current
}

func (it *mongoIterator) Close() error {
	return it.cur.Close(context.Background())
}

// normalizeMongoValue rewrites decoder output into the document currency the
// driver works with: ordered sub-documents become bson.M, small integers
// widen to int64.
func normalizeMongoValue(v any) any {
	switch v := v.(type) {
	case bson.D:
		m := make(bson.M, len(v))
		for _, e := range v {
			m[e.Key] = normalizeMongoValue(e.Value)
		}
		return m
	case bson.M:
		m := make(bson.M, len(v))
		for k, e := range v {
			m[k] = normalizeMongoValue(e)
		}
		return m
	case bson.A:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeMongoValue(e)
		}
		return out
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return v
	}
}

// Codes the server reports when it is unreachable or shutting down.
var mongoNoServerCodes = map[int32]bool{
	6:     true, // HostUnreachable
	7:     true, // HostNotFound
	89:    true, // NetworkTimeout
	91:    true, // ShutdownInProgress
	13053: true, // NoServer
}

func classifyMongoError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && mongoNoServerCodes[ce.Code] {
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	}
	return err
}
