package chaindb

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNoServer marks transient connectivity failures; the reconnect
// supervisor retries them.
var ErrNoServer = errors.New("no server available")

// ErrDuplicateKey marks unique-key violations on write; the bulk applier
// records them and keeps going.
var ErrDuplicateKey = errors.New("duplicate key")

// Store represents a document-store backend (MongoDB, in-memory, Bolt).
// Documents are bson values: bson.D for ordered filter/bound/sort documents,
// bson.M for rows.
type Store interface {
	// Database returns a handle; the database materializes on first write.
	Database(name string) Database

	// ListDatabaseNames lists existing databases.
	ListDatabaseNames() ([]string, error)

	// Close closes the store.
	Close() error
}

// Database is a named set of collections.
type Database interface {
	Collection(name string) Collection
	ListCollectionNames() ([]string, error)
	Drop() error
}

// Collection is a named set of documents with secondary indexes.
type Collection interface {
	// Find runs an index-range query. The returned iterator is positioned at
	// the first document (invalid if the range is empty).
	Find(opts FindOptions) (Iterator, error)

	// FindOne returns the first document of the range, or nil.
	FindOne(opts FindOptions) (bson.M, error)

	// BulkWrite executes the models as one unordered bulk. On duplicate keys
	// it returns the partial result together with an error wrapping
	// ErrDuplicateKey.
	BulkWrite(models []WriteModel) (*BulkResult, error)

	// EstimatedCount returns an estimated document count, bounded by maxTime.
	EstimatedCount(maxTime time.Duration) (int64, error)

	Indexes() IndexView
	Drop() error
}

// FindOptions describe a hint-scoped range query. Min and Max are half-open
// index-key bounds: the row at Min is included (forward scans), the row at
// Max is excluded (backward scans).
type FindOptions struct {
	Hint  string
	Sort  bson.D
	Min   bson.D
	Max   bson.D
	Limit int64
}

// Iterator walks the result of a Find in sort order.
type Iterator interface {
	// Valid reports whether the iterator is positioned at a document.
	Valid() bool
	// Next advances to the next document.
	Next() error
	// Current returns the document at the iterator position.
	Current() bson.M
	Close() error
}

// WriteModel is one operation of a bulk write.
type WriteModel interface {
	writeModel()
}

type DeleteOne struct {
	Filter bson.D
}

type ReplaceOne struct {
	Filter      bson.D
	Replacement bson.M
}

// UpdateOne applies Set as a $set partial update.
type UpdateOne struct {
	Filter bson.D
	Set    bson.M
}

type InsertOne struct {
	Document bson.M
}

func (DeleteOne) writeModel()  {}
func (ReplaceOne) writeModel() {}
func (UpdateOne) writeModel()  {}
func (InsertOne) writeModel()  {}

// BulkResult reports bulk-write counts.
type BulkResult struct {
	Matched  int64
	Modified int64
	Deleted  int64
	Inserted int64
	Upserted int64
}

// IndexView manages the physical indexes of a collection.
type IndexView interface {
	List() ([]IndexSpec, error)
	Create(spec IndexSpec) error
	DropOne(name string) error
}

// IndexSpec is a physical index: a name, a uniqueness flag and an ordered
// key document with +1/-1 directions.
type IndexSpec struct {
	Name   string
	Unique bool
	Keys   bson.D
}
