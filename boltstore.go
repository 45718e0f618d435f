package chaindb

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"
)

// NewBoltStore opens an embedded Store over a Bolt file: one root bucket per
// database, one nested bucket per collection. Documents are stored as
// marshaled bson under a monotonic sequence key; queries are evaluated in
// memory with the same ordering rules as the in-memory store. Intended for
// single-node deployments and tests that need persistence without a server.
func NewBoltStore(path string) (Store, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("boltstore: %w", err)
	}
	return &boltStore{bdb: bdb}, nil
}

const (
	boltDocsBucket = "docs"
	boltIndexesKey = "indexes"
)

type boltStore struct {
	bdb *bbolt.DB
}

func (s *boltStore) Database(name string) Database {
	return &boltDatabase{store: s, name: name}
}

func (s *boltStore) ListDatabaseNames() ([]string, error) {
	var names []string
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		return btx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *boltStore) Close() error {
	return s.bdb.Close()
}

type boltDatabase struct {
	store *boltStore
	name  string
}

func (db *boltDatabase) Collection(name string) Collection {
	return &boltCollection{db: db, name: name}
}

func (db *boltDatabase) ListCollectionNames() ([]string, error) {
	var names []string
	err := db.store.bdb.View(func(btx *bbolt.Tx) error {
		root := btx.Bucket([]byte(db.name))
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (db *boltDatabase) Drop() error {
	return db.store.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.DeleteBucket([]byte(db.name))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

type boltCollection struct {
	db   *boltDatabase
	name string
}

type boltEntry struct {
	seq uint64
	doc bson.M
}

func (c *boltCollection) bucket(btx *bbolt.Tx) *bbolt.Bucket {
	root := btx.Bucket([]byte(c.db.name))
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(c.name))
}

func (c *boltCollection) ensureBucket(btx *bbolt.Tx) (*bbolt.Bucket, error) {
	root, err := btx.CreateBucketIfNotExists([]byte(c.db.name))
	if err != nil {
		return nil, err
	}
	return root.CreateBucketIfNotExists([]byte(c.name))
}

func (c *boltCollection) loadEntries(btx *bbolt.Tx) ([]boltEntry, error) {
	cb := c.bucket(btx)
	if cb == nil {
		return nil, nil
	}
	docs := cb.Bucket([]byte(boltDocsBucket))
	if docs == nil {
		return nil, nil
	}
	var entries []boltEntry
	err := docs.ForEach(func(k, v []byte) error {
		var doc bson.M
		if err := bson.Unmarshal(v, &doc); err != nil {
			return err
		}
		entries = append(entries, boltEntry{
			seq: binary.BigEndian.Uint64(k),
			doc: asDocM(normalizeMongoValue(doc)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *boltCollection) loadIndexes(btx *bbolt.Tx) ([]IndexSpec, error) {
	cb := c.bucket(btx)
	if cb == nil {
		return nil, nil
	}
	raw := cb.Get([]byte(boltIndexesKey))
	if raw == nil {
		return nil, nil
	}
	var wrapper struct {
		Indexes []IndexSpec `bson:"indexes"`
	}
	if err := bson.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Indexes, nil
}

func (c *boltCollection) saveIndexes(cb *bbolt.Bucket, specs []IndexSpec) error {
	raw, err := bson.Marshal(bson.M{boltIndexesKey: specs})
	if err != nil {
		return err
	}
	return cb.Put([]byte(boltIndexesKey), raw)
}

func (c *boltCollection) query(opts FindOptions) ([]bson.M, error) {
	var docs []bson.M
	err := c.db.store.bdb.View(func(btx *bbolt.Tx) error {
		entries, err := c.loadEntries(btx)
		if err != nil {
			return err
		}
		if opts.Hint != "" && opts.Hint != storeIDIndex {
			specs, err := c.loadIndexes(btx)
			if err != nil {
				return err
			}
			if !hasIndexSpec(specs, opts.Hint) {
				return fmt.Errorf("hint provided does not correspond to an existing index: %q", opts.Hint)
			}
		}
		docs = make([]bson.M, len(entries))
		for i, e := range entries {
			docs[i] = e.doc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDocuments(docs, opts.Sort)
	docs = applyBounds(docs, opts)
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func hasIndexSpec(specs []IndexSpec, name string) bool {
	for _, spec := range specs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func (c *boltCollection) Find(opts FindOptions) (Iterator, error) {
	docs, err := c.query(opts)
	if err != nil {
		return nil, err
	}
	return &memIterator{docs: docs}, nil
}

func (c *boltCollection) FindOne(opts FindOptions) (bson.M, error) {
	docs, err := c.query(opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (c *boltCollection) BulkWrite(models []WriteModel) (*BulkResult, error) {
	res := &BulkResult{}
	var dupErr error
	err := c.db.store.bdb.Update(func(btx *bbolt.Tx) error {
		cb, err := c.ensureBucket(btx)
		if err != nil {
			return err
		}
		docs, err := cb.CreateBucketIfNotExists([]byte(boltDocsBucket))
		if err != nil {
			return err
		}
		entries, err := c.loadEntries(btx)
		if err != nil {
			return err
		}
		specs, err := c.loadIndexes(btx)
		if err != nil {
			return err
		}

		put := func(seq uint64, doc bson.M) error {
			raw, err := bson.Marshal(doc)
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			return docs.Put(key[:], raw)
		}

		for _, model := range models {
			switch m := model.(type) {
			case DeleteOne:
				if i := findEntry(entries, m.Filter); i >= 0 {
					var key [8]byte
					binary.BigEndian.PutUint64(key[:], entries[i].seq)
					if err := docs.Delete(key[:]); err != nil {
						return err
					}
					entries = append(entries[:i], entries[i+1:]...)
					res.Deleted++
				}
			case ReplaceOne:
				i := findEntry(entries, m.Filter)
				if i < 0 {
					continue
				}
				if spec := uniqueViolationIn(entries, specs, m.Replacement, i); spec != nil {
					dupErr = fmt.Errorf("%w: index: %s", ErrDuplicateKey, spec.Name)
					continue
				}
				if err := put(entries[i].seq, m.Replacement); err != nil {
					return err
				}
				entries[i].doc = m.Replacement
				res.Matched++
				res.Modified++
			case UpdateOne:
				i := findEntry(entries, m.Filter)
				if i < 0 {
					continue
				}
				doc := cloneDocument(entries[i].doc)
				for path, v := range m.Set {
					setPath(doc, path, v)
				}
				if err := put(entries[i].seq, doc); err != nil {
					return err
				}
				entries[i].doc = doc
				res.Matched++
				res.Modified++
			case InsertOne:
				if spec := uniqueViolationIn(entries, specs, m.Document, -1); spec != nil {
					dupErr = fmt.Errorf("%w: index: %s", ErrDuplicateKey, spec.Name)
					continue
				}
				seq, err := docs.NextSequence()
				if err != nil {
					return err
				}
				if err := put(seq, m.Document); err != nil {
					return err
				}
				entries = append(entries, boltEntry{seq: seq, doc: m.Document})
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, dupErr
}

func findEntry(entries []boltEntry, filter bson.D) int {
	for i, e := range entries {
		if matchFilter(e.doc, filter) {
			return i
		}
	}
	return -1
}

func uniqueViolationIn(entries []boltEntry, specs []IndexSpec, candidate bson.M, skip int) *IndexSpec {
	for i := range specs {
		spec := &specs[i]
		if !spec.Unique {
			continue
		}
		key := indexKeyOf(candidate, *spec)
		for j := range entries {
			if j == skip {
				continue
			}
			if sameIndexKey(key, indexKeyOf(entries[j].doc, *spec)) {
				return spec
			}
		}
	}
	return nil
}

func (c *boltCollection) EstimatedCount(maxTime time.Duration) (int64, error) {
	var n int64
	err := c.db.store.bdb.View(func(btx *bbolt.Tx) error {
		cb := c.bucket(btx)
		if cb == nil {
			return nil
		}
		if docs := cb.Bucket([]byte(boltDocsBucket)); docs != nil {
			n = int64(docs.Stats().KeyN)
		}
		return nil
	})
	return n, err
}

func (c *boltCollection) Indexes() IndexView {
	return &boltIndexView{c: c}
}

func (c *boltCollection) Drop() error {
	return c.db.store.bdb.Update(func(btx *bbolt.Tx) error {
		root := btx.Bucket([]byte(c.db.name))
		if root == nil {
			return nil
		}
		err := root.DeleteBucket([]byte(c.name))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

type boltIndexView struct {
	c *boltCollection
}

func (v *boltIndexView) List() ([]IndexSpec, error) {
	var specs []IndexSpec
	err := v.c.db.store.bdb.View(func(btx *bbolt.Tx) error {
		var err error
		specs, err = v.c.loadIndexes(btx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}

func (v *boltIndexView) Create(spec IndexSpec) error {
	return v.c.db.store.bdb.Update(func(btx *bbolt.Tx) error {
		cb, err := v.c.ensureBucket(btx)
		if err != nil {
			return err
		}
		specs, err := v.c.loadIndexes(btx)
		if err != nil {
			return err
		}
		if hasIndexSpec(specs, spec.Name) {
			return nil
		}
		if spec.Unique {
			entries, err := v.c.loadEntries(btx)
			if err != nil {
				return err
			}
			for i := range entries {
				key := indexKeyOf(entries[i].doc, spec)
				for j := i + 1; j < len(entries); j++ {
					if sameIndexKey(key, indexKeyOf(entries[j].doc, spec)) {
						return fmt.Errorf("%w: index build failed: %s", ErrDuplicateKey, spec.Name)
					}
				}
			}
		}
		return v.c.saveIndexes(cb, append(specs, spec))
	})
}

func (v *boltIndexView) DropOne(name string) error {
	return v.c.db.store.bdb.Update(func(btx *bbolt.Tx) error {
		cb := v.c.bucket(btx)
		if cb == nil {
			return fmt.Errorf("index not found: %q", name)
		}
		specs, err := v.c.loadIndexes(btx)
		if err != nil {
			return err
		}
		for i, spec := range specs {
			if spec.Name == name {
				return v.c.saveIndexes(cb, append(specs[:i], specs[i+1:]...))
			}
		}
		return fmt.Errorf("index not found: %q", name)
	})
}
