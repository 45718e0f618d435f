package chaindb

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// NewMemStore returns a transient in-memory Store implementation intended
// for tests. It reproduces the store semantics the driver relies on: hint
// validation, sort ordering, half-open min/max bounds, unordered bulk writes
// with duplicate-key reporting, and unique-index enforcement.
func NewMemStore() Store {
	return &memStore{dbs: make(map[string]*memDatabase)}
}

type memStore struct {
	dbs    map[string]*memDatabase
	closed bool
}

func (s *memStore) Database(name string) Database {
	return &memDatabase{store: s, name: name}
}

func (s *memStore) ListDatabaseNames() ([]string, error) {
	if s.closed {
		return nil, fmt.Errorf("store closed")
	}
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStore) Close() error {
	s.closed = true
	s.dbs = nil
	return nil
}

type memDatabase struct {
	store *memStore
	name  string
	colls map[string]*memCollection
}

func (db *memDatabase) materialized() *memDatabase {
	if db.store.dbs[db.name] == nil {
		db.store.dbs[db.name] = db
	}
	return db.store.dbs[db.name]
}

func (db *memDatabase) collections() map[string]*memCollection {
	d := db.store.dbs[db.name]
	if d == nil {
		return nil
	}
	return d.colls
}

func (db *memDatabase) Collection(name string) Collection {
	return &memCollectionHandle{db: db, name: name}
}

func (db *memDatabase) ListCollectionNames() ([]string, error) {
	colls := db.collections()
	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *memDatabase) Drop() error {
	delete(db.store.dbs, db.name)
	return nil
}

type memCollection struct {
	docs    []bson.M
	indexes []IndexSpec
}

type memCollectionHandle struct {
	db   *memDatabase
	name string
}

func (h *memCollectionHandle) get() *memCollection {
	colls := h.db.collections()
	if colls == nil {
		return nil
	}
	return colls[h.name]
}

func (h *memCollectionHandle) ensure() *memCollection {
	d := h.db.materialized()
	if d.colls == nil {
		d.colls = make(map[string]*memCollection)
	}
	c := d.colls[h.name]
	if c == nil {
		c = &memCollection{}
		d.colls[h.name] = c
	}
	return c
}

func (h *memCollectionHandle) Find(opts FindOptions) (Iterator, error) {
	docs, err := h.query(opts)
	if err != nil {
		return nil, err
	}
	return &memIterator{docs: docs}, nil
}

func (h *memCollectionHandle) FindOne(opts FindOptions) (bson.M, error) {
	docs, err := h.query(opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (h *memCollectionHandle) query(opts FindOptions) ([]bson.M, error) {
	c := h.get()
	if c == nil {
		return nil, nil
	}
	if opts.Hint != "" && opts.Hint != storeIDIndex && !c.hasIndex(opts.Hint) {
		return nil, fmt.Errorf("hint provided does not correspond to an existing index: %q", opts.Hint)
	}
	docs := make([]bson.M, len(c.docs))
	copy(docs, c.docs)
	sortDocuments(docs, opts.Sort)
	docs = applyBounds(docs, opts)
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func (c *memCollection) hasIndex(name string) bool {
	for _, spec := range c.indexes {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func (c *memCollection) findDoc(filter bson.D) int {
	for i, doc := range c.docs {
		if matchFilter(doc, filter) {
			return i
		}
	}
	return -1
}

// uniqueViolation checks candidate against every unique index, ignoring the
// document at skip (the one being replaced).
func (c *memCollection) uniqueViolation(candidate bson.M, skip int) *IndexSpec {
	for i := range c.indexes {
		spec := &c.indexes[i]
		if !spec.Unique {
			continue
		}
		key := indexKeyOf(candidate, *spec)
		for j, doc := range c.docs {
			if j == skip {
				continue
			}
			if sameIndexKey(key, indexKeyOf(doc, *spec)) {
				return spec
			}
		}
	}
	return nil
}

func (h *memCollectionHandle) BulkWrite(models []WriteModel) (*BulkResult, error) {
	c := h.ensure()
	res := &BulkResult{}
	var dups []string
	for _, model := range models {
		switch m := model.(type) {
		case DeleteOne:
			if i := c.findDoc(m.Filter); i >= 0 {
				c.docs = append(c.docs[:i], c.docs[i+1:]...)
				res.Deleted++
			}
		case ReplaceOne:
			i := c.findDoc(m.Filter)
			if i < 0 {
				continue
			}
			if spec := c.uniqueViolation(m.Replacement, i); spec != nil {
				dups = append(dups, fmt.Sprintf("E11000 duplicate key error index: %s", spec.Name))
				continue
			}
			c.docs[i] = m.Replacement
			res.Matched++
			res.Modified++
		case UpdateOne:
			i := c.findDoc(m.Filter)
			if i < 0 {
				continue
			}
			doc := cloneDocument(c.docs[i])
			for path, v := range m.Set {
				setPath(doc, path, v)
			}
			c.docs[i] = doc
			res.Matched++
			res.Modified++
		case InsertOne:
			if spec := c.uniqueViolation(m.Document, -1); spec != nil {
				dups = append(dups, fmt.Sprintf("E11000 duplicate key error index: %s", spec.Name))
				continue
			}
			c.docs = append(c.docs, m.Document)
			res.Inserted++
		}
	}
	if len(dups) > 0 {
		return res, fmt.Errorf("%w: %s", ErrDuplicateKey, strings.Join(dups, "; "))
	}
	return res, nil
}

func cloneDocument(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if sub, ok := v.(bson.M); ok {
			out[k] = cloneDocument(sub)
		} else {
			out[k] = v
		}
	}
	return out
}

func (h *memCollectionHandle) EstimatedCount(maxTime time.Duration) (int64, error) {
	c := h.get()
	if c == nil {
		return 0, nil
	}
	return int64(len(c.docs)), nil
}

func (h *memCollectionHandle) Indexes() IndexView {
	return &memIndexView{h: h}
}

func (h *memCollectionHandle) Drop() error {
	colls := h.db.collections()
	if colls != nil {
		delete(colls, h.name)
	}
	return nil
}

type memIndexView struct {
	h *memCollectionHandle
}

func (v *memIndexView) List() ([]IndexSpec, error) {
	c := v.h.get()
	if c == nil {
		return nil, nil
	}
	return append([]IndexSpec(nil), c.indexes...), nil
}

func (v *memIndexView) Create(spec IndexSpec) error {
	c := v.h.ensure()
	if c.hasIndex(spec.Name) {
		return nil
	}
	if spec.Unique {
		for i, doc := range c.docs {
			key := indexKeyOf(doc, spec)
			for j := i + 1; j < len(c.docs); j++ {
				if sameIndexKey(key, indexKeyOf(c.docs[j], spec)) {
					return fmt.Errorf("%w: index build failed: %s", ErrDuplicateKey, spec.Name)
				}
			}
		}
	}
	c.indexes = append(c.indexes, spec)
	return nil
}

func (v *memIndexView) DropOne(name string) error {
	c := v.h.get()
	if c == nil {
		return fmt.Errorf("index not found: %q", name)
	}
	for i, spec := range c.indexes {
		if spec.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("index not found: %q", name)
}

type memIterator struct {
	docs []bson.M
	pos  int
}

func (it *memIterator) Valid() bool {
	return it.pos < len(it.docs)
}

func (it *memIterator) Next() error {
	if it.pos < len(it.docs) {
		it.pos++
	}
	return nil
}

func (it *memIterator) Current() bson.M {
	return it.docs[it.pos]
}

func (it *memIterator) Close() error {
	return nil
}
