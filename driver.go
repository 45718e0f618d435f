package chaindb

import (
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
)

// Driver is the public surface of the storage driver. It owns the store
// handle, the cursor registry, the journal reference and the mode flags.
// The driver is single-owner: concurrent access is the caller's
// responsibility.
type Driver struct {
	store   Store
	journal Journal
	sysName string
	log     zerolog.Logger

	cursors cursorRegistry

	skipOpCntChecking    bool
	updatePKWithRevision bool
}

type Options struct {
	// Logger for reconnect and write diagnostics; discarded when nil.
	Logger *zerolog.Logger
}

// New creates a driver over a store. sysName is the prefix of every database
// the driver owns.
func New(store Store, journal Journal, sysName string, opt Options) *Driver {
	log := zerolog.Nop()
	if opt.Logger != nil {
		log = *opt.Logger
	}
	return &Driver{
		store:   store,
		journal: journal,
		sysName: sysName,
		log:     log,
		cursors: newCursorRegistry(),
	}
}

// Close closes the backing store.
func (d *Driver) Close() error {
	return d.store.Close()
}

func (d *Driver) collection(code, table Name) Collection {
	return d.store.Database(codeDBName(d.sysName, code)).Collection(tableCollectionName(table))
}

func (d *Driver) tableCollection(table TableInfo) Collection {
	return d.collection(table.Code, table.TableName())
}

// EnableRevBadUpdate pins updates/removes to the revision the row was read
// at, and enables undo restore.
func (d *Driver) EnableRevBadUpdate() {
	d.updatePKWithRevision = true
	d.EnableUndoRestore()
}

func (d *Driver) DisableRevBadUpdate() {
	d.updatePKWithRevision = false
	d.DisableUndoRestore()
}

// EnableUndoRestore disables the post-bulk row-count assertions while undo
// records are being replayed.
func (d *Driver) EnableUndoRestore() {
	d.skipOpCntChecking = true
}

func (d *Driver) DisableUndoRestore() {
	d.skipOpCntChecking = false
}

// ApplyCodeChanges drains the journal's pending changes of one code.
func (d *Driver) ApplyCodeChanges(code Name) error {
	return d.journal.ApplyCodeChanges(d.newWriteContext(), code)
}

// ApplyAllChanges drains every pending journal change.
func (d *Driver) ApplyAllChanges() error {
	return d.journal.ApplyAllChanges(d.newWriteContext())
}

func (d *Driver) applyTableChanges(table TableInfo) error {
	return d.journal.ApplyTableChanges(d.newWriteContext(), table)
}

// getAppliedCursor flushes pending changes of the cursor's table unless the
// cursor already observes an open range.
func (d *Driver) getAppliedCursor(c *Cursor) error {
	if !c.isOpened() {
		return d.applyTableChanges(c.Index.TableInfo)
	}
	return nil
}

func (d *Driver) createCursor(index IndexInfo) *Cursor {
	id := d.cursors.nextID(index.Code)
	return d.cursors.add(newCursor(id, index, d))
}

func (d *Driver) createAppliedCursor(index IndexInfo) (*Cursor, error) {
	if err := d.applyTableChanges(index.TableInfo); err != nil {
		return nil, err
	}
	return d.createCursor(index), nil
}

// LowerBound opens a cursor positioned at the first row equal to or after
// key. Pending changes are not applied; the caller may navigate later
// through the applying entry points.
func (d *Driver) LowerBound(index IndexInfo, key bson.M) *Cursor {
	return d.createCursor(index).open(forward, key, UnsetPrimaryKey)
}

// UpperBound opens a cursor positioned after the last row equal to key.
// The store's max bound excludes the key from a backward scan, so the cursor
// opens backward at the key, steps forward onto the first row >= key, and
// steps once more if that row still matches the key.
func (d *Driver) UpperBound(index IndexInfo, key bson.M) (*Cursor, error) {
	c, err := d.createAppliedCursor(index)
	if err != nil {
		return nil, err
	}
	c.open(backward, key, UnsetPrimaryKey)
	if err := c.next(); err != nil {
		return nil, err
	}

	obj, err := c.getObjectValue(false)
	if err != nil {
		return nil, err
	}
	if obj.Value != nil && len(key) > 0 && containsDocument(obj.Value, key) {
		if err := c.next(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LocateTo opens a cursor positioned at (key, pk). Pending changes are not
// applied.
func (d *Driver) LocateTo(index IndexInfo, key bson.M, pk PrimaryKey) *Cursor {
	return d.createCursor(index).open(forward, key, pk)
}

// Begin opens a cursor at the first row of the range. Pending changes are
// not applied.
func (d *Driver) Begin(index IndexInfo) *Cursor {
	return d.createCursor(index).open(forward, nil, UnsetPrimaryKey)
}

// End opens a cursor past the last row of the range. Pending changes are not
// applied.
func (d *Driver) End(index IndexInfo) *Cursor {
	return d.createCursor(index).open(backward, nil, EndPrimaryKey)
}

// Cursor returns a previously opened cursor without applying pending
// changes.
func (d *Driver) Cursor(req CursorRequest) (*Cursor, error) {
	return d.cursors.get(req)
}

// Clone copies a cursor position into a new cursor of the same code bucket.
func (d *Driver) Clone(req CursorRequest) (*Cursor, error) {
	src, err := d.cursors.get(req)
	if err != nil {
		return nil, err
	}
	dst, err := src.clone(d.cursors.nextID(req.Code))
	if err != nil {
		return nil, err
	}
	return d.cursors.add(dst), nil
}

// CloseCursor closes one cursor.
func (d *Driver) CloseCursor(req CursorRequest) error {
	return d.cursors.close(req)
}

// CloseCodeCursors closes every cursor of a code.
func (d *Driver) CloseCodeCursors(code Name) {
	d.cursors.closeCode(code)
}

// Current materializes the cursor position if it has not been observed yet.
func (d *Driver) Current(c *Cursor) error {
	if err := d.getAppliedCursor(c); err != nil {
		return err
	}
	return c.current()
}

// Next advances the cursor to the following row.
func (d *Driver) Next(c *Cursor) error {
	if err := d.getAppliedCursor(c); err != nil {
		return err
	}
	return c.next()
}

// Prev moves the cursor to the preceding row; from End it lands on the last
// row of the range.
func (d *Driver) Prev(c *Cursor) error {
	if err := d.getAppliedCursor(c); err != nil {
		return err
	}
	return c.prev()
}

// ObjectAtCursor returns the row at the cursor position.
func (d *Driver) ObjectAtCursor(c *Cursor, withDecors bool) (ObjectValue, error) {
	if err := d.getAppliedCursor(c); err != nil {
		return ObjectValue{}, err
	}
	return c.getObjectValue(withDecors)
}

// SkipPK hides pk from every open cursor of the table's code whose index
// scope matches the table scope.
func (d *Driver) SkipPK(table TableInfo, pk PrimaryKey) {
	d.cursors.eachOfCode(table.Code, func(c *Cursor) {
		if c.Index.Scope == table.Scope {
			c.skipPK(pk)
		}
	})
}
