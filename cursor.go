package chaindb

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Cursor is a lazy range iterator over one index of one (code, table,
// scope). It holds a position (find key + find pk + direction) and opens a
// server-side iterator on first use; direction changes re-locate from the
// current row instead of copying the iterator.
type Cursor struct {
	ID    CursorID
	Index IndexInfo

	driver *Driver

	dir     direction
	findPK  PrimaryKey
	findKey bson.M

	source Iterator
	object ObjectValue
	pk     PrimaryKey
	scope  Name

	skippedPKs map[PrimaryKey]struct{}
}

func newCursor(id CursorID, index IndexInfo, d *Driver) *Cursor {
	return &Cursor{
		ID:     id,
		Index:  index,
		driver: d,
		dir:    forward,
		findPK: UnsetPrimaryKey,
		pk:     UnsetPrimaryKey,
	}
}

// PK returns the primary key at the cursor position: a real key, End past
// the range, or, before the first observation, the pk the cursor was opened
// with (Unset for lower_bound/begin, End for end, the given pk for locate).
func (c *Cursor) PK() PrimaryKey {
	return c.pk
}

// open re-arms the cursor for a new position. Lazy: the server is not
// contacted until the position is observed.
func (c *Cursor) open(dir direction, key bson.M, locatePK PrimaryKey) *Cursor {
	c.resetObject()
	c.dropSource()

	c.pk = locatePK
	c.scope = c.Index.Scope
	c.dir = dir

	c.findPK = locatePK
	c.findKey = key

	return c
}

func (c *Cursor) next() error {
	if c.dir == backward {
		// we are at the last record of a range; its key is needed for
		// correct locating
		if err := c.lazyOpen(); err != nil {
			return err
		}
		wasEnd := c.isEnd()
		if err := c.changeDirection(forward); err != nil {
			return err
		}
		if wasEnd {
			return c.lazyOpen()
		}
	}
	return c.lazyNext()
}

func (c *Cursor) prev() error {
	switch {
	case c.dir == forward:
		if err := c.changeDirection(backward); err != nil {
			return err
		}
		return c.lazyOpen()
	case c.pk == EndPrimaryKey:
		return c.lazyOpen()
	default:
		return c.lazyNext()
	}
}

func (c *Cursor) current() error {
	if c.pk == UnsetPrimaryKey {
		return c.lazyOpen()
	}
	return nil
}

// getObjectValue decodes and caches the row at the cursor position. Past the
// range it returns a null-valued object carrying only the table triple.
func (c *Cursor) getObjectValue(withDecors bool) (ObjectValue, error) {
	if err := c.lazyOpen(); err != nil {
		return ObjectValue{}, err
	}
	if !c.object.IsNull() {
		return c.object, nil
	}

	if c.isEnd() {
		c.object.Clear()
		c.object.Service.PK = c.pk
		c.object.Service.Code = c.Index.Code
		c.object.Service.Scope = c.Index.Scope
		c.object.Service.Table = c.Index.TableName()
	} else {
		obj, err := buildObject(c.Index, c.source.Current(), withDecors)
		if err != nil {
			return ObjectValue{}, err
		}
		c.object = obj
		c.pk = obj.Service.PK
	}

	return c.object, nil
}

func (c *Cursor) isOpened() bool {
	return c.source != nil
}

// skipPK biases subsequent advances away from pk until the source is
// re-established. The initial landing is not affected.
func (c *Cursor) skipPK(pk PrimaryKey) {
	if !c.isOpened() {
		return
	}
	if c.skippedPKs == nil {
		c.skippedPKs = make(map[PrimaryKey]struct{}, 64)
	}
	c.skippedPKs[pk] = struct{}{}
}

// clone copies the cursor position into a new cursor. A live source iterator
// cannot be shared, so the clone starts from the cached row (direction
// forced forward) and re-locates on first use.
func (c *Cursor) clone(id CursorID) (*Cursor, error) {
	dst := newCursor(id, c.Index, c.driver)

	if c.source != nil {
		// it is faster to take the object from the open cursor than to open
		// a new one, locate, and fetch
		obj, err := c.getObjectValue(false)
		if err != nil {
			return nil, err
		}
		dst.object = obj
		dst.findKey = obj.Value
		dst.findPK = c.pkValue()
		// direction is not copied: backward would restart from the previous
		// row, not the current one
		dst.dir = forward
	} else {
		dst.findKey = c.findKey
		dst.findPK = c.findPK
		dst.object = c.object
		dst.dir = c.dir
	}

	dst.pk = c.pk
	dst.scope = c.Index.Scope

	return dst, nil
}

func (c *Cursor) changeDirection(dir direction) error {
	if c.source == nil {
		if _, err := c.getObjectValue(false); err != nil {
			return err
		}
	}
	if c.source != nil {
		obj, err := c.getObjectValue(false)
		if err != nil {
			return err
		}
		c.findKey = obj.Value
		c.findPK = c.pkValue()
	}
	c.dropSource()
	c.dir = dir
	return nil
}

func (c *Cursor) resetObject() {
	c.pk = UnsetPrimaryKey
	if !c.object.IsNull() {
		c.object.Clear()
	}
}

func (c *Cursor) dropSource() {
	if c.source != nil {
		c.source.Close()
		c.source = nil
	}
}

func (c *Cursor) lazyOpen() error {
	if c.source != nil {
		return nil
	}

	bound, err := makeBoundDocument(c.Index, c.dir, c.findKey, c.findPK)
	if err != nil {
		return err
	}
	sortDoc := makeSortDocument(c.Index, c.dir)

	// subsequent moves rely on the source iterator
	c.findPK = UnsetPrimaryKey

	opts := FindOptions{
		Hint: indexDBName(c.Index.Index.Name),
		Sort: sortDoc,
	}
	if c.dir == forward {
		opts.Min = bound
	} else {
		opts.Max = bound
	}

	coll := c.driver.tableCollection(c.Index.TableInfo)
	return c.driver.withReconnect(func() error {
		c.skippedPKs = nil
		c.dropSource()
		source, err := coll.Find(opts)
		if err != nil {
			return err
		}
		c.source = source
		return c.primePosition()
	})
}

// isEnd reports range exhaustion: either the source iterator ran out, or a
// scoped scan crossed the scope boundary (unless the index ignores scopes).
func (c *Cursor) isEnd() bool {
	if !c.source.Valid() {
		return true
	}
	if !c.Index.isNoScope() {
		return !c.Index.ignoreScope() && c.scope != c.Index.Scope
	}
	return false
}

func (c *Cursor) lazyNext() error {
	if err := c.lazyOpen(); err != nil {
		return err
	}

	for !c.isEnd() {
		if err := c.source.Next(); err != nil {
			c.driver.log.Error().Err(err).Msg("store error on iterate to next object")
			return driverErrf(ErrCodeOpen, err, "store error on iterate to next object")
		}
		if err := c.primePosition(); err != nil {
			return err
		}
		if _, skip := c.skippedPKs[c.pk]; !skip {
			break
		}
	}
	return nil
}

// primePosition refreshes the cached scope and pk from the source iterator.
// A backward scan that ran out keeps its pk (End stays End).
func (c *Cursor) primePosition() error {
	c.initScopeValue()
	if !c.isEnd() || c.dir == forward {
		c.resetObject()
		return c.initPKValue()
	}
	return nil
}

func (c *Cursor) initScopeValue() {
	if c.source.Valid() {
		c.scope = getScopeValue(c.source.Current())
	}
}

func (c *Cursor) initPKValue() error {
	if c.isEnd() {
		c.pk = EndPrimaryKey
		return nil
	}
	pk, err := getPKValue(c.Index.TableInfo, c.source.Current())
	if err != nil {
		return err
	}
	c.pk = pk
	return nil
}

// pkValue returns the pk at the position, initializing it if needed.
func (c *Cursor) pkValue() PrimaryKey {
	if c.pk == UnsetPrimaryKey {
		_ = c.initPKValue()
	}
	return c.pk
}
