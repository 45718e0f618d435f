package chaindb

// cursorRegistry is the two-level cursor map: code -> (id -> cursor).
// Ids are allocated as max(existing)+1 within the code bucket, starting at 1.
type cursorRegistry struct {
	codes map[Name]map[CursorID]*Cursor
}

func newCursorRegistry() cursorRegistry {
	return cursorRegistry{codes: make(map[Name]map[CursorID]*Cursor)}
}

func (r *cursorRegistry) nextID(code Name) CursorID {
	var last CursorID
	for id := range r.codes[code] {
		if id > last {
			last = id
		}
	}
	return last + 1
}

func (r *cursorRegistry) add(c *Cursor) *Cursor {
	m := r.codes[c.Index.Code]
	if m == nil {
		m = make(map[CursorID]*Cursor)
		r.codes[c.Index.Code] = m
	}
	m[c.ID] = c
	return c
}

func (r *cursorRegistry) get(req CursorRequest) (*Cursor, error) {
	m := r.codes[req.Code]
	if m == nil {
		return nil, driverErrf(ErrCodeInvalidCursor, nil,
			"the cursor map for the code %s doesn't exist", req.Code)
	}
	c := m[req.ID]
	if c == nil {
		return nil, driverErrf(ErrCodeInvalidCursor, nil,
			"the cursor %s.%d doesn't exist", req.Code, req.ID)
	}
	return c, nil
}

func (r *cursorRegistry) close(req CursorRequest) error {
	c, err := r.get(req)
	if err != nil {
		return err
	}
	c.dropSource()
	m := r.codes[req.Code]
	delete(m, req.ID)
	if len(m) == 0 {
		delete(r.codes, req.Code)
	}
	return nil
}

func (r *cursorRegistry) closeCode(code Name) {
	for _, c := range r.codes[code] {
		c.dropSource()
	}
	delete(r.codes, code)
}

func (r *cursorRegistry) empty() bool {
	return len(r.codes) == 0
}

func (r *cursorRegistry) clear() {
	for code := range r.codes {
		r.closeCode(code)
	}
}

// eachOfCode visits every cursor of a code.
func (r *cursorRegistry) eachOfCode(code Name, fn func(c *Cursor)) {
	for _, c := range r.codes[code] {
		fn(c)
	}
}
