package chaindb

import (
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"
)

// PrimaryKey is the unique per-row id within a (code, table, scope).
type PrimaryKey uint64

const (
	// EndPrimaryKey marks a cursor positioned past the range.
	EndPrimaryKey PrimaryKey = math.MaxUint64
	// UnsetPrimaryKey marks a cursor that has not observed a row yet.
	UnsetPrimaryKey PrimaryKey = math.MaxUint64 - 1
)

// IsGood reports whether pk is a real key rather than a sentinel.
func (pk PrimaryKey) IsGood() bool {
	return pk < UnsetPrimaryKey
}

// Revision is a monotonically increasing row version.
type Revision int64

const (
	UnsetRevision Revision = -1
	// StartRevision is the lowest revision of a really written row.
	StartRevision Revision = 1
)

const (
	ascOrder  = "asc"
	descOrder = "desc"
)

// OrderDef describes one ordered field of an index.
type OrderDef struct {
	Field string
	Path  []string
	Type  string
	Order string // ascOrder or descOrder
}

// IndexDef is the logical definition of a secondary index. The first index
// of a table is the primary one; its first order is the primary key.
type IndexDef struct {
	Name   Name
	Unique bool
	Orders []OrderDef
}

// TableDef is the logical definition of a table. NoScope tables do not store
// a scope value at all. IgnoreScope makes every index of a scoped table scan
// across scope boundaries; it is a table-wide flag and cannot be set for a
// single index. The two flags are distinct concepts.
type TableDef struct {
	Name        Name
	NoScope     bool
	IgnoreScope bool
	RowCount    int64
	Indexes     []IndexDef
}

// PKIndex returns the primary index definition.
func (t *TableDef) PKIndex() *IndexDef {
	return &t.Indexes[0]
}

// TableInfo identifies a concrete (code, table, scope) triple together with
// the table's schema, as provided by the schema registry.
type TableInfo struct {
	Code  Name
	Scope Name
	Table *TableDef
}

func (t TableInfo) TableName() Name {
	return t.Table.Name
}

// PKOrder returns the primary key order (the first order of the primary
// index).
func (t TableInfo) PKOrder() *OrderDef {
	return &t.Table.Indexes[0].Orders[0]
}

func (t TableInfo) isNoScope() bool {
	return t.Table.NoScope
}

func (t TableInfo) fullName() string {
	return fmt.Sprintf("%s.%s", t.Code, t.TableName())
}

// IndexInfo narrows a TableInfo to one of the table's indexes.
type IndexInfo struct {
	TableInfo
	Index *IndexDef
}

func (i IndexInfo) ignoreScope() bool {
	return i.Table.IgnoreScope
}

// ServiceState is the service header carried by every stored row.
type ServiceState struct {
	PK       PrimaryKey
	Code     Name
	Scope    Name
	Table    Name
	Revision Revision
	Payer    Name
}

// ObjectValue is an opaque structured row value plus its service header.
// A null-valued object carries only the header.
type ObjectValue struct {
	Service ServiceState
	Value   bson.M
}

// IsNull reports whether the object carries no row payload.
func (o *ObjectValue) IsNull() bool {
	return o.Value == nil
}

// Clear drops both the payload and the service header.
func (o *ObjectValue) Clear() {
	*o = ObjectValue{}
}

// OpKind identifies a pending journal mutation.
type OpKind int

const (
	OpUnknown OpKind = iota
	OpInsert
	OpUpdate
	OpRevision
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpUnknown:
		return "unknown"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRevision:
		return "revision"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("invalid op %d", int(k))
	}
}

// WriteOperation is one pending mutation enumerated by the journal.
// FindRevision is the revision the row had when it was read; with the
// update_pk_with_revision mode it pins updates to that revision.
type WriteOperation struct {
	Operation    OpKind
	Object       ObjectValue
	FindRevision Revision
}

// CursorID identifies a cursor within its code bucket.
type CursorID uint64

// CursorRequest addresses a previously returned cursor.
type CursorRequest struct {
	Code Name
	ID   CursorID
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
