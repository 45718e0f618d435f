package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const testSysName = "_CHAINDB_"

var (
	testCode  = mustParseName("testcode")
	scopeA    = mustParseName("alpha")
	scopeB    = mustParseName("beta")
	payerName = mustParseName("payer")
)

func tokenTableDef() *TableDef {
	return &TableDef{
		Name: mustParseName("token"),
		Indexes: []IndexDef{
			{Name: mustParseName("primary"), Unique: true, Orders: []OrderDef{
				{Field: "id", Path: []string{"id"}, Type: "uint64", Order: ascOrder},
			}},
			{Name: mustParseName("byvalue"), Orders: []OrderDef{
				{Field: "v", Path: []string{"v"}, Type: "uint64", Order: ascOrder},
			}},
		},
	}
}

func tableInScope(def *TableDef, scope Name) TableInfo {
	return TableInfo{Code: testCode, Scope: scope, Table: def}
}

func indexNamed(info TableInfo, name string) IndexInfo {
	for i := range info.Table.Indexes {
		if info.Table.Indexes[i].Name.String() == name {
			return IndexInfo{TableInfo: info, Index: &info.Table.Indexes[i]}
		}
	}
	panic("no index named " + name)
}

type journalRecord struct {
	table TableInfo
	op    WriteOperation
}

// testJournal drives a write context the way the chain journal does:
// StartTable before each operation (consecutive same-table calls coalesce
// into one group), AddData per operation, then Write.
type testJournal struct {
	pending []journalRecord
}

func (j *testJournal) push(table TableInfo, op WriteOperation) {
	j.pending = append(j.pending, journalRecord{table, op})
}

func (j *testJournal) apply(ctx *WriteContext, keep func(TableInfo) bool) error {
	var rest []journalRecord
	for _, r := range j.pending {
		if !keep(r.table) {
			rest = append(rest, r)
			continue
		}
		ctx.StartTable(r.table)
		if err := ctx.AddData(r.op); err != nil {
			return err
		}
	}
	j.pending = rest
	return ctx.Write()
}

func (j *testJournal) ApplyTableChanges(ctx *WriteContext, table TableInfo) error {
	return j.apply(ctx, func(t TableInfo) bool {
		return t.Code == table.Code && t.TableName() == table.TableName()
	})
}

func (j *testJournal) ApplyCodeChanges(ctx *WriteContext, code Name) error {
	return j.apply(ctx, func(t TableInfo) bool { return t.Code == code })
}

func (j *testJournal) ApplyAllChanges(ctx *WriteContext) error {
	return j.apply(ctx, func(TableInfo) bool { return true })
}

func newTestDriver(t *testing.T) (*Driver, *testJournal) {
	t.Helper()
	jrnl := &testJournal{}
	d := New(NewMemStore(), jrnl, testSysName, Options{})
	return d, jrnl
}

func createTableIndexes(t *testing.T, d *Driver, info TableInfo) {
	t.Helper()
	for i := range info.Table.Indexes {
		idx := IndexInfo{TableInfo: info, Index: &info.Table.Indexes[i]}
		require.NoError(t, d.CreateIndex(idx))
	}
}

func insertOp(info TableInfo, pk PrimaryKey, value bson.M) WriteOperation {
	if value == nil {
		value = bson.M{}
	}
	value[info.PKOrder().Field] = int64(pk)
	return WriteOperation{
		Operation:    OpInsert,
		FindRevision: UnsetRevision,
		Object: ObjectValue{
			Service: ServiceState{
				PK:       pk,
				Code:     info.Code,
				Scope:    info.Scope,
				Table:    info.TableName(),
				Revision: StartRevision,
				Payer:    payerName,
			},
			Value: value,
		},
	}
}

func seedRows(t *testing.T, d *Driver, jrnl *testJournal, info TableInfo, ops ...WriteOperation) {
	t.Helper()
	for _, op := range ops {
		jrnl.push(info, op)
	}
	require.NoError(t, d.ApplyAllChanges())
}

func seedTokenRows(t *testing.T, d *Driver, jrnl *testJournal, info TableInfo, pkv ...[2]int64) {
	t.Helper()
	ops := make([]WriteOperation, 0, len(pkv))
	for _, kv := range pkv {
		ops = append(ops, insertOp(info, PrimaryKey(kv[0]), bson.M{"v": kv[1]}))
	}
	seedRows(t, d, jrnl, info, ops...)
}

func TestCursorReadsApplyPendingChanges(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)

	jrnl.push(info, insertOp(info, 1, bson.M{"v": int64(10)}))
	c := d.LowerBound(indexNamed(info, "primary"), nil)
	require.Equal(t, UnsetPrimaryKey, c.PK())

	// the read drains the journal before observing
	require.NoError(t, d.Current(c))
	require.Equal(t, PrimaryKey(1), c.PK())
	require.Empty(t, jrnl.pending)

	// an open cursor does not re-apply; the new row is invisible to it
	jrnl.push(info, insertOp(info, 2, bson.M{"v": int64(20)}))
	require.NoError(t, d.Next(c))
	require.Equal(t, EndPrimaryKey, c.PK())
	require.Len(t, jrnl.pending, 1)

	// a fresh applied read sees it
	c2 := d.LowerBound(indexNamed(info, "primary"), nil)
	require.NoError(t, d.Current(c2))
	require.NoError(t, d.Next(c2))
	require.Equal(t, PrimaryKey(2), c2.PK())
}

func TestCursorRegistryLifecycle(t *testing.T) {
	d, _ := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	idx := indexNamed(info, "primary")

	c1 := d.Begin(idx)
	c2 := d.Begin(idx)
	c3 := d.Begin(idx)
	require.Equal(t, CursorID(1), c1.ID)
	require.Equal(t, CursorID(2), c2.ID)
	require.Equal(t, CursorID(3), c3.ID)

	got, err := d.Cursor(CursorRequest{Code: testCode, ID: 2})
	require.NoError(t, err)
	require.Same(t, c2, got)

	require.NoError(t, d.CloseCursor(CursorRequest{Code: testCode, ID: 2}))
	_, err = d.Cursor(CursorRequest{Code: testCode, ID: 2})
	require.Equal(t, ErrCodeInvalidCursor, CodeOf(err))

	// ids are allocated past the largest live one
	c4 := d.Begin(idx)
	require.Equal(t, CursorID(4), c4.ID)

	d.CloseCodeCursors(testCode)
	_, err = d.Cursor(CursorRequest{Code: testCode, ID: 1})
	require.Equal(t, ErrCodeInvalidCursor, CodeOf(err))

	// an empty code bucket restarts at 1
	c5 := d.Begin(idx)
	require.Equal(t, CursorID(1), c5.ID)

	_, err = d.Cursor(CursorRequest{Code: mustParseName("nosuch"), ID: 1})
	require.Equal(t, ErrCodeInvalidCursor, CodeOf(err))
}

func TestCloneIndependence(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{1, 10}, [2]int64{2, 20}, [2]int64{3, 30})

	c := d.LowerBound(indexNamed(info, "primary"), nil)
	require.NoError(t, d.Current(c))
	require.NoError(t, d.Next(c))
	require.Equal(t, PrimaryKey(2), c.PK())

	clone, err := d.Clone(CursorRequest{Code: testCode, ID: c.ID})
	require.NoError(t, err)
	require.NotEqual(t, c.ID, clone.ID)
	require.Equal(t, PrimaryKey(2), clone.PK())

	// moving the source does not disturb the clone
	require.NoError(t, d.Next(c))
	require.Equal(t, PrimaryKey(3), c.PK())

	obj, err := d.ObjectAtCursor(clone, false)
	require.NoError(t, err)
	require.Equal(t, PrimaryKey(2), obj.Service.PK)
	require.Equal(t, int64(20), obj.Value["v"])

	// and closing it does not either
	require.NoError(t, d.CloseCursor(CursorRequest{Code: testCode, ID: c.ID}))
	require.NoError(t, d.Next(clone))
	require.Equal(t, PrimaryKey(3), clone.PK())
}

func TestObjectAtCursorDecors(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{1, 10})

	c := d.LowerBound(indexNamed(info, "primary"), nil)
	obj, err := d.ObjectAtCursor(c, true)
	require.NoError(t, err)
	svc, ok := obj.Value[serviceField].(bson.M)
	require.True(t, ok)
	require.Equal(t, int64(StartRevision), svc[revisionField])
	require.Equal(t, payerName.String(), svc[payerField])

	require.Equal(t, Name(scopeA), obj.Service.Scope)
	require.Equal(t, Revision(StartRevision), obj.Service.Revision)
	require.Equal(t, payerName, obj.Service.Payer)
}

func TestObjectAtCursorAtEnd(t *testing.T) {
	d, _ := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)

	c := d.Begin(indexNamed(info, "primary"))
	obj, err := d.ObjectAtCursor(c, false)
	require.NoError(t, err)
	require.True(t, obj.IsNull())
	require.Equal(t, EndPrimaryKey, obj.Service.PK)
	require.Equal(t, testCode, obj.Service.Code)
	require.Equal(t, scopeA, obj.Service.Scope)
	require.Equal(t, def.Name, obj.Service.Table)
}
