package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func updateOp(info TableInfo, pk PrimaryKey, value bson.M, findRev Revision) WriteOperation {
	op := insertOp(info, pk, value)
	op.Operation = OpUpdate
	op.FindRevision = findRev
	op.Object.Service.Revision = findRev + 1
	return op
}

func removeOp(info TableInfo, pk PrimaryKey) WriteOperation {
	return WriteOperation{
		Operation:    OpRemove,
		FindRevision: UnsetRevision,
		Object: ObjectValue{
			Service: ServiceState{PK: pk, Code: info.Code, Scope: info.Scope, Table: info.TableName()},
		},
	}
}

func revisionOp(info TableInfo, pk PrimaryKey, rev Revision) WriteOperation {
	return WriteOperation{
		Operation:    OpRevision,
		FindRevision: UnsetRevision,
		Object: ObjectValue{
			Service: ServiceState{PK: pk, Code: info.Code, Scope: info.Scope, Table: info.TableName(), Revision: rev, Payer: payerName},
		},
	}
}

func TestStartTableCoalescesAdjacentOperations(t *testing.T) {
	d, _ := newTestDriver(t)
	def := tokenTableDef()
	other := &TableDef{
		Name: mustParseName("stats"),
		Indexes: []IndexDef{
			{Name: mustParseName("primary"), Unique: true, Orders: []OrderDef{
				{Field: "id", Path: []string{"id"}, Type: "uint64", Order: ascOrder},
			}},
		},
	}
	tokenInfo := tableInScope(def, scopeA)
	statsInfo := tableInScope(other, scopeA)

	ctx := d.newWriteContext()
	ctx.StartTable(tokenInfo)
	require.NoError(t, ctx.AddData(insertOp(tokenInfo, 1, nil)))
	ctx.StartTable(tokenInfo) // same table: no new group
	require.NoError(t, ctx.AddData(insertOp(tokenInfo, 2, nil)))
	ctx.StartTable(statsInfo)
	require.NoError(t, ctx.AddData(insertOp(statsInfo, 1, nil)))
	ctx.StartTable(tokenInfo) // revisit: a new group preserving order
	require.NoError(t, ctx.AddData(removeOp(tokenInfo, 1)))

	require.Len(t, ctx.bulkList, 3)
	require.Len(t, ctx.bulkList[0].insert, 2)
	require.Len(t, ctx.bulkList[1].insert, 1)
	require.Len(t, ctx.bulkList[2].remove, 1)
	require.Equal(t, def.Name, ctx.bulkList[0].table)
	require.Equal(t, other.Name, ctx.bulkList[1].table)
	require.Equal(t, def.Name, ctx.bulkList[2].table)

	// a scope change alone does not split the group
	ctx2 := d.newWriteContext()
	ctx2.StartTable(tableInScope(def, scopeA))
	require.NoError(t, ctx2.AddData(insertOp(tableInScope(def, scopeA), 1, nil)))
	ctx2.StartTable(tableInScope(def, scopeB))
	require.NoError(t, ctx2.AddData(insertOp(tableInScope(def, scopeB), 1, nil)))
	require.Len(t, ctx2.bulkList, 1)
	require.Len(t, ctx2.bulkList[0].insert, 2)
}

func TestUnknownOperationFailsWithoutMutatingGroup(t *testing.T) {
	d, _ := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)

	ctx := d.newWriteContext()
	ctx.StartTable(info)
	err := ctx.AddData(WriteOperation{Operation: OpUnknown})
	require.Equal(t, ErrCodeWrite, CodeOf(err))

	group := ctx.bulkList[0]
	require.Empty(t, group.insert)
	require.Empty(t, group.update)
	require.Empty(t, group.revision)
	require.Empty(t, group.remove)
}

func TestAddDataBeforeStartTableFails(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := d.newWriteContext()
	err := ctx.AddData(insertOp(tableInScope(tokenTableDef(), scopeA), 1, nil))
	require.Equal(t, ErrCodeWrite, CodeOf(err))
}

func TestRemoveBulkRunsBeforeInsertBulk(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{2, 20}, [2]int64{3, 30})

	// insert 1, remove 2, update 3, insert 2 again: the pk of the removed
	// row is reusable within the same group
	jrnl.push(info, insertOp(info, 1, bson.M{"v": int64(11)}))
	jrnl.push(info, removeOp(info, 2))
	jrnl.push(info, updateOp(info, 3, bson.M{"v": int64(33)}, StartRevision))
	jrnl.push(info, insertOp(info, 2, bson.M{"v": int64(22)}))
	require.NoError(t, d.ApplyAllChanges())

	for pk, v := range map[PrimaryKey]int64{1: 11, 2: 22, 3: 33} {
		obj, err := d.ObjectByPK(info, pk)
		require.NoError(t, err)
		require.Equal(t, pk, obj.Service.PK)
		require.Equal(t, v, obj.Value["v"])
	}
}

func TestDuplicateKeyIsStickyAndRaisedAfterAllGroups(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	other := &TableDef{
		Name: mustParseName("stats"),
		Indexes: []IndexDef{
			{Name: mustParseName("primary"), Unique: true, Orders: []OrderDef{
				{Field: "id", Path: []string{"id"}, Type: "uint64", Order: ascOrder},
			}},
		},
	}
	tokenInfo := tableInScope(def, scopeA)
	statsInfo := tableInScope(other, scopeA)
	createTableIndexes(t, d, tokenInfo)
	createTableIndexes(t, d, statsInfo)

	jrnl.push(tokenInfo, insertOp(tokenInfo, 1, bson.M{"v": int64(10)}))
	jrnl.push(tokenInfo, insertOp(tokenInfo, 1, bson.M{"v": int64(11)}))
	jrnl.push(statsInfo, insertOp(statsInfo, 7, nil))

	err := d.ApplyAllChanges()
	require.Equal(t, ErrCodeDuplicate, CodeOf(err))

	// surviving groups' effects remain
	obj, err := d.ObjectByPK(statsInfo, 7)
	require.NoError(t, err)
	require.Equal(t, PrimaryKey(7), obj.Service.PK)
	obj, err = d.ObjectByPK(tokenInfo, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), obj.Value["v"])
}

func TestRevisionOpWritesServiceOnly(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{1, 10})

	jrnl.push(info, revisionOp(info, 1, 9))
	require.NoError(t, d.ApplyAllChanges())

	obj, err := d.ObjectByPK(info, 1)
	require.NoError(t, err)
	require.Equal(t, Revision(9), obj.Service.Revision)
	// the row payload is untouched
	require.Equal(t, int64(10), obj.Value["v"])
}

func TestBulkCountLaw(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{1, 10}, [2]int64{2, 20}, [2]int64{3, 30})

	ctx := d.newWriteContext()
	ctx.StartTable(info)
	group := ctx.bulkList[0]
	require.NoError(t, ctx.AddData(removeOp(info, 1)))
	require.NoError(t, ctx.AddData(updateOp(info, 2, bson.M{"v": int64(21)}, UnsetRevision)))
	require.NoError(t, ctx.AddData(revisionOp(info, 3, 5)))
	require.NoError(t, ctx.AddData(insertOp(info, 4, bson.M{"v": int64(40)})))

	coll := d.tableCollection(info)
	res, err := coll.BulkWrite([]WriteModel{DeleteOne{Filter: group.remove[0].filter}})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Deleted)

	res, err = coll.BulkWrite([]WriteModel{
		ReplaceOne{Filter: group.update[0].filter, Replacement: group.update[0].data},
		UpdateOne{Filter: group.revision[0].filter, Set: group.revision[0].data},
		InsertOne{Document: group.insert[0].data},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Matched+res.Inserted)
}

func TestWriteFailsOnBadBulkCounts(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)

	// updating a row that does not exist matches nothing
	jrnl.push(info, updateOp(info, 42, bson.M{"v": int64(1)}, UnsetRevision))
	err := d.ApplyAllChanges()
	require.Equal(t, ErrCodeOpen, CodeOf(err))

	// undo restore mode skips the count assertions
	d.EnableUndoRestore()
	jrnl.push(info, updateOp(info, 42, bson.M{"v": int64(1)}, UnsetRevision))
	require.NoError(t, d.ApplyAllChanges())
	d.DisableUndoRestore()
}

func TestUpdatePKWithRevisionPinsFilter(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)
	seedTokenRows(t, d, jrnl, info, [2]int64{1, 10})

	d.EnableRevBadUpdate()
	defer d.DisableRevBadUpdate()

	ctx := d.newWriteContext()
	ctx.StartTable(info)
	require.NoError(t, ctx.AddData(updateOp(info, 1, bson.M{"v": int64(11)}, StartRevision)))
	filter := ctx.bulkList[0].update[0].filter
	require.Contains(t, filter, bson.E{Key: revisionPath, Value: int64(StartRevision)})

	// the pinned update lands on the row that still has the read revision
	require.NoError(t, ctx.Write())
	obj, err := d.ObjectByPK(info, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11), obj.Value["v"])

	// a stale pin matches nothing and is tolerated in undo-restore mode
	ctx = d.newWriteContext()
	ctx.StartTable(info)
	require.NoError(t, ctx.AddData(updateOp(info, 1, bson.M{"v": int64(12)}, 7)))
	require.NoError(t, ctx.Write())
	obj, err = d.ObjectByPK(info, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11), obj.Value["v"])
}

func TestUndoBulksBracketUserTables(t *testing.T) {
	d, _ := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)

	undoObj := ObjectValue{
		Service: ServiceState{PK: 100, Code: info.Code, Scope: info.Scope, Table: info.TableName(), Revision: 3, Payer: payerName},
		Value:   bson.M{"id": int64(1), "v": int64(10)},
	}

	ctx := d.newWriteContext()
	ctx.StartTable(info)
	require.NoError(t, ctx.AddPrepareUndo(WriteOperation{Operation: OpInsert, Object: undoObj}))
	require.NoError(t, ctx.AddData(insertOp(info, 1, bson.M{"v": int64(10)})))
	require.NoError(t, ctx.AddCompleteUndo(WriteOperation{Operation: OpRemove, Object: undoObj}))
	require.NoError(t, ctx.Write())

	// the undo row was inserted before the user tables and removed after
	undoColl := d.collection(0, undoTable)
	doc, err := undoColl.FindOne(FindOptions{})
	require.NoError(t, err)
	require.Nil(t, doc)

	obj, err := d.ObjectByPK(info, 1)
	require.NoError(t, err)
	require.Equal(t, PrimaryKey(1), obj.Service.PK)
}

func TestApplyCodeChanges(t *testing.T) {
	d, jrnl := newTestDriver(t)
	def := tokenTableDef()
	info := tableInScope(def, scopeA)
	createTableIndexes(t, d, info)

	otherCode := mustParseName("othercode")
	otherInfo := TableInfo{Code: otherCode, Scope: scopeA, Table: def}
	createTableIndexes(t, d, otherInfo)

	jrnl.push(info, insertOp(info, 1, bson.M{"v": int64(10)}))
	jrnl.push(otherInfo, insertOp(otherInfo, 2, bson.M{"v": int64(20)}))

	require.NoError(t, d.ApplyCodeChanges(testCode))

	// only the requested code was drained
	require.Len(t, jrnl.pending, 1)
	obj, err := d.ObjectByPK(info, 1)
	require.NoError(t, err)
	require.Equal(t, PrimaryKey(1), obj.Service.PK)
	obj, err = d.ObjectByPK(otherInfo, 2)
	require.NoError(t, err)
	require.Equal(t, PrimaryKey(2), obj.Service.PK)
}

func TestUndoDocumentRoundTrip(t *testing.T) {
	def := tokenTableDef()
	info := tableInScope(def, scopeA)

	obj := ObjectValue{
		Service: ServiceState{PK: 100, Code: info.Code, Scope: info.Scope, Table: info.TableName(), Revision: 3, Payer: payerName},
		Value:   bson.M{"id": int64(1), "memo": "hello"},
	}

	var doc bson.M
	require.NoError(t, buildUndoDocument(&doc, info, obj))
	require.Equal(t, int64(100), doc[undoPKField])

	var filter bson.D
	require.NoError(t, buildFindUndoPKDocument(&filter, info, obj))
	require.True(t, matchFilter(doc, filter))

	value, err := undoPayloadValue(doc)
	require.NoError(t, err)
	require.Equal(t, "hello", value["memo"])
	require.Equal(t, int64(1), value["id"])
}
