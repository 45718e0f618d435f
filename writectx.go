package chaindb

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// WriteContext accumulates one apply cycle of journal operations: per-table
// groups in journal order, bracketed by undo-table bulks. It is constructed
// per apply call and consumed once by Write.
type WriteContext struct {
	driver *Driver

	prepareUndoBulk  bulkGroup
	completeUndoBulk bulkGroup
	bulkList         []*bulkGroup

	table *TableInfo

	// sticky duplicate-key message; Write raises it after all groups ran
	dupErr string
}

type bulkGroup struct {
	code  Name
	table Name

	remove   []bulkInfo
	update   []bulkInfo
	revision []bulkInfo
	insert   []bulkInfo
}

type bulkInfo struct {
	filter bson.D
	data   bson.M
}

func (d *Driver) newWriteContext() *WriteContext {
	return &WriteContext{
		driver:           d,
		prepareUndoBulk:  bulkGroup{table: undoTable},
		completeUndoBulk: bulkGroup{table: undoTable},
	}
}

// StartTable switches the context to a table. Consecutive operations on the
// same (code, table) coalesce into one group; a change of table appends a
// new group, preserving journal order.
func (w *WriteContext) StartTable(table TableInfo) {
	old := w.table
	t := table
	w.table = &t

	if old == nil || table.Code != old.Code || table.TableName() != old.TableName() {
		w.bulkList = append(w.bulkList, &bulkGroup{
			code:  table.Code,
			table: table.TableName(),
		})
	}
}

// AddData adds a user-table operation to the current group.
func (w *WriteContext) AddData(op WriteOperation) error {
	if len(w.bulkList) == 0 {
		return driverErrf(ErrCodeWrite, nil, "no table was started for a write operation")
	}
	return w.appendBulk(buildFindPKDocument, buildServiceDocument, w.bulkList[len(w.bulkList)-1], op)
}

// AddPrepareUndo adds an undo-table operation applied before user tables.
func (w *WriteContext) AddPrepareUndo(op WriteOperation) error {
	return w.appendBulk(buildFindUndoPKDocument, buildUndoDocument, &w.prepareUndoBulk, op)
}

// AddCompleteUndo adds an undo-table operation applied after user tables.
func (w *WriteContext) AddCompleteUndo(op WriteOperation) error {
	return w.appendBulk(buildFindUndoPKDocument, buildUndoDocument, &w.completeUndoBulk, op)
}

type findDocumentFunc func(dst *bson.D, table TableInfo, obj ObjectValue) error
type serviceDocumentFunc func(dst *bson.M, table TableInfo, obj ObjectValue) error

func (w *WriteContext) appendBulk(buildFindDocument findDocumentFunc, buildService serviceDocumentFunc, group *bulkGroup, op WriteOperation) error {
	if w.table == nil {
		return driverErrf(ErrCodeWrite, nil, "no table was started for a write operation")
	}
	if op.Operation == OpUnknown {
		return driverErrf(ErrCodeWrite, nil,
			"wrong operation type on writing into the table %s:%s with the revision (find: %d, set: %d) and with the primary key %d",
			w.table.fullName(), w.table.Scope, op.FindRevision, op.Object.Service.Revision, op.Object.Service.PK)
	}

	var dst bulkInfo
	if op.Operation == OpInsert || op.Operation == OpUpdate {
		if err := buildDocument(&dst.data, op.Object); err != nil {
			return err
		}
	}
	if op.Operation != OpRemove {
		if err := buildService(&dst.data, *w.table, op.Object); err != nil {
			return err
		}
	}
	if err := buildFindDocument(&dst.filter, *w.table, op.Object); err != nil {
		return err
	}
	if w.driver.updatePKWithRevision && op.FindRevision >= StartRevision {
		dst.filter = append(dst.filter, bson.E{Key: revisionPath, Value: int64(op.FindRevision)})
	}

	switch op.Operation {
	case OpInsert:
		group.insert = append(group.insert, dst)
	case OpUpdate:
		group.update = append(group.update, dst)
	case OpRevision:
		group.revision = append(group.revision, dst)
	case OpRemove:
		group.remove = append(group.remove, dst)
	}
	return nil
}

// Write executes the accumulated bulks: prepare-undo, user-table groups in
// journal order, complete-undo. A duplicate key is raised only after all
// groups ran; other bulk failures abort immediately.
func (w *WriteContext) Write() error {
	if err := w.executeGroup(&w.prepareUndoBulk); err != nil {
		return err
	}
	for _, group := range w.bulkList {
		if err := w.executeGroup(group); err != nil {
			return err
		}
	}
	if err := w.executeGroup(&w.completeUndoBulk); err != nil {
		return err
	}
	if w.dupErr != "" {
		return driverErrf(ErrCodeDuplicate, nil, "%s", w.dupErr)
	}
	return nil
}

// executeGroup runs a group as two unordered bulks against the same
// collection: removes first, then update/revision/insert, so removed pks can
// be reused by inserts.
func (w *WriteContext) executeGroup(group *bulkGroup) error {
	coll := w.driver.collection(group.code, group.table)

	removeModels := make([]WriteModel, 0, len(group.remove))
	for i := range group.remove {
		removeModels = append(removeModels, DeleteOne{Filter: group.remove[i].filter})
	}

	updateModels := make([]WriteModel, 0, len(group.update)+len(group.revision)+len(group.insert))
	for i := range group.update {
		updateModels = append(updateModels, ReplaceOne{Filter: group.update[i].filter, Replacement: group.update[i].data})
	}
	for i := range group.revision {
		updateModels = append(updateModels, UpdateOne{Filter: group.revision[i].filter, Set: group.revision[i].data})
	}
	for i := range group.insert {
		updateModels = append(updateModels, InsertOne{Document: group.insert[i].data})
	}

	if err := w.executeBulk(group, coll, removeModels); err != nil {
		return err
	}
	return w.executeBulk(group, coll, updateModels)
}

// No reconnect here: a bulk write is not idempotent, and the failure may
// have happened mid-batch.
func (w *WriteContext) executeBulk(group *bulkGroup, coll Collection, models []WriteModel) error {
	opCnt := int64(len(models))
	if opCnt == 0 {
		return nil
	}

	res, err := coll.BulkWrite(models)
	if err != nil {
		w.driver.log.Error().Err(err).Str("table", group.table.String()).Msg("store error on bulk write")
		if errors.Is(err, ErrDuplicateKey) {
			w.dupErr = err.Error()
			return nil
		}
		return driverErrf(ErrCodeOpen, err, "store error on bulk write to the table %s.%s", group.code, group.table)
	}
	if res == nil {
		return driverErrf(ErrCodeOpen, nil, "store returned an empty result on bulk execution")
	}

	if !w.driver.skipOpCntChecking &&
		res.Matched+res.Inserted != opCnt &&
		res.Deleted != opCnt {
		return driverErrf(ErrCodeOpen, nil,
			"store returned a bad result on bulk execution to the table %s.%s: op_cnt %d, matched %d, inserted %d, modified %d, deleted %d, upserted %d",
			group.code, group.table, opCnt, res.Matched, res.Inserted, res.Modified, res.Deleted, res.Upserted)
	}
	return nil
}
