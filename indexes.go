package chaindb

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Index and schema reconciliation: creating and dropping physical indexes,
// and reconstructing logical definitions from the store's conventions.

const rowCountMaxTime = 10 * time.Millisecond

// CreateIndex creates the physical index for a logical definition: scope
// first on scoped tables, the ordered fields with their signs, and a pk
// tie-breaker appended on non-unique indexes. For the primary index of a
// scoped table an auxiliary <name>_pk index on the pk field alone is created
// for reverse scans across scopes.
func (d *Driver) CreateIndex(info IndexInfo) error {
	index := info.Index

	var keys bson.D
	if !info.isNoScope() {
		keys = append(keys, bson.E{Key: scopePath, Value: 1})
	}
	for i := range index.Orders {
		o := &index.Orders[i]
		keys = append(keys, bson.E{Key: orderField(o), Value: orderSign(o.Order)})
	}
	if !index.Unique {
		// a unique pk suffix gives non-unique indexes a deterministic order
		keys = append(keys, bson.E{Key: info.PKOrder().Field, Value: 1})
	}

	indexName := indexDBName(index.Name)
	coll := d.tableCollection(info.TableInfo)
	err := coll.Indexes().Create(IndexSpec{Name: indexName, Unique: index.Unique, Keys: keys})
	if err != nil {
		return driverErrf(ErrCodeOpen, err, "can't create the index %s on the table %s", indexName, info.fullName())
	}

	// for available_pk
	if !info.isNoScope() && index == info.Table.PKIndex() {
		pkKeys := bson.D{{Key: info.PKOrder().Field, Value: 1}}
		err = coll.Indexes().Create(IndexSpec{Name: indexName + pkIndexSuffix, Keys: pkKeys})
		if err != nil {
			return driverErrf(ErrCodeOpen, err, "can't create the pk index on the table %s", info.fullName())
		}
	}
	return nil
}

// DropIndex drops an index by its logical name.
func (d *Driver) DropIndex(info IndexInfo) error {
	err := d.tableCollection(info.TableInfo).Indexes().DropOne(indexDBName(info.Index.Name))
	if err != nil {
		return driverErrf(ErrCodeOpen, err, "can't drop the index %s on the table %s", info.Index.Name, info.fullName())
	}
	return nil
}

// DropTable drops the backing collection.
func (d *Driver) DropTable(info TableInfo) error {
	if err := d.tableCollection(info).Drop(); err != nil {
		return driverErrf(ErrCodeOpen, err, "can't drop the table %s", info.fullName())
	}
	return nil
}

// DBTables lists the tables of a code with their reconstructed logical index
// definitions and an estimated row count. Collections and indexes whose
// names fail to decode are debris: they are dropped and skipped.
func (d *Driver) DBTables(code Name) ([]TableDef, error) {
	var tables []TableDef
	err := d.withReconnect(func() error {
		tables = tables[:0]
		db := d.store.Database(codeDBName(d.sysName, code))
		names, err := db.ListCollectionNames()
		if err != nil {
			return err
		}
		for _, tname := range names {
			if strings.HasPrefix(tname, storeSystemPrefix) {
				continue
			}

			name, err := ParseName(tname)
			if err != nil {
				d.log.Warn().Str("collection", tname).Msg("dropping a collection with an undecodable name")
				if err := db.Collection(tname).Drop(); err != nil {
					return err
				}
				continue
			}

			table := TableDef{Name: name}
			coll := db.Collection(tname)
			table.RowCount, err = coll.EstimatedCount(rowCountMaxTime)
			if err != nil {
				return err
			}
			table.Indexes, err = d.dbIndexes(coll)
			if err != nil {
				return err
			}
			tables = append(tables, table)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// dbIndexes reconstructs logical index definitions from the physical ones:
// the auxiliary *_pk index and the store's own index are skipped, the scope
// key is dropped, .binary suffixes are stripped, and the synthesized pk
// tie-breaker is popped from non-unique indexes.
func (d *Driver) dbIndexes(coll Collection) ([]IndexDef, error) {
	specs, err := coll.Indexes().List()
	if err != nil {
		return nil, err
	}

	var result []IndexDef
	for _, spec := range specs {
		if strings.HasSuffix(spec.Name, pkIndexSuffix) {
			continue
		}
		if spec.Name == storeIDIndex {
			continue
		}

		name, err := ParseName(spec.Name)
		if err != nil {
			d.log.Warn().Str("index", spec.Name).Msg("dropping an index with an undecodable name")
			if err := coll.Indexes().DropOne(spec.Name); err != nil {
				return nil, err
			}
			continue
		}

		index := IndexDef{Name: name, Unique: spec.Unique}
		for _, field := range spec.Keys {
			if field.Key == scopePath {
				continue
			}
			order := OrderDef{Field: field.Key}
			if suffix := "." + binaryField; strings.HasSuffix(order.Field, suffix) {
				order.Field = order.Field[:len(order.Field)-len(suffix)]
			}
			if sortDirection(field.Value) == 1 {
				order.Order = ascOrder
			} else {
				order.Order = descOrder
			}
			index.Orders = append(index.Orders, order)
		}
		// see CreateIndex
		if !index.Unique {
			index.Orders = index.Orders[:len(index.Orders)-1]
		}
		result = append(result, index)
	}
	return result, nil
}

// DropDB drops every database carrying the system prefix. Rejected while any
// cursor is live.
func (d *Driver) DropDB() error {
	if !d.cursors.empty() {
		return driverErrf(ErrCodeOpenedCursors, nil, "the driver has opened cursors")
	}
	d.cursors.clear()

	names, err := d.store.ListDatabaseNames()
	if err != nil {
		return driverErrf(ErrCodeOpen, err, "can't list databases")
	}
	for _, name := range names {
		if !strings.HasPrefix(name, d.sysName) {
			continue
		}
		if err := d.store.Database(name).Drop(); err != nil {
			return driverErrf(ErrCodeOpen, err, "can't drop the database %s", name)
		}
	}
	return nil
}

// AvailablePK returns the next unused primary key of a table: the largest
// stored pk plus one, or 0 for an empty table. Scoped tables scan the
// auxiliary pk index, which spans all scopes of the code.
func (d *Driver) AvailablePK(table TableInfo) (PrimaryKey, error) {
	if err := d.applyTableChanges(table); err != nil {
		return 0, err
	}

	pkIndex := table.Table.PKIndex()
	pkOrder := table.PKOrder()
	hint := indexDBName(pkIndex.Name)
	if !table.isNoScope() {
		hint += pkIndexSuffix
	}

	bound := bson.D{{Key: pkOrder.Field, Value: boundSentinel(-1)}}
	sortDoc := bson.D{{Key: pkOrder.Field, Value: -1}}

	var pk PrimaryKey
	err := d.withReconnect(func() error {
		doc, err := d.tableCollection(table).FindOne(FindOptions{
			Hint:  hint,
			Sort:  sortDoc,
			Max:   bound,
			Limit: 1,
		})
		if err != nil {
			return err
		}
		pk = 0
		if doc != nil {
			dpk, err := getPKValue(table, doc)
			if err != nil {
				return err
			}
			pk = dpk + 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pk, nil
}

// ObjectByPK looks a row up through the pk index. A miss (or a row from a
// different scope) yields an End-sentinel object carrying the table triple.
func (d *Driver) ObjectByPK(table TableInfo, pk PrimaryKey) (ObjectValue, error) {
	if err := d.applyTableChanges(table); err != nil {
		return ObjectValue{}, err
	}

	pkIndex := table.Table.PKIndex()

	var bound bson.D
	var sortDoc bson.D
	if !table.isNoScope() {
		appendScopeValue(&bound, table)
		sortDoc = append(sortDoc, bson.E{Key: scopePath, Value: 1})
	}
	appendPKValue(&bound, table, pk)
	sortDoc = append(sortDoc, bson.E{Key: table.PKOrder().Field, Value: 1})

	var obj ObjectValue
	obj.Service.PK = pk

	err := d.withReconnect(func() error {
		doc, err := d.tableCollection(table).FindOne(FindOptions{
			Hint:  indexDBName(pkIndex.Name),
			Sort:  sortDoc,
			Min:   bound,
			Limit: 1,
		})
		if err != nil {
			return err
		}

		if doc != nil {
			dpk, err := getPKValue(table, doc)
			if err != nil {
				return err
			}
			if dpk == pk && getScopeValue(doc) == table.Scope {
				obj, err = buildObject(IndexInfo{TableInfo: table, Index: pkIndex}, doc, false)
				return err
			}
		}

		obj.Clear()
		obj.Service.PK = EndPrimaryKey
		obj.Service.Code = table.Code
		obj.Service.Scope = table.Scope
		obj.Service.Table = table.TableName()
		return nil
	})
	if err != nil {
		return ObjectValue{}, err
	}
	return obj, nil
}
