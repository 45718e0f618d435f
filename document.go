package chaindb

import (
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Row codec: conversion between ObjectValue and the stored document layout.

const (
	serviceField = "_SERVICE_"

	scopeField    = "scope"
	revisionField = "rev"
	payerField    = "payer"

	scopePath    = serviceField + "." + scopeField
	revisionPath = serviceField + "." + revisionField

	undoPKField      = "undo_pk"
	undoPayloadField = "payload"
	undoCodeField    = "code"
	undoTableField   = "table"

	storeIDField = "_id"
)

var undoTable = mustParseName("undo")

// getOrderValue extracts the value of an ordered field from a row object,
// walking the order's path.
func getOrderValue(row bson.M, index IndexInfo, o *OrderDef) (any, error) {
	object := row
	for i, key := range o.Path {
		v, ok := object[key]
		if !ok {
			return nil, driverErrf(ErrCodeAbsentField, nil,
				"can't find the part %s for the field %s in the row from the table %s",
				key, o.Field, index.fullName())
		}
		if i == len(o.Path)-1 {
			return v, nil
		}
		object, ok = v.(bson.M)
		if !ok {
			return nil, driverErrf(ErrCodeAbsentField, nil,
				"can't read the field %s in the row from the table %s", o.Field, index.fullName())
		}
	}
	return nil, driverErrf(ErrCodeAbsentField, nil,
		"wrong path for the field %s in the table %s", o.Field, index.fullName())
}

func appendScopeValue(bound *bson.D, table TableInfo) {
	*bound = append(*bound, bson.E{Key: scopePath, Value: int64(table.Scope)})
}

func appendPKValue(bound *bson.D, table TableInfo, pk PrimaryKey) {
	*bound = append(*bound, bson.E{Key: table.PKOrder().Field, Value: int64(pk)})
}

func getScopeValue(doc bson.M) Name {
	v, ok := lookupPath(doc, scopePath)
	if !ok {
		return 0
	}
	n, _, _ := numericValue(v)
	return Name(n)
}

func getPKValue(table TableInfo, doc bson.M) (PrimaryKey, error) {
	object := doc
	pkOrder := table.PKOrder()
	for i, key := range pkOrder.Path {
		v, ok := object[key]
		if !ok {
			return UnsetPrimaryKey, driverErrf(ErrCodeAbsentField, nil,
				"can't find the primary key part %s in a row from the table %s", key, table.fullName())
		}
		if i == len(pkOrder.Path)-1 {
			n, _, isInt := numericValue(v)
			if !isInt {
				return UnsetPrimaryKey, driverErrf(ErrCodeAbsentField, nil,
					"primary key %s has a non-integer value in the table %s", pkOrder.Field, table.fullName())
			}
			return PrimaryKey(n), nil
		}
		object, ok = v.(bson.M)
		if !ok {
			return UnsetPrimaryKey, driverErrf(ErrCodeAbsentField, nil,
				"can't read the primary key %s in a row from the table %s", pkOrder.Field, table.fullName())
		}
	}
	return UnsetPrimaryKey, driverErrf(ErrCodeAbsentField, nil,
		"wrong primary key path in the table %s", table.fullName())
}

// buildObject decodes a stored document into an ObjectValue. The service
// header comes from the _SERVICE_ sub-document; withDecors keeps a copy of
// it in the value for API output.
func buildObject(index IndexInfo, doc bson.M, withDecors bool) (ObjectValue, error) {
	var obj ObjectValue
	obj.Service.Code = index.Code
	obj.Service.Table = index.TableName()
	obj.Service.Scope = index.Scope
	obj.Service.Revision = UnsetRevision

	value := make(bson.M, len(doc))
	for k, v := range doc {
		if k == storeIDField {
			continue
		}
		if k == serviceField {
			svc, ok := v.(bson.M)
			if !ok {
				continue
			}
			if sv, ok := svc[scopeField]; ok {
				n, _, _ := numericValue(sv)
				obj.Service.Scope = Name(n)
			}
			if rv, ok := svc[revisionField]; ok {
				n, _, _ := numericValue(rv)
				obj.Service.Revision = Revision(n)
			}
			if pv, ok := svc[payerField].(string); ok {
				if payer, err := ParseName(pv); err == nil {
					obj.Service.Payer = payer
				}
			}
			if withDecors {
				value[serviceField] = cloneDocument(svc)
			}
			continue
		}
		value[k] = v
	}
	restoreBigints(value, index.Table)
	obj.Value = value

	pk, err := getPKValue(index.TableInfo, value)
	if err != nil {
		return ObjectValue{}, err
	}
	obj.Service.PK = pk
	return obj, nil
}

// restoreBigints replaces {binary: ...} sub-documents of 128-bit ordered
// fields with their typed values, for every index of the table.
func restoreBigints(value bson.M, table *TableDef) {
	for i := range table.Indexes {
		for j := range table.Indexes[i].Orders {
			o := &table.Indexes[i].Orders[j]
			if !isBigintType(o.Type) {
				continue
			}
			object := value
			for k, key := range o.Path {
				v, ok := object[key]
				if !ok {
					break
				}
				if k == len(o.Path)-1 {
					if typed, ok := decodeBigintValue(o.Type, v); ok {
						object[key] = typed
					}
					break
				}
				object, ok = v.(bson.M)
				if !ok {
					break
				}
			}
		}
	}
}

// buildDocument encodes the row value into dst, converting 128-bit values
// into their {binary: ...} form.
func buildDocument(dst *bson.M, obj ObjectValue) error {
	if *dst == nil {
		*dst = bson.M{}
	}
	for k, v := range obj.Value {
		(*dst)[k] = encodeDocumentValue(v)
	}
	return nil
}

func encodeDocumentValue(v any) any {
	switch v := v.(type) {
	case Uint128:
		return uint128Document(v)
	case Int128:
		return int128Document(v)
	case PrimaryKey:
		return int64(v)
	case Name:
		return v.String()
	case uint64:
		return int64(v)
	case uint32:
		return int64(v)
	case int:
		return int64(v)
	case bson.M:
		out := make(bson.M, len(v))
		for k, sv := range v {
			out[k] = encodeDocumentValue(sv)
		}
		return out
	default:
		return v
	}
}

// buildServiceDocument adds the service header. Noscope tables do not store
// a scope.
func buildServiceDocument(dst *bson.M, table TableInfo, obj ObjectValue) error {
	if *dst == nil {
		*dst = bson.M{}
	}
	svc := bson.M{
		revisionField: int64(obj.Service.Revision),
		payerField:    obj.Service.Payer.String(),
	}
	if !table.isNoScope() {
		svc[scopeField] = int64(obj.Service.Scope)
	}
	(*dst)[serviceField] = svc
	return nil
}

// buildFindPKDocument builds the filter that addresses a single row: scope
// (scoped tables) plus the primary key.
func buildFindPKDocument(dst *bson.D, table TableInfo, obj ObjectValue) error {
	if !table.isNoScope() {
		appendScopeValue(dst, table)
	}
	appendPKValue(dst, table, obj.Service.PK)
	return nil
}

// buildUndoDocument encodes an undo-table row. The captured row payload is
// never queried by content, so it is packed as a msgpack blob.
func buildUndoDocument(dst *bson.M, table TableInfo, obj ObjectValue) error {
	if *dst == nil {
		*dst = bson.M{}
	}
	(*dst)[undoPKField] = int64(obj.Service.PK)
	(*dst)[serviceField] = bson.M{
		revisionField:  int64(obj.Service.Revision),
		payerField:     obj.Service.Payer.String(),
		undoCodeField:  obj.Service.Code.String(),
		undoTableField: obj.Service.Table.String(),
		scopeField:     int64(obj.Service.Scope),
	}
	if obj.Value != nil {
		payload, err := msgpack.Marshal(map[string]any(obj.Value))
		if err != nil {
			return driverErrf(ErrCodeWrite, err, "can't pack the undo payload for the primary key %d", obj.Service.PK)
		}
		(*dst)[undoPayloadField] = primitive.Binary{Data: payload}
	}
	return nil
}

func buildFindUndoPKDocument(dst *bson.D, table TableInfo, obj ObjectValue) error {
	*dst = append(*dst, bson.E{Key: undoPKField, Value: int64(obj.Service.PK)})
	return nil
}

// undoPayloadValue unpacks the row payload of an undo document.
func undoPayloadValue(doc bson.M) (bson.M, error) {
	bin, ok := doc[undoPayloadField].(primitive.Binary)
	if !ok {
		return nil, nil
	}
	var value map[string]any
	if err := msgpack.Unmarshal(bin.Data, &value); err != nil {
		return nil, driverErrf(ErrCodeAbsentField, err, "can't unpack an undo payload")
	}
	return bson.M(value), nil
}
