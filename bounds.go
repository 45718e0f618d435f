package chaindb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type direction int

const (
	forward  direction = 1
	backward direction = -1
)

func orderSign(order string) int {
	if order == ascOrder {
		return 1
	}
	return -1
}

// orderField is the physical field addressed by queries: 128-bit fields are
// addressed through their .binary sub-field.
func orderField(o *OrderDef) string {
	if isBigintType(o.Type) {
		return o.Field + "." + binaryField
	}
	return o.Field
}

func fieldOrder(dir direction, o *OrderDef) int {
	return int(dir) * orderSign(o.Order)
}

// boundSentinel is the "before all" / "past all" boundary value in the scan
// direction of a field.
func boundSentinel(order int) any {
	if order > 0 {
		return primitive.MinKey{}
	}
	return primitive.MaxKey{}
}

// makeSortDocument builds the sort specification for a scan: scope first
// (scoped tables), then the ordered fields with direction-adjusted signs,
// then the pk tie-breaker on non-unique indexes.
func makeSortDocument(index IndexInfo, dir direction) bson.D {
	var sortDoc bson.D
	if !index.isNoScope() {
		sortDoc = append(sortDoc, bson.E{Key: scopePath, Value: int(dir)})
	}
	for i := range index.Index.Orders {
		o := &index.Index.Orders[i]
		sortDoc = append(sortDoc, bson.E{Key: orderField(o), Value: fieldOrder(dir, o)})
	}
	if !index.Index.Unique {
		sortDoc = append(sortDoc, bson.E{Key: index.PKOrder().Field, Value: int(dir)})
	}
	return sortDoc
}

// makeBoundDocument builds the half-open range bound: scope equality, then
// per-order values from findKey (or boundary sentinels), then the pk
// tie-breaker on non-unique indexes. The result is passed as min (forward)
// or max (backward).
func makeBoundDocument(index IndexInfo, dir direction, findKey bson.M, findPK PrimaryKey) (bson.D, error) {
	var bound bson.D
	var findObject bson.M
	if len(findKey) > 0 {
		findObject = findKey
	}

	if !index.isNoScope() {
		appendScopeValue(&bound, index.TableInfo)
	}

	for i := range index.Index.Orders {
		o := &index.Index.Orders[i]
		field := orderField(o)
		if findObject != nil {
			v, err := getOrderValue(findObject, index, o)
			if err != nil {
				return nil, err
			}
			v, err = orderBoundValue(index, o, v)
			if err != nil {
				return nil, err
			}
			bound = append(bound, bson.E{Key: field, Value: v})
		} else {
			bound = append(bound, bson.E{Key: field, Value: boundSentinel(fieldOrder(dir, o))})
		}
	}

	if !index.Index.Unique {
		if findPK.IsGood() {
			appendPKValue(&bound, index.TableInfo, findPK)
		} else {
			bound = append(bound, bson.E{Key: index.PKOrder().Field, Value: boundSentinel(int(dir))})
		}
	}

	return bound, nil
}

// orderBoundValue converts an extracted key value into its queryable form;
// for 128-bit fields that is the binary blob addressed at <field>.binary.
func orderBoundValue(index IndexInfo, o *OrderDef, v any) (any, error) {
	if !isBigintType(o.Type) {
		return v, nil
	}
	bin, ok := bigintBinary(o.Type, v)
	if !ok {
		return nil, driverErrf(ErrCodeAbsentField, nil,
			"can't convert the field %s to its binary form in the table %s", o.Field, index.fullName())
	}
	return bin, nil
}
