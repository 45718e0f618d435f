package chaindb

import (
	"bytes"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Helpers shared by the embedded store backends: bson value ordering, dotted
// path access, sort-space comparison against half-open bounds.

func lookupPath(doc bson.M, path string) (any, bool) {
	cur := any(doc)
	for path != "" {
		var key string
		if i := strings.IndexByte(path, '.'); i >= 0 {
			key, path = path[:i], path[i+1:]
		} else {
			key, path = path, ""
		}
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc bson.M, path string, value any) {
	for {
		i := strings.IndexByte(path, '.')
		if i < 0 {
			doc[path] = value
			return
		}
		key := path[:i]
		sub, ok := doc[key].(bson.M)
		if !ok {
			sub = bson.M{}
			doc[key] = sub
		}
		doc, path = sub, path[i+1:]
	}
}

// Value ordering follows the store's canonical type ranks: MinKey < null <
// numbers < strings < documents < binary < booleans < MaxKey.
func valueTypeRank(v any) int {
	switch v.(type) {
	case primitive.MinKey:
		return 0
	case nil:
		return 1
	case int, int32, int64, uint32, uint64, float64:
		return 2
	case string:
		return 3
	case bson.M, bson.D:
		return 4
	case primitive.Binary:
		return 5
	case bool:
		return 6
	case primitive.MaxKey:
		return 7
	default:
		return 8
	}
}

func numericValue(v any) (int64, float64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), float64(v), true
	case int32:
		return int64(v), float64(v), true
	case int64:
		return v, float64(v), true
	case uint32:
		return int64(v), float64(v), true
	case uint64:
		return int64(v), float64(v), true
	case float64:
		return int64(v), v, false
	default:
		return 0, 0, false
	}
}

func compareValues(a, b any) int {
	ra, rb := valueTypeRank(a), valueTypeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 2:
		ia, fa, intA := numericValue(a)
		ib, fb, intB := numericValue(b)
		if intA && intB {
			return cmpInt64(ia, ib)
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 4:
		return compareDocuments(asDocM(a), asDocM(b))
	case 5:
		ba, bb := a.(primitive.Binary), b.(primitive.Binary)
		if len(ba.Data) != len(bb.Data) {
			return cmpInt(len(ba.Data), len(bb.Data))
		}
		return bytes.Compare(ba.Data, bb.Data)
	case 6:
		va, vb := a.(bool), b.(bool)
		switch {
		case va == vb:
			return 0
		case !va:
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

func asDocM(v any) bson.M {
	switch v := v.(type) {
	case bson.M:
		return v
	case bson.D:
		m := make(bson.M, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m
	default:
		return nil
	}
}

func compareDocuments(a, b bson.M) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := compareValues(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ka), len(kb))
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortDirection(v any) int {
	n, _, _ := numericValue(v)
	if n < 0 {
		return -1
	}
	return 1
}

// sortDocuments orders docs by the sort document (stable; missing fields
// compare as null).
func sortDocuments(docs []bson.M, sortDoc bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		return compareBySort(docs[i], docs[j], sortDoc) < 0
	})
}

func compareBySort(a, b bson.M, sortDoc bson.D) int {
	for _, e := range sortDoc {
		va, _ := lookupPath(a, e.Key)
		vb, _ := lookupPath(b, e.Key)
		if c := compareValues(va, vb); c != 0 {
			return c * sortDirection(e.Value)
		}
	}
	return 0
}

// compareToBound compares a document against a bound document in sort space:
// each bound field is compared with the direction the sort document assigns
// to it.
func compareToBound(doc bson.M, bound bson.D, sortDoc bson.D) int {
	dirs := make(map[string]int, len(sortDoc))
	for _, e := range sortDoc {
		dirs[e.Key] = sortDirection(e.Value)
	}
	for _, e := range bound {
		dir, ok := dirs[e.Key]
		if !ok {
			dir = 1
		}
		v, _ := lookupPath(doc, e.Key)
		if c := compareValues(v, e.Value); c != 0 {
			return c * dir
		}
	}
	return 0
}

// applyBounds keeps the documents inside the half-open range: at or after
// Min, strictly after Max (both in sort space).
func applyBounds(docs []bson.M, opts FindOptions) []bson.M {
	out := docs[:0]
	for _, doc := range docs {
		if opts.Min != nil && compareToBound(doc, opts.Min, opts.Sort) < 0 {
			continue
		}
		if opts.Max != nil && compareToBound(doc, opts.Max, opts.Sort) <= 0 {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func matchFilter(doc bson.M, filter bson.D) bool {
	for _, e := range filter {
		v, ok := lookupPath(doc, e.Key)
		if !ok || compareValues(v, e.Value) != 0 {
			return false
		}
	}
	return true
}

// containsDocument reports whether value contains every field of key with an
// equal value, recursing into sub-documents.
func containsDocument(value, key bson.M) bool {
	for k, kv := range key {
		v, ok := value[k]
		if !ok {
			return false
		}
		if ksub, ok := kv.(bson.M); ok {
			vsub, ok := v.(bson.M)
			if !ok || !containsDocument(vsub, ksub) {
				return false
			}
			continue
		}
		if compareValues(v, kv) != 0 {
			return false
		}
	}
	return true
}

// indexKeyOf projects a document onto an index's key fields.
func indexKeyOf(doc bson.M, spec IndexSpec) []any {
	key := make([]any, len(spec.Keys))
	for i, e := range spec.Keys {
		key[i], _ = lookupPath(doc, e.Key)
	}
	return key
}

func sameIndexKey(a, b []any) bool {
	for i := range a {
		if compareValues(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}
