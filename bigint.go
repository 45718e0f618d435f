package chaindb

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// binaryField is the sub-field that holds the byte-ordered form of a 128-bit
// value; index queries address <field>.binary instead of the field itself.
const binaryField = "binary"

const (
	typeUint128 = "uint128"
	typeInt128  = "int128"
)

func isBigintType(typ string) bool {
	return typ == typeUint128 || typ == typeInt128
}

// Uint128 is an unsigned 128-bit integer.
type Uint128 struct {
	Hi, Lo uint64
}

func Uint128FromUint64(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// Bytes returns the big-endian form; its bytewise lexicographic order equals
// the numeric order.
func (v Uint128) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], v.Hi)
	binary.BigEndian.PutUint64(b[8:], v.Lo)
	return b
}

func Uint128FromBytes(b []byte) Uint128 {
	return Uint128{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// Int128 is a signed 128-bit integer in two's complement, Hi carrying the
// sign bit.
type Int128 struct {
	Hi, Lo uint64
}

func Int128FromInt64(v int64) Int128 {
	r := Int128{Lo: uint64(v)}
	if v < 0 {
		r.Hi = ^uint64(0)
	}
	return r
}

// Bytes returns the big-endian two's complement form with the sign bit
// flipped, so that negatives order below positives bytewise.
func (v Int128) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], v.Hi^(1<<63))
	binary.BigEndian.PutUint64(b[8:], v.Lo)
	return b
}

func Int128FromBytes(b []byte) Int128 {
	return Int128{
		Hi: binary.BigEndian.Uint64(b[:8]) ^ (1 << 63),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

func uint128Document(v Uint128) bson.M {
	b := v.Bytes()
	return bson.M{binaryField: primitive.Binary{Data: b[:]}}
}

func int128Document(v Int128) bson.M {
	b := v.Bytes()
	return bson.M{binaryField: primitive.Binary{Data: b[:]}}
}

// bigintBinary converts a value found at a 128-bit order path into the
// binary form used at <field>.binary. Accepts the value types produced by
// buildObject as well as already-encoded documents and small integers.
func bigintBinary(typ string, v any) (primitive.Binary, bool) {
	switch v := v.(type) {
	case Uint128:
		b := v.Bytes()
		return primitive.Binary{Data: b[:]}, true
	case Int128:
		b := v.Bytes()
		return primitive.Binary{Data: b[:]}, true
	case primitive.Binary:
		return v, true
	case bson.M:
		if bin, ok := v[binaryField].(primitive.Binary); ok {
			return bin, true
		}
		return primitive.Binary{}, false
	case uint64:
		b := Uint128FromUint64(v).Bytes()
		return primitive.Binary{Data: b[:]}, true
	case int64:
		if typ == typeInt128 {
			b := Int128FromInt64(v).Bytes()
			return primitive.Binary{Data: b[:]}, true
		}
		b := Uint128FromUint64(uint64(v)).Bytes()
		return primitive.Binary{Data: b[:]}, true
	case int:
		return bigintBinary(typ, int64(v))
	default:
		return primitive.Binary{}, false
	}
}

// decodeBigintValue restores the typed value from a stored {binary: ...}
// document.
func decodeBigintValue(typ string, v any) (any, bool) {
	doc, ok := v.(bson.M)
	if !ok {
		return nil, false
	}
	bin, ok := doc[binaryField].(primitive.Binary)
	if !ok || len(bin.Data) != 16 {
		return nil, false
	}
	if typ == typeInt128 {
		return Int128FromBytes(bin.Data), true
	}
	return Uint128FromBytes(bin.Data), true
}
