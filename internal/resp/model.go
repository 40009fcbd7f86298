package resp

import "bytes"

// Wire type tags. A Value's Type is always one of these
const (
	TypeSimpleString byte = '+'
	TypeError        byte = '-'
	TypeInteger      byte = ':'
	TypeBulkString   byte = '$'
	TypeArray        byte = '*'
)

// Value is a single RESP2 frame held in memory.
// Type selects which of the payload fields is meaningful.
// IsNull is only valid for BulkString and Array, and is distinct from an empty payload
type Value struct {
	String  []byte  // SimpleString, Error, BulkString
	Array   []Value // Array
	Integer int64   // Integer
	Type    byte
	IsNull  bool // For nil BulkString and nil Array
}

// Kind returns a human-readable name of the value type
func (v Value) Kind() string {
	switch v.Type {
	case TypeSimpleString:
		return "simple string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		if v.IsNull {
			return "null bulk string"
		}
		return "bulk string"
	case TypeArray:
		if v.IsNull {
			return "null array"
		}
		return "array"
	default:
		return "invalid"
	}
}

// IsNullBulkString reports whether v is the $-1 value
func (v Value) IsNullBulkString() bool {
	return v.Type == TypeBulkString && v.IsNull
}

// IsNullArray reports whether v is the *-1 value
func (v Value) IsNullArray() bool {
	return v.Type == TypeArray && v.IsNull
}

// Equal reports whether v and o would produce the same bytes on the wire.
// Null and empty values are never equal, neither are SimpleString and BulkString with the same payload
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}

	switch v.Type {
	case TypeSimpleString, TypeError:
		return bytes.Equal(v.String, o.String)
	case TypeInteger:
		return v.Integer == o.Integer
	case TypeBulkString:
		if v.IsNull || o.IsNull {
			return v.IsNull == o.IsNull
		}
		return bytes.Equal(v.String, o.String)
	case TypeArray:
		if v.IsNull || o.IsNull {
			return v.IsNull == o.IsNull
		}
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	}

	return false
}
