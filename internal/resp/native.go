package resp

import (
	"math"
)

// ValueOf converts a native Go value into a Value.
//
// The accepted set is closed:
//   - nil                 -> null bulk string
//   - []byte              -> bulk string
//   - string              -> simple string
//   - integers            -> integer (unsigned values must fit in int64)
//   - error               -> error
//   - Value               -> itself
//   - []any, []Value, [][]byte, []string -> array, element by element
//
// Anything else, floats and maps included, fails with ErrEncoding
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return MakeNilBulkString(), nil
	case Value:
		return t, nil
	case []byte:
		return MakeBulkBytes(t), nil
	case string:
		return MakeSimpleString(t), nil
	case int:
		return MakeInteger(int64(t)), nil
	case int8:
		return MakeInteger(int64(t)), nil
	case int16:
		return MakeInteger(int64(t)), nil
	case int32:
		return MakeInteger(int64(t)), nil
	case int64:
		return MakeInteger(t), nil
	case uint:
		return unsignedValue(uint64(t))
	case uint8:
		return MakeInteger(int64(t)), nil
	case uint16:
		return MakeInteger(int64(t)), nil
	case uint32:
		return MakeInteger(int64(t)), nil
	case uint64:
		return unsignedValue(t)
	case error:
		return MakeError(t.Error()), nil
	case []Value:
		return MakeArray(t), nil
	case [][]byte:
		vals := make([]Value, len(t))
		for i, b := range t {
			vals[i] = MakeBulkBytes(b)
		}
		return MakeArray(vals), nil
	case []string:
		vals := make([]Value, len(t))
		for i, s := range t {
			vals[i] = MakeSimpleString(s)
		}
		return MakeArray(vals), nil
	case []any:
		vals := make([]Value, len(t))
		for i, el := range t {
			v, err := ValueOf(el)
			if err != nil {
				return Value{}, err
			}
			vals[i] = v
		}
		return MakeArray(vals), nil
	}

	return Value{}, encodingErrorf("unsupported type %T", x)
}

func unsignedValue(n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return Value{}, encodingErrorf("integer %d overflows int64", n)
	}
	return MakeInteger(int64(n)), nil
}

// Marshal returns the wire representation of a native Go value, see ValueOf
func Marshal(x any) ([]byte, error) {
	v, err := ValueOf(x)
	if err != nil {
		return nil, err
	}
	return Encode(v)
}
