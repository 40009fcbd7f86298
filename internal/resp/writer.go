package resp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

var (
	nullBulkString = []byte("$-1\r\n")
	nullArray      = []byte("*-1\r\n")
	crlf           = []byte("\r\n")
)

// Encoder handles the serialization of RESP Value objects into an output stream
type Encoder struct {
	writer  *bufio.Writer
	scratch []byte
}

// NewEncoder initializes an Encoder with a buffered writer
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
	}
}

// Write serializes a RESP Value into the output buffer.
// Nothing is buffered if v cannot be encoded. Call Flush to send buffered frames
func (e *Encoder) Write(v Value) error {
	b, err := AppendValue(e.scratch[:0], v)
	if err != nil {
		return err
	}
	e.scratch = b

	_, err = e.writer.Write(b)
	return err
}

// Flush writes any buffered frames to the underlying writer
func (e *Encoder) Flush() error {
	return e.writer.Flush()
}

// Buffered returns the number of bytes waiting for Flush
func (e *Encoder) Buffered() int {
	return e.writer.Buffered()
}

// Encode returns the exact wire representation of v
func Encode(v Value) ([]byte, error) {
	return AppendValue(nil, v)
}

// AppendValue appends the wire representation of v to dst.
// On error dst is returned unchanged
func AppendValue(dst []byte, v Value) ([]byte, error) {
	out, err := appendValue(dst, v)
	if err != nil {
		return dst, err
	}
	return out, nil
}

func appendValue(dst []byte, v Value) ([]byte, error) {
	switch v.Type {
	case TypeInteger:
		return appendHeader(dst, TypeInteger, v.Integer), nil

	case TypeSimpleString, TypeError:
		if bytes.ContainsAny(v.String, "\r\n") {
			return dst, encodingErrorf("%s contains a line terminator", v.Kind())
		}
		dst = append(dst, v.Type)
		dst = append(dst, v.String...)
		return append(dst, crlf...), nil

	case TypeBulkString:
		if v.IsNull {
			return append(dst, nullBulkString...), nil
		}
		dst = appendHeader(dst, TypeBulkString, int64(len(v.String)))
		dst = append(dst, v.String...)
		return append(dst, crlf...), nil

	case TypeArray:
		if v.IsNull {
			return append(dst, nullArray...), nil
		}
		dst = appendHeader(dst, TypeArray, int64(len(v.Array)))
		var err error
		for _, el := range v.Array {
			if dst, err = appendValue(dst, el); err != nil {
				return dst, err
			}
		}
		return dst, nil
	}

	return dst, encodingErrorf("unsupported value type %q", v.Type)
}

// appendHeader writes the type prefix, numeric value, and CRLF
func appendHeader(dst []byte, prefix byte, n int64) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, crlf...)
}
