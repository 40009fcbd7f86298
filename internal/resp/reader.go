package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Capacity reserved up front is capped,
// so a corrupted length field cannot force a huge allocation before the bytes arrive
const (
	arrayPrealloc = 1024
	bulkChunk     = 64 * 1024
)

// Decoder reads RESP2 frames from a byte stream
type Decoder struct {
	rd     *bufio.Reader
	limits Limits
}

// NewDecoder wraps rd for frame decoding.
// If rd is already a *bufio.Reader it is used without additional buffering
func NewDecoder(rd io.Reader, opts ...Option) *Decoder {
	br, ok := rd.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(rd)
	}

	d := &Decoder{
		rd:     br,
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Read decodes the next frame.
// It returns io.EOF only if the stream ended cleanly on a frame boundary
func (d *Decoder) Read() (Value, error) {
	return Decode(d.rd, d.limits)
}

// Buffered returns the number of bytes that can be read from the current buffer
func (d *Decoder) Buffered() int {
	return d.rd.Buffered()
}

// Decode reads exactly one frame from rd.
// An Error frame is returned as *RemoteError, malformed input as an error matching ErrProtocol
func Decode(rd *bufio.Reader, limits Limits) (Value, error) {
	_type, err := rd.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.EOF
		}
		return Value{}, readError(err)
	}

	return decodeFrame(rd, _type, limits, 0)
}

// decodeValue reads a frame that the enclosing array declared, so running out of bytes is a protocol error
func decodeValue(rd *bufio.Reader, limits Limits, depth int) (Value, error) {
	_type, err := rd.ReadByte()
	if err != nil {
		return Value{}, readError(err)
	}

	return decodeFrame(rd, _type, limits, depth)
}

func decodeFrame(rd *bufio.Reader, _type byte, limits Limits, depth int) (Value, error) {
	switch _type {
	case TypeSimpleString:
		line, err := readTextLine(rd, limits)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeSimpleString, String: line}, nil

	case TypeError:
		line, err := readTextLine(rd, limits)
		if err != nil {
			return Value{}, err
		}
		return Value{}, &RemoteError{Message: strings.ToValidUTF8(string(line), "\uFFFD")}

	case TypeInteger:
		line, err := readLine(rd, limits)
		if err != nil {
			return Value{}, err
		}
		num, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return Value{}, protocolErrorf("invalid integer %q", line)
		}
		return MakeInteger(num), nil

	case TypeBulkString:
		return readBulkString(rd, limits)

	case TypeArray:
		return readArray(rd, limits, depth+1)
	}

	return Value{}, fmt.Errorf("%w %q", ErrUnknownType, _type)
}

func readBulkString(rd *bufio.Reader, limits Limits) (Value, error) {
	n, err := readLength(rd, limits, "bulk string")
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilBulkString(), nil
	}

	if limits.MaxBulkLen > 0 && n > limits.MaxBulkLen {
		return Value{}, limitErrorf("bulk string length %d exceeds %d", n, limits.MaxBulkLen)
	}

	total := n + 2
	buf := make([]byte, 0, min(total, bulkChunk))
	for len(buf) < total {
		chunk := min(total-len(buf), bulkChunk)
		buf = slices.Grow(buf, chunk)
		if _, err = io.ReadFull(rd, buf[len(buf):len(buf)+chunk]); err != nil {
			return Value{}, readError(err)
		}
		buf = buf[:len(buf)+chunk]
	}

	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Value{}, ErrInvalidEnding
	}

	return Value{Type: TypeBulkString, String: buf[:n:n]}, nil
}

// readArray decodes the element count and then every element; level is the nesting of this array
func readArray(rd *bufio.Reader, limits Limits, level int) (Value, error) {
	n, err := readLength(rd, limits, "array")
	if err != nil {
		return Value{}, err
	}

	switch n {
	case -1:
		return MakeNilArray(), nil
	case 0:
		return MakeArray([]Value{}), nil
	}

	if limits.MaxArrayLen > 0 && n > limits.MaxArrayLen {
		return Value{}, limitErrorf("array length %d exceeds %d", n, limits.MaxArrayLen)
	}

	if limits.MaxDepth > 0 && level > limits.MaxDepth {
		return Value{}, limitErrorf("array nesting exceeds %d", limits.MaxDepth)
	}

	values := make([]Value, 0, min(n, arrayPrealloc))
	for i := 0; i < n; i++ {
		val, err := decodeValue(rd, limits, level)
		if err != nil {
			return Value{}, err
		}
		values = append(values, val)
	}

	return MakeArray(values), nil
}

// readLength parses the header of a bulk string or array, -1 is the null marker
func readLength(rd *bufio.Reader, limits Limits, what string) (int, error) {
	line, err := readLine(rd, limits)
	if err != nil {
		return 0, err
	}

	if string(line) == "-1" {
		return -1, nil
	}

	// lengths are plain decimal digits, strconv would also take a sign
	if len(line) == 0 || line[0] < '0' || line[0] > '9' {
		return 0, protocolErrorf("invalid %s length %q", what, line)
	}
	n, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, protocolErrorf("invalid %s length %q", what, line)
	}

	return n, nil
}

// readTextLine reads the payload of a Simple String or Error, which may not contain a CR
func readTextLine(rd *bufio.Reader, limits Limits) ([]byte, error) {
	line, err := readLine(rd, limits)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(line, '\r') >= 0 {
		return nil, protocolErrorf("CR inside line %q", line)
	}
	return line, nil
}

// readLine returns the rest of the current line without the CRLF terminator.
// The returned slice is owned by the caller
func readLine(rd *bufio.Reader, limits Limits) ([]byte, error) {
	var buf []byte
	for {
		frag, err := rd.ReadSlice('\n')
		buf = append(buf, frag...)
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, readError(err)
		}
		if limits.MaxLineLen > 0 && len(buf) > limits.MaxLineLen+2 {
			return nil, limitErrorf("line length exceeds %d", limits.MaxLineLen)
		}
	}

	if len(buf) < 2 || buf[len(buf)-2] != '\r' {
		return nil, ErrInvalidEnding
	}

	line := buf[:len(buf)-2]
	if limits.MaxLineLen > 0 && len(line) > limits.MaxLineLen {
		return nil, limitErrorf("line length exceeds %d", limits.MaxLineLen)
	}

	return line, nil
}

// readError classifies a failed read inside a frame
func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrProtocol, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("resp: read: %w", err)
}
