package resp

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Protocol names a wire protocol version
type Protocol string

// RESP2 is the only protocol version this package implements
const RESP2 Protocol = "resp2"

// Codec converts between Values and one protocol version's bytes
type Codec interface {
	Protocol() Protocol
	NewDecoder(rd io.Reader) *Decoder
	Decode(rd *bufio.Reader) (Value, error)
	Encode(v Value) ([]byte, error)
}

// codecs is fixed at build time
var codecs = map[Protocol]func(Limits) Codec{
	RESP2: func(l Limits) Codec { return resp2Codec{limits: l} },
}

// Lookup returns the codec registered under name, matched case-insensitively
func Lookup(name string, limits Limits) (Codec, error) {
	newCodec, ok := codecs[Protocol(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: parser %s not found", ErrUnknownProtocol, name)
	}
	return newCodec(limits), nil
}

// Protocols lists every supported protocol version
func Protocols() []Protocol {
	out := make([]Protocol, 0, len(codecs))
	for p := range codecs {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

type resp2Codec struct {
	limits Limits
}

func (c resp2Codec) Protocol() Protocol {
	return RESP2
}

func (c resp2Codec) NewDecoder(rd io.Reader) *Decoder {
	return NewDecoder(rd, WithLimits(c.limits))
}

func (c resp2Codec) Decode(rd *bufio.Reader) (Value, error) {
	return Decode(rd, c.limits)
}

func (c resp2Codec) Encode(v Value) ([]byte, error) {
	return Encode(v)
}
