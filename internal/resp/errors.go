package resp

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is returned when the bytes on the stream are not valid RESP2
	ErrProtocol = errors.New("resp: protocol error")

	// ErrLimitExceeded is returned when a frame declares more than the configured Limits allow.
	// Errors wrapping it also match ErrProtocol
	ErrLimitExceeded = errors.New("resp: limit exceeded")

	// ErrEncoding is returned when a value has no RESP2 representation
	ErrEncoding = errors.New("resp: encoding error")

	// ErrUnknownProtocol is returned by Lookup for protocol names outside the supported set
	ErrUnknownProtocol = errors.New("resp: unknown protocol")

	// ErrInvalidEnding is returned when a header line or a bulk payload is not terminated by CRLF
	ErrInvalidEnding = fmt.Errorf("%w: invalid line ending", ErrProtocol)

	// ErrUnknownType is returned when a frame starts with an unknown type tag
	ErrUnknownType = fmt.Errorf("%w: unknown response type", ErrProtocol)
)

// RemoteError is the failure reported when the peer sent an Error frame.
// It is valid protocol data and never matches ErrProtocol
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemoteError reports whether err carries an Error frame sent by the peer
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func limitErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrProtocol, ErrLimitExceeded, fmt.Sprintf(format, args...))
}

func encodingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncoding, fmt.Sprintf(format, args...))
}
