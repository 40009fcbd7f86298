package resp

// Limits bound the memory and stack a single frame may use while decoding.
// A zero field disables that particular check
type Limits struct {
	MaxBulkLen  int // largest accepted bulk string payload in bytes
	MaxArrayLen int // largest accepted element count of a single array
	MaxDepth    int // deepest accepted array nesting, the outermost array is depth 1
	MaxLineLen  int // longest accepted header line, excluding CRLF
}

// DefaultLimits mirrors the stock Redis server limits
func DefaultLimits() Limits {
	return Limits{
		MaxBulkLen:  512 * 1024 * 1024,
		MaxArrayLen: 1024 * 1024,
		MaxDepth:    32,
		MaxLineLen:  64 * 1024,
	}
}

// Option customizes a Decoder
type Option func(*Decoder)

// WithLimits replaces the default decoding limits
func WithLimits(l Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}
