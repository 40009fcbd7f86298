package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kazandb/kazandb/internal/resp"
)

var (
	// errBadRequest is reported for frames that are valid RESP but not a command
	errBadRequest = fmt.Errorf("%w: expected array of bulk strings", resp.ErrProtocol)

	errInterrupted = errors.New("server: connection interrupted")
)

// PeerOptions tune a single client connection
type PeerOptions struct {
	IdleTimeout time.Duration // how long to wait for the first byte of the next request, 0 disables
	ReadTimeout time.Duration // how long the rest of a started request may take, 0 disables
	RateLimit   float64       // commands per second, 0 disables
	RateBurst   int
}

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for reading and writing RESP-encoded data
type Peer struct {
	id      uuid.UUID
	conn    net.Conn
	buf     *bufio.Reader
	reader  *resp.Decoder
	writer  *resp.Encoder
	limiter *rate.Limiter
	opts    PeerOptions
	mu      sync.Mutex

	interrupted atomic.Bool
}

// NewPeer initializes a new client peer from a network connection.
// Requests are decoded with codec
func NewPeer(conn net.Conn, codec resp.Codec, opts PeerOptions) *Peer {
	buf := bufio.NewReader(conn)

	p := &Peer{
		id:     uuid.New(),
		conn:   conn,
		buf:    buf,
		reader: codec.NewDecoder(buf),
		writer: resp.NewEncoder(conn),
		opts:   opts,
	}

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return p
}

// ID returns the identifier assigned to the connection
func (p *Peer) ID() uuid.UUID {
	return p.id
}

// RemoteAddr returns the client address
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// ReadCommand reads and decodes the next request from the client's input stream.
// It returns the command name and its arguments. An empty request yields an empty name
func (p *Peer) ReadCommand() (string, []resp.Value, error) {
	if p.buf.Buffered() == 0 && p.opts.IdleTimeout > 0 {
		if err := p.setReadTimeout(p.opts.IdleTimeout); err != nil {
			return "", nil, err
		}
		if _, err := p.buf.Peek(1); err != nil {
			return "", nil, err
		}
	}

	if err := p.setReadTimeout(p.opts.ReadTimeout); err != nil {
		return "", nil, err
	}

	v, err := p.reader.Read()
	if err != nil {
		return "", nil, err
	}

	if v.Type != resp.TypeArray {
		return "", nil, errBadRequest
	}
	if len(v.Array) == 0 {
		return "", nil, nil
	}

	for _, arg := range v.Array {
		if (arg.Type != resp.TypeBulkString && arg.Type != resp.TypeSimpleString) || arg.IsNull {
			return "", nil, errBadRequest
		}
	}

	return string(v.Array[0].String), v.Array[1:], nil
}

// setReadTimeout arms the read deadline, 0 clears it.
// The interrupted flag is checked after the deadline is set, so a concurrent Interrupt is never lost
func (p *Peer) setReadTimeout(d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if p.interrupted.Load() {
		return errInterrupted
	}
	return nil
}

// Interrupt makes a pending or future ReadCommand fail, without touching a command in flight
func (p *Peer) Interrupt() {
	p.interrupted.Store(true)
	p.conn.SetReadDeadline(time.Now()) //nolint:errcheck
}

// Interrupted reports whether Interrupt was called
func (p *Peer) Interrupted() bool {
	return p.interrupted.Load()
}

// Wait blocks until the rate limiter admits the next command
func (p *Peer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Send encodes and writes a RESP value to the client.
// This method is thread-safe and can be called from multiple goroutines
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// Close terminates the underlying network connection
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Flush sends all buffered data to the client
func (p *Peer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Flush()
}

// InputBuffered returns the number of bytes that can be read from the current buffer
func (p *Peer) InputBuffered() int {
	return p.reader.Buffered()
}
