package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kazandb/kazandb/internal/config"
	"github.com/kazandb/kazandb/internal/resp"
)

// Server accepts client connections and runs their commands on an Engine
type Server struct {
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
	codec      resp.Codec
	engine     *Engine
	log        *zap.Logger
	metrics    *Metrics
	peerOpts   PeerOptions

	mu       sync.Mutex
	listener net.Listener
	peers    map[*Peer]struct{}
	conns    sync.WaitGroup
}

// New builds a server for the protocol named in cfg.Server.Protocol.
// A nil metrics gets a fresh private registry
func New(cfg *config.Config, engine *Engine, log *zap.Logger, metrics *Metrics) (*Server, error) {
	codec, err := resp.Lookup(cfg.Server.Protocol, cfg.Limits())
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Server{
		cfg:        cfg.Server,
		metricsCfg: cfg.Metrics,
		codec:      codec,
		engine:     engine,
		log:        log,
		metrics:    metrics,
		peerOpts: PeerOptions{
			IdleTimeout: cfg.Server.IdleTimeout,
			ReadTimeout: cfg.Server.ReadTimeout,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
		},
		peers: make(map[*Peer]struct{}),
	}, nil
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled or accepting fails.
// Open connections get shutdown_timeout to finish their current command before they are closed
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("listening on",
		zap.String("address", listener.Addr().String()),
		zap.String("protocol", string(s.codec.Protocol())),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx, listener)
	})

	g.Go(func() error {
		<-gctx.Done()
		return listener.Close()
	})

	if s.metricsCfg.Enabled {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.drain()

	return err
}

// Addr returns the address the server is listening on, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	var backoff time.Duration

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Error("Accept error", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.metricsCfg.Path, s.metrics.Handler())

	srv := &http.Server{
		Addr:              s.metricsCfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.log.Info("metrics listening on", zap.String("address", s.metricsCfg.Addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleConnection handles a connection for a single user
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	peer := NewPeer(conn, s.codec, s.peerOpts)
	log := s.log.With(zap.Stringer("client_id", peer.ID()))

	s.track(ctx, peer)
	s.metrics.connectionsTotal.Inc()
	s.metrics.connectionsActive.Inc()

	if log.Core().Enabled(zap.DebugLevel) {
		log.Debug("client connected", zap.String("addr", conn.RemoteAddr().String()))
	}

	defer func() {
		peer.Close() //nolint:errcheck
		s.untrack(peer)
		s.metrics.connectionsActive.Dec()
		// log connection close
		if log.Core().Enabled(zap.DebugLevel) {
			log.Debug("client disconnected", zap.String("addr", conn.RemoteAddr().String()))
		}
	}()

	verbose := s.cfg.Verbose && log.Core().Enabled(zap.DebugLevel)

	for {
		name, args, err := peer.ReadCommand()
		if err != nil {
			s.readFailed(log, peer, err)
			return
		}

		if name != "" {
			if err = peer.Wait(ctx); err != nil {
				return
			}

			if verbose {
				if frame, err := resp.SerializeCommand(name, args); err == nil {
					log.Debug("request", zap.ByteString("frame", frame))
				}
			}

			start := time.Now()
			result := s.engine.Execute(name, args)
			s.observe(name, time.Since(start))

			if verbose {
				if frame, err := resp.Encode(result); err == nil {
					log.Debug("reply", zap.ByteString("frame", frame))
				}
			}

			if err = peer.Send(result); err != nil {
				log.Error("error writing response", zap.Error(err))
				return
			}
		}

		if peer.InputBuffered() == 0 {
			if err = peer.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) observe(name string, elapsed time.Duration) {
	label := "unknown"
	if s.engine.Known(name) {
		label = strings.ToLower(name)
	}
	s.metrics.commandsTotal.WithLabelValues(label).Inc()
	s.metrics.commandDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// readFailed decides how a connection ends after ReadCommand failed.
// Malformed input is answered with a protocol error since the frame boundary is lost
func (s *Server) readFailed(log *zap.Logger, peer *Peer, err error) {
	var ne net.Error

	switch {
	case errors.Is(err, io.EOF), peer.Interrupted():
		return
	case errors.As(err, &ne) && ne.Timeout():
		log.Debug("client timed out", zap.Error(err))
		return
	case resp.IsRemoteError(err):
		s.metrics.remoteErrors.Inc()
		err = errBadRequest
	case !errors.Is(err, resp.ErrProtocol):
		log.Warn("read command failed", zap.Error(err))
		return
	}

	s.metrics.protocolErrors.Inc()
	log.Warn("protocol error", zap.Error(err))

	detail := strings.TrimPrefix(err.Error(), resp.ErrProtocol.Error()+": ")
	if peer.Send(resp.MakeError("ERR Protocol error: "+detail)) == nil {
		peer.Flush() //nolint:errcheck
	}
}

// track registers p for drain. A peer accepted while shutting down is interrupted right away
func (s *Server) track(ctx context.Context, p *Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	if ctx.Err() != nil {
		p.Interrupt()
	}
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// drain interrupts reads on every open connection and waits for their handlers.
// Connections still busy after shutdown_timeout are closed
func (s *Server) drain() {
	s.mu.Lock()
	for p := range s.peers {
		p.Interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All connections closed gracefully")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("Shutdown timed out, forcing close", zap.Duration("timeout", s.cfg.ShutdownTimeout))

		s.mu.Lock()
		for p := range s.peers {
			p.Close() //nolint:errcheck
		}
		s.mu.Unlock()
		<-done
	}
}
