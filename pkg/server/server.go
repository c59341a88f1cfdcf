// Package server accepts SocketD connections and runs one channel per
// transport.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Acceptor yields inbound transports. tcp.Listener implements it.
type Acceptor interface {
	Accept() (core.Transport, error)
	Close() error
	Addr() net.Addr
}

// Server owns the channels of every accepted connection.
type Server struct {
	config    *Config
	processor *core.Processor
	logger    *slog.Logger

	mu        sync.Mutex
	channels  map[*core.Channel]struct{}
	acceptors map[Acceptor]struct{}

	closed   atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	sweepOne sync.Once
}

// New creates a server dispatching to l. A nil cfg selects DefaultConfig().
func New(cfg *Config, l core.Listener) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := core.NewProcessor(cfg.CoreConfig(), l)
	if err != nil {
		return nil, err
	}
	return &Server{
		config:    cfg,
		processor: p,
		logger:    cfg.Logger,
		channels:  make(map[*core.Channel]struct{}),
		acceptors: make(map[Acceptor]struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Config returns the server config.
func (s *Server) Config() *Config { return s.config }

// Processor returns the protocol processor shared by all channels.
func (s *Server) Processor() *core.Processor { return s.processor }

// Serve accepts transports from a until a fails or the server stops.
// It always returns a non-nil error; ErrServerClosed after Stop.
func (s *Server) Serve(a Acceptor) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	s.trackAcceptor(a, true)
	defer s.trackAcceptor(a, false)

	s.logger.Info("server listening", "addr", a.Addr().String(), "schema", s.config.Schema)
	s.startSweeper()

	for {
		t, err := a.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track() {
			t.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			s.ServeTransport(t)
		}()
	}
}

// track adds one connection goroutine to wg unless Stop has begun. Stop
// flips closed before taking mu, so no Add can follow its Wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// ServeTransport runs the channel for t and returns when it closes.
// Transports accepted outside Serve, such as WebSocket upgrades, are
// handed in here.
func (s *Server) ServeTransport(t core.Transport) {
	if s.config.WrapTransport != nil {
		t = s.config.WrapTransport(t)
	}
	if s.closed.Load() {
		t.Close()
		return
	}

	ch := core.NewChannel(t, s.processor)
	if !s.register(ch) {
		s.logger.Warn("connection refused", "remote", addrString(t.RemoteAddr()), "error", ErrMaxConnectionsReached)
		t.Close()
		return
	}
	defer s.unregister(ch)

	s.startSweeper()
	s.processor.Serve(ch)
}

func (s *Server) register(ch *core.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.MaxConnections > 0 && len(s.channels) >= s.config.MaxConnections {
		return false
	}
	s.channels[ch] = struct{}{}
	return true
}

func (s *Server) unregister(ch *core.Channel) {
	s.mu.Lock()
	delete(s.channels, ch)
	s.mu.Unlock()
}

func (s *Server) trackAcceptor(a Acceptor, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.acceptors[a] = struct{}{}
	} else {
		delete(s.acceptors, a)
	}
}

// Sessions returns the sessions of all open channels that completed the
// handshake.
func (s *Server) Sessions() []*core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Session, 0, len(s.channels))
	for ch := range s.channels {
		if ch.Handshake() != nil && !ch.IsClosed() {
			out = append(out, ch.Session())
		}
	}
	return out
}

// Len returns the number of open channels.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func (s *Server) snapshot() []*core.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// startSweeper launches the idle and stream-expiry sweep once.
func (s *Server) startSweeper() {
	s.sweepOne.Do(func() {
		go func() {
			ticker := time.NewTicker(s.config.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case now := <-ticker.C:
					s.sweep(now)
				case <-s.done:
					return
				}
			}
		}()
	})
}

func (s *Server) sweep(now time.Time) {
	for _, ch := range s.snapshot() {
		if idle := s.config.IdleTimeout; idle > 0 && now.Sub(ch.LiveTime()) > idle {
			s.logger.Debug("idle timeout", "remote", addrString(ch.RemoteAddr()))
			ch.SendClose()
			ch.Close(protocol.CloseError)
			continue
		}
		ch.Streams().Sweep(now)
	}
}

// Stop closes every acceptor, sends Close to every channel and waits for
// the connection goroutines, bounded by ctx and ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	acceptors := make([]Acceptor, 0, len(s.acceptors))
	for a := range s.acceptors {
		acceptors = append(acceptors, a)
	}
	s.mu.Unlock()
	for _, a := range acceptors {
		a.Close()
	}

	for _, ch := range s.snapshot() {
		ch.SendClose()
		ch.Close(protocol.CloseProtocol)
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.releaseExecutor()
		s.logger.Info("server shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Error("shutdown error", "error", ctx.Err())
		return ctx.Err()
	}
}

// releaseExecutor stops the worker pool Validate created when the config
// named no executor. Queued hooks still run.
func (s *Server) releaseExecutor() {
	if s.config.Executor != nil {
		return
	}
	if pool, ok := s.processor.Config().Executor.(*core.WorkerPool); ok {
		go pool.Close()
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
