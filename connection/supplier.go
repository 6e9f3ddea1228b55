// Package connection owns the requester's single connection to the
// responder.
//
// The first Get establishes it, retrying a bounded number of times; every
// concurrent and later caller shares the outcome:
//
//	Uninitialized ──Get──→ Establishing ──ok──→ Ready ──conn drops──→ Failed
//	                            │                                      ↑
//	                            └──────────retries exhausted───────────┘
//
// Concurrent callers during Establishing attach to the in-flight attempt
// (singleflight), so there is never more than one dial loop at a time.
package connection

import (
	"context"
	"errors"
	"fmt"
	"item-rsocket/codec"
	"item-rsocket/metric"
	"item-rsocket/rpcerr"
	"item-rsocket/transport"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	StateUninitialized State = iota
	StateEstablishing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEstablishing:
		return "establishing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FailurePolicy decides what Get does once establishment failed or the
// connection was lost.
type FailurePolicy int

const (
	// FailurePolicyCache replays the failure to every caller until Reset.
	FailurePolicyCache FailurePolicy = iota
	// FailurePolicyRetry starts a fresh establishment on the next Get.
	FailurePolicyRetry
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "cache":
		return FailurePolicyCache, nil
	case "retry":
		return FailurePolicyRetry, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Dialer opens the raw connection.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

type Options struct {
	Resolver      Resolver        // Default StaticResolver(DefaultAddr)
	Codec         codec.CodecType // Envelope codec
	MaxRetries    int             // Attempts after the first one
	Backoff       Backoff
	DialTimeout   time.Duration // Per attempt; zero leaves it to the Dialer
	Heartbeat     time.Duration
	FailurePolicy FailurePolicy
	Dialer        Dialer
	Logger        *zap.Logger
	Metrics       *metric.Metrics
}

// DefaultOptions dials localhost:7000 with up to 5 retries and caches a
// terminal failure.
func DefaultOptions() Options {
	return Options{
		Resolver:      StaticResolver(DefaultAddr),
		Codec:         codec.CodecTypeJSON,
		MaxRetries:    5,
		Backoff:       DefaultBackoff(),
		DialTimeout:   3 * time.Second,
		Heartbeat:     20 * time.Second,
		FailurePolicy: FailurePolicyCache,
	}
}

// Supplier lazily establishes and then shares one ClientTransport.
type Supplier struct {
	opts   Options
	logger *zap.Logger
	group  singleflight.Group

	// Establishment runs on this context: a caller giving up must not abort
	// the attempt other callers are waiting for.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	conn  *transport.ClientTransport
	err   error
}

func NewSupplier(opts Options) *Supplier {
	if opts.Resolver == nil {
		opts.Resolver = StaticResolver(DefaultAddr)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Dialer == nil {
		var d net.Dialer
		opts.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supplier{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Get returns the shared connection, establishing it on first use.
//
// ctx bounds how long this caller waits, not the establishment itself.
func (s *Supplier) Get(ctx context.Context) (*transport.ClientTransport, error) {
	if conn, done, err := s.settled(); done {
		return conn, err
	}

	ch := s.group.DoChan("connect", func() (any, error) {
		return s.establish()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*transport.ClientTransport), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settled reports the outcome when no establishment is needed.
func (s *Supplier) settled() (*transport.ClientTransport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settledLocked()
}

func (s *Supplier) settledLocked() (*transport.ClientTransport, bool, error) {
	switch s.state {
	case StateReady:
		return s.conn, true, nil
	case StateFailed:
		if s.opts.FailurePolicy == FailurePolicyCache {
			return nil, true, s.err
		}
	case StateClosed:
		return nil, true, rpcerr.ErrConnectionClosed
	}
	return nil, false, nil
}

func (s *Supplier) establish() (*transport.ClientTransport, error) {
	// A flight that started just after another one finished sees its result.
	// Check and transition share one critical section so a concurrent Close
	// is never overwritten.
	s.mu.Lock()
	if conn, done, err := s.settledLocked(); done {
		s.mu.Unlock()
		return conn, err
	}
	s.state = StateEstablishing
	s.mu.Unlock()

	conn, err := s.connect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		if conn != nil {
			conn.Close()
		}
		return nil, rpcerr.ErrConnectionClosed
	}
	if err != nil {
		s.state, s.err, s.conn = StateFailed, err, nil
		s.opts.Metrics.Connection("failed")
		s.logger.Error("connection failed", zap.Error(err))
		return nil, err
	}
	s.state, s.err, s.conn = StateReady, nil, conn
	s.opts.Metrics.Connection("established")
	go s.watch(conn)
	return conn, nil
}

// connect runs the bounded retry loop: one attempt plus MaxRetries retries.
// Intermediate failures are only logged.
func (s *Supplier) connect() (*transport.ClientTransport, error) {
	attempts := s.opts.MaxRetries + 1
	var (
		addr    string
		lastErr error
		n       int
	)
	for n = 1; ; n++ {
		s.opts.Metrics.ConnectAttempt()

		var conn *transport.ClientTransport
		addr, conn, lastErr = s.attempt()
		if lastErr == nil {
			s.logger.Info("connection established", zap.String("addr", addr), zap.Int("attempt", n))
			return conn, nil
		}
		s.logger.Debug("connection attempt failed",
			zap.String("addr", addr), zap.Int("attempt", n), zap.Int("of", attempts), zap.Error(lastErr))

		if n == attempts || s.ctx.Err() != nil {
			break
		}
		if err := wait(s.ctx, s.opts.Backoff.delay(n)); err != nil {
			break
		}
	}
	return nil, &rpcerr.ConnectionError{Addr: addr, Attempts: n, Err: lastErr}
}

func (s *Supplier) attempt() (string, *transport.ClientTransport, error) {
	ctx := s.ctx
	if s.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DialTimeout)
		defer cancel()
	}

	addr, err := s.opts.Resolver.Resolve(ctx)
	if err != nil {
		return "", nil, err
	}
	raw, err := s.opts.Dialer(ctx, addr)
	if err != nil {
		return addr, nil, err
	}
	conn, err := transport.NewClientTransport(raw, s.opts.Codec, transport.Options{
		Heartbeat: s.opts.Heartbeat,
		Logger:    s.logger.With(zap.String("addr", addr)),
	})
	if err != nil {
		raw.Close()
		return addr, nil, err
	}
	return addr, conn, nil
}

// watch moves the supplier to Failed when the shared connection drops.
func (s *Supplier) watch(conn *transport.ClientTransport) {
	<-conn.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn || s.state != StateReady {
		return
	}
	cause := conn.Err()
	if !errors.Is(cause, rpcerr.ErrConnectionLost) {
		cause = fmt.Errorf("%w: %v", rpcerr.ErrConnectionLost, cause)
	}
	s.state, s.err, s.conn = StateFailed, cause, nil
	s.opts.Metrics.Connection("lost")
	s.logger.Warn("connection lost", zap.Error(cause))
}

// State reports where the supplier is in its lifecycle.
func (s *Supplier) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset forgets a cached failure or drops the current connection so the next
// Get establishes a new one. It does not interrupt an attempt in flight.
func (s *Supplier) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		conn := s.conn
		s.state, s.conn = StateUninitialized, nil
		conn.Close()
	case StateFailed:
		s.state, s.err = StateUninitialized, nil
	}
}

// Close tears the connection down and aborts any attempt in flight. Get
// fails with rpcerr.ErrConnectionClosed afterwards.
func (s *Supplier) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.state, s.conn, s.err = StateClosed, nil, rpcerr.ErrConnectionClosed
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
