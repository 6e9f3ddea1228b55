// Package server implements the responder: route registration, middleware
// chain, per-pattern cardinality, demand accounting and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames, SETUP first)
//	  → REQUEST_*: go handleRequest (parallel processing)
//	    → route metadata → Middleware Chain → route handler → Sink → PAYLOAD frames
//	  → REQUEST_N: grant demand      CANCEL: cancel handler context
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"item-rsocket/codec"
	"item-rsocket/message"
	"item-rsocket/middleware"
	"item-rsocket/protocol"
	"item-rsocket/registry"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrShuttingDown = errors.New("responder shutting down")

// Server is the responder that serves registered routes.
type Server struct {
	routesMu      sync.RWMutex
	routes        map[string]*route       // "newItems.request-response" → handler
	middlewares   []middleware.Middleware // Applied in the order added
	handler       middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	logger        *zap.Logger
	wg            sync.WaitGroup // In-flight requests, for graceful shutdown
	shutdown      atomic.Bool    // Set before the listener closes to silence Accept errors
	registry      registry.Registry
	advertiseAddr string

	// Streams are cancelled at shutdown; request-response and fire-and-forget
	// get to finish.
	streamCtx     context.Context
	cancelStreams context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	ready    chan struct{}
}

// NewServer creates a responder with no routes.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		routes:        make(map[string]*route),
		logger:        logger,
		streamCtx:     ctx,
		cancelStreams: cancel,
		conns:         make(map[net.Conn]struct{}),
		ready:         make(chan struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ListenAndServe listens on address and calls Serve.
func (svr *Server) ListenAndServe(network, address, advertiseAddr string, reg registry.Registry) error {
	lis, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(lis, advertiseAddr, reg)
}

// Serve registers every route namespace with reg (nil skips discovery) under
// advertiseAddr and accepts connections until Shutdown.
//
// advertiseAddr differs from the listen address because ":7000" is not
// routable for other hosts.
func (svr *Server) Serve(lis net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	svr.mu.Lock()
	svr.listener = lis
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	close(svr.ready)
	svr.mu.Unlock()

	if reg != nil {
		if advertiseAddr == "" {
			advertiseAddr = lis.Addr().String()
		}
		for _, ns := range svr.namespaces() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := reg.Register(ctx, ns, registry.Endpoint{Addr: advertiseAddr, Weight: 10}, 10)
			cancel()
			if err != nil {
				return fmt.Errorf("register %s: %w", ns, err)
			}
		}
	}

	svr.logger.Info("responder listening", zap.String("addr", lis.Addr().String()), zap.Strings("namespaces", svr.namespaces()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address once Serve has started.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	return svr.listener.Addr()
}

// handleConn reads frames sequentially (a single reader per connection) and
// hands each request to its own goroutine.
func (svr *Server) handleConn(conn net.Conn) {
	svr.mu.Lock()
	svr.conns[conn] = struct{}{}
	svr.mu.Unlock()

	logger := svr.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	sc := newServerConn(conn, logger)
	defer func() {
		sc.closeAll()
		conn.Close()
		svr.mu.Lock()
		delete(svr.conns, conn)
		svr.mu.Unlock()
	}()

	if err := svr.acceptSetup(sc); err != nil {
		logger.Warn("setup rejected", zap.Error(err))
		sc.writeError(0, err)
		return
	}

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
		case protocol.MsgTypeRequestResponse, protocol.MsgTypeRequestFNF, protocol.MsgTypeRequestStream:
			msg := &message.RPCMessage{}
			if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
				sc.writeError(header.Seq, fmt.Errorf("decode request: %w", err))
				continue
			}
			st := sc.open(sc.ctx, header.Seq, msg.InitialN)
			if header.MsgType == protocol.MsgTypeRequestStream {
				st.stop = context.AfterFunc(svr.streamCtx, st.cancel)
			}
			svr.wg.Add(1)
			go svr.handleRequest(sc, st, header, msg)
		case protocol.MsgTypeRequestN:
			n, err := protocol.DecodeRequestN(body)
			if err != nil {
				logger.Warn("bad REQUEST_N", zap.Uint32("stream", header.Seq), zap.Error(err))
				continue
			}
			if st := sc.lookup(header.Seq); st != nil {
				st.grant(n)
			}
		case protocol.MsgTypeCancel:
			if st := sc.lookup(header.Seq); st != nil {
				st.peerCanceled.Store(true)
				st.cancel()
			}
		default:
			logger.Warn("unexpected frame from requester", zap.Stringer("type", header.MsgType))
		}
	}
}

// acceptSetup requires SETUP as the first frame and checks the MIME types.
func (svr *Server) acceptSetup(sc *serverConn) error {
	header, body, err := protocol.Decode(sc.conn)
	if err != nil {
		return err
	}
	sc.codec = codec.CodecType(header.CodecType)
	if header.MsgType != protocol.MsgTypeSetup {
		return fmt.Errorf("first frame must be SETUP, got %s", header.MsgType)
	}
	var setup message.Setup
	if err := json.Unmarshal(body, &setup); err != nil {
		return fmt.Errorf("decode setup: %w", err)
	}
	if setup.DataMimeType != codec.MimeTypeJSON {
		return fmt.Errorf("unsupported data mime type %q", setup.DataMimeType)
	}
	if setup.MetadataMimeType != codec.MimeTypeRouting {
		return fmt.Errorf("unsupported metadata mime type %q", setup.MetadataMimeType)
	}
	return nil
}

// handleRequest runs one interaction through the middleware chain and writes
// the terminal frame its pattern calls for.
func (svr *Server) handleRequest(sc *serverConn, st *serverStream, header *protocol.Header, msg *message.RPCMessage) {
	defer svr.wg.Done()
	defer sc.release(header.Seq)

	seq, kind := header.Seq, header.MsgType
	route, err := codec.Route(msg.Metadata)
	if err != nil {
		if kind != protocol.MsgTypeRequestFNF {
			sc.writeError(seq, err)
		}
		return
	}

	req := &middleware.Request{Route: route, Kind: kind, StreamID: seq, Msg: msg}
	sink := &frameSink{sc: sc, st: st, kind: kind, seq: seq}
	err = svr.handler(st.ctx, req, sink)
	sent := sink.close()

	switch kind {
	case protocol.MsgTypeRequestFNF:
		if err != nil {
			sc.logger.Warn("fire-and-forget failed", zap.String("route", route), zap.Error(err))
		}
	case protocol.MsgTypeRequestResponse:
		switch {
		case st.peerCanceled.Load():
		case err != nil:
			sc.writeError(seq, err)
		case sent == 0:
			sc.writeError(seq, fmt.Errorf("route %q produced no response", route))
		}
	case protocol.MsgTypeRequestStream:
		switch {
		case st.peerCanceled.Load():
		case err != nil && svr.shutdown.Load() && errors.Is(err, context.Canceled):
			sc.writeError(seq, ErrShuttingDown)
		case err != nil:
			sc.writeError(seq, err)
		default:
			if werr := sc.writeMessage(protocol.MsgTypeComplete, seq, nil); werr != nil {
				sc.logger.Debug("write complete", zap.Uint32("stream", seq), zap.Error(werr))
			}
		}
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so requesters stop resolving this responder
//  2. Set the shutdown flag, close the listener
//  3. Cancel open streams, wait for in-flight requests (bounded by timeout)
//  4. Close remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	lis, reg, addr := svr.listener, svr.registry, svr.advertiseAddr
	svr.mu.Unlock()

	if reg != nil {
		if addr == "" && lis != nil {
			addr = lis.Addr().String()
		}
		for _, ns := range svr.namespaces() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := reg.Deregister(ctx, ns, addr); err != nil {
				svr.logger.Warn("deregister", zap.String("namespace", ns), zap.Error(err))
			}
			cancel()
		}
	}

	svr.shutdown.Store(true)
	if lis != nil {
		lis.Close()
	}
	svr.cancelStreams()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
