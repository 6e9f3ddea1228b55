package server

import (
	"context"
	"encoding/json"
	"errors"
	"item-rsocket/codec"
	"item-rsocket/message"
	"item-rsocket/protocol"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrNoResponseExpected  = errors.New("fire-and-forget takes no response")
	ErrResponseAlreadySent = errors.New("request-response already answered")
	errSinkClosed          = errors.New("interaction already finished")
)

// serverConn is the responder's view of one requester connection.
type serverConn struct {
	conn    net.Conn
	codec   codec.CodecType
	logger  *zap.Logger
	writeMu sync.Mutex // Shared by every handler goroutine writing on this conn

	ctx    context.Context // Cancelled when the connection goes away
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[uint32]*serverStream
}

// serverStream tracks one interaction: its cancellation and, for streams,
// the demand granted by the requester.
type serverStream struct {
	ctx          context.Context
	cancel       context.CancelFunc
	stop         func() bool // Detaches the shutdown hook of a stream, nil otherwise
	peerCanceled atomic.Bool

	mu      sync.Mutex
	credits uint32
	signal  chan struct{}
}

func newServerConn(conn net.Conn, logger *zap.Logger) *serverConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &serverConn{
		conn:    conn,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[uint32]*serverStream),
	}
}

// open registers an interaction before its handler starts, so REQUEST_N and
// CANCEL frames read right after the request find it.
func (sc *serverConn) open(parent context.Context, seq uint32, initialN uint32) *serverStream {
	ctx, cancel := context.WithCancel(parent)
	st := &serverStream{
		ctx:     ctx,
		cancel:  cancel,
		credits: initialN,
		signal:  make(chan struct{}, 1),
	}
	sc.mu.Lock()
	sc.streams[seq] = st
	sc.mu.Unlock()
	return st
}

func (sc *serverConn) lookup(seq uint32) *serverStream {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.streams[seq]
}

func (sc *serverConn) release(seq uint32) {
	sc.mu.Lock()
	st := sc.streams[seq]
	delete(sc.streams, seq)
	sc.mu.Unlock()
	if st != nil {
		if st.stop != nil {
			st.stop()
		}
		st.cancel()
	}
}

// closeAll cancels every interaction of the connection.
func (sc *serverConn) closeAll() {
	sc.cancel()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for seq, st := range sc.streams {
		st.cancel()
		delete(sc.streams, seq)
	}
}

func (sc *serverConn) writeMessage(kind protocol.MsgType, seq uint32, msg *message.RPCMessage) error {
	var body []byte
	if msg != nil {
		b, err := codec.GetCodec(sc.codec).Encode(msg)
		if err != nil {
			return err
		}
		body = b
	}

	// Encode refuses an oversize body before writing, so only this
	// interaction fails.
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return protocol.Encode(sc.conn, &protocol.Header{CodecType: byte(sc.codec), MsgType: kind, Seq: seq}, body)
}

func (sc *serverConn) writeError(seq uint32, err error) {
	if werr := sc.writeMessage(protocol.MsgTypeError, seq, &message.RPCMessage{Error: err.Error()}); werr != nil {
		sc.logger.Debug("write error frame", zap.Uint32("stream", seq), zap.Error(werr))
	}
}

// grant adds requester demand, saturating at MaxUint32.
func (st *serverStream) grant(n uint32) {
	st.mu.Lock()
	if st.credits+n < st.credits {
		st.credits = ^uint32(0)
	} else {
		st.credits += n
	}
	st.mu.Unlock()

	select {
	case st.signal <- struct{}{}:
	default:
	}
}

// acquire takes one unit of demand, waiting for REQUEST_N when none is left.
func (st *serverStream) acquire() error {
	for {
		st.mu.Lock()
		if st.credits > 0 {
			st.credits--
			st.mu.Unlock()
			return nil
		}
		st.mu.Unlock()

		select {
		case <-st.signal:
		case <-st.ctx.Done():
			return st.ctx.Err()
		}
	}
}

// frameSink turns handler emissions into PAYLOAD frames and enforces the
// cardinality of the interaction.
type frameSink struct {
	sc   *serverConn
	st   *serverStream
	kind protocol.MsgType
	seq  uint32

	mu     sync.Mutex
	sent   int
	closed bool
}

func (s *frameSink) Next(v any) error {
	switch s.kind {
	case protocol.MsgTypeRequestFNF:
		return ErrNoResponseExpected
	case protocol.MsgTypeRequestStream:
		if err := s.st.acquire(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if s.kind == protocol.MsgTypeRequestResponse && s.sent > 0 {
		return ErrResponseAlreadySent
	}
	if err := s.st.ctx.Err(); err != nil {
		return err
	}
	if err := s.sc.writeMessage(protocol.MsgTypePayload, s.seq, &message.RPCMessage{Payload: payload}); err != nil {
		return err
	}
	s.sent++
	return nil
}

// close stops further emissions and reports how many were sent.
func (s *frameSink) close() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.sent
}
