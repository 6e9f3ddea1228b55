// Package transport implements the requester side of one multiplexed connection.
//
// ClientTransport carries every interaction of the process over a single TCP
// connection. Each interaction gets its own stream ID, and a background
// goroutine (recvLoop) reads frames and routes them to the matching Stream.
//
//	goroutine-1 ──REQUEST_RESPONSE(id=1)──┐
//	goroutine-2 ──REQUEST_STREAM(id=2)────┼──→ single TCP conn ──→ Responder
//	goroutine-3 ──REQUEST_FNF(id=3)───────┘
//
//	recvLoop:  ←── PAYLOAD(id=2) → pending[2].frames → goroutine-2 Recv()
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"item-rsocket/codec"
	"item-rsocket/message"
	"item-rsocket/protocol"
	"item-rsocket/rpcerr"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tune a ClientTransport. The zero value disables heartbeats.
type Options struct {
	Heartbeat time.Duration
	Logger    *zap.Logger
}

// ClientTransport manages a single multiplexed connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32     // Last allocated stream ID (protected by sending)
	pending sync.Map   // map[uint32]*Stream
	sending sync.Mutex // Serializes frame writes; interleaved frames corrupt the connection
	logger  *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once
	err       error // Terminal cause, written before closed is closed
}

// NewClientTransport sends the SETUP frame announcing the data and metadata
// MIME types, then starts the receive loop and, if configured, the heartbeat.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts Options) (*ClientTransport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:   conn,
		codec:  codecType,
		logger: logger,
		closed: make(chan struct{}),
	}

	setup, err := json.Marshal(message.Setup{
		DataMimeType:     codec.MimeTypeJSON,
		MetadataMimeType: codec.MimeTypeRouting,
		KeepAliveMillis:  opts.Heartbeat.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(codecType), MsgType: protocol.MsgTypeSetup}, setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	go t.recvLoop()
	if opts.Heartbeat > 0 {
		go t.heartbeatLoop(opts.Heartbeat)
	}
	return t, nil
}

// Open encodes msg and writes the request frame of the given kind.
//
// For REQUEST_FNF nothing is registered and the returned Stream is nil: the
// call succeeds as soon as the frame is written. For the other kinds a Stream
// is registered before the write, so a fast response cannot race past it.
// Cancelling ctx cancels the Stream.
func (t *ClientTransport) Open(ctx context.Context, kind protocol.MsgType, msg *message.RPCMessage) (*Stream, error) {
	if !kind.IsRequest() {
		return nil, fmt.Errorf("%w: %s does not open an interaction", rpcerr.ErrProtocol, kind)
	}
	if err := t.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return nil, err
	}
	// Only this interaction fails; the responder would drop the connection.
	if len(body) > int(protocol.MaxBodyLen) {
		return nil, fmt.Errorf("%w: %s body is %d bytes, limit %d",
			rpcerr.ErrFrameTooLarge, kind, len(body), protocol.MaxBodyLen)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	var s *Stream
	if kind != protocol.MsgTypeRequestFNF {
		s = newStream(t, seq, kind, msg.InitialN)
		t.pending.Store(seq, s)
	}

	header := protocol.Header{CodecType: byte(t.codec), MsgType: kind, Seq: seq}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		if s != nil {
			t.pending.Delete(seq)
		}
		cause := fmt.Errorf("%w: %v", rpcerr.ErrConnectionLost, err)
		t.shutdown(cause)
		return nil, cause
	}

	if s != nil {
		s.stopWatch = context.AfterFunc(ctx, s.Cancel)
	}
	return s, nil
}

// write sends a control frame that carries no envelope.
func (t *ClientTransport) write(kind protocol.MsgType, seq uint32, body []byte) error {
	t.sending.Lock()
	defer t.sending.Unlock()

	if err := t.Err(); err != nil {
		return err
	}
	header := protocol.Header{CodecType: byte(t.codec), MsgType: kind, Seq: seq}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		cause := fmt.Errorf("%w: %v", rpcerr.ErrConnectionLost, err)
		t.shutdown(cause)
		return cause
	}
	return nil
}

// recvLoop is the only reader of the connection; frame boundaries can only be
// parsed sequentially. It routes each frame to its Stream by stream ID.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(fmt.Errorf("%w: %v", rpcerr.ErrConnectionLost, err))
			return
		}

		switch header.MsgType {
		case protocol.MsgTypePayload, protocol.MsgTypeComplete, protocol.MsgTypeError:
		case protocol.MsgTypeHeartbeat:
			continue
		default:
			t.logger.Warn("unexpected frame from responder",
				zap.Stringer("type", header.MsgType), zap.Uint32("stream", header.Seq))
			continue
		}

		in := inbound{kind: header.MsgType, msg: &message.RPCMessage{}}
		if len(body) > 0 {
			cdc := codec.GetCodec(codec.CodecType(header.CodecType))
			if err := cdc.Decode(body, in.msg); err != nil {
				in = inbound{kind: protocol.MsgTypeError, msg: &message.RPCMessage{Error: "undecodable frame: " + err.Error()}}
			}
		}

		// Stream 0 is the connection: an ERROR there means the responder
		// rejected us (bad SETUP) and is about to hang up.
		if header.Seq == 0 {
			if in.kind == protocol.MsgTypeError {
				t.shutdown(fmt.Errorf("%w: rejected by responder: %s", rpcerr.ErrConnectionLost, in.msg.Error))
				return
			}
			continue
		}

		v, ok := t.pending.Load(header.Seq)
		if !ok {
			continue // cancelled or unknown stream
		}
		s := v.(*Stream)
		if in.kind != protocol.MsgTypePayload || s.kind == protocol.MsgTypeRequestResponse {
			t.pending.Delete(header.Seq)
		}
		s.push(in)
	}
}

// heartbeatLoop writes a HEARTBEAT on stream 0 every interval so idle
// connections are not reaped by the responder or middleboxes.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.write(protocol.MsgTypeHeartbeat, 0, nil); err != nil {
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.logger.Debug("transport closed", zap.Error(cause))
		t.err = cause
		close(t.closed)
		t.conn.Close()
	})
}

// Close tears the connection down. Open streams observe ErrConnectionClosed.
func (t *ClientTransport) Close() error {
	t.shutdown(rpcerr.ErrConnectionClosed)
	return nil
}

// Done is closed once the connection is gone.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closed
}

// Err returns why the connection is gone, or nil while it is usable.
func (t *ClientTransport) Err() error {
	select {
	case <-t.closed:
		return t.err
	default:
		return nil
	}
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
