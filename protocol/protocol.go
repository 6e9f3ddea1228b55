// Package protocol implements the frame protocol spoken between requester and responder.
//
// Every frame is a fixed 14-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│ft│ streamID│ bodyLen │    body ...    │
//	│ irs  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Stream ID 0 addresses the connection itself (SETUP, HEARTBEAT, connection
// level ERROR). The requester allocates monotonically increasing IDs; every
// frame of one interaction carries the same ID.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"item-rsocket/rpcerr"
)

const (
	MagicNumber byte = 0x69 // 'i'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x73 // 's'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (streamID) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body so a corrupt length cannot make
	// the reader allocate gigabytes.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType is the frame type.
type MsgType byte

const (
	MsgTypeSetup           MsgType = 0 // Requester → Responder, stream 0, body = message.Setup
	MsgTypeRequestResponse MsgType = 1
	MsgTypeRequestFNF      MsgType = 2
	MsgTypeRequestStream   MsgType = 3
	MsgTypeRequestN        MsgType = 4 // body = uint32 additional demand
	MsgTypeCancel          MsgType = 5
	MsgTypePayload         MsgType = 6 // one element
	MsgTypeComplete        MsgType = 7
	MsgTypeError           MsgType = 8
	MsgTypeHeartbeat       MsgType = 9
)

var msgTypeNames = [...]string{
	"SETUP", "REQUEST_RESPONSE", "REQUEST_FNF", "REQUEST_STREAM", "REQUEST_N",
	"CANCEL", "PAYLOAD", "COMPLETE", "ERROR", "HEARTBEAT",
}

func (t MsgType) Valid() bool {
	return t <= MsgTypeHeartbeat
}

func (t MsgType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("MsgType(%d)", byte(t))
	}
	return msgTypeNames[t]
}

// IsRequest reports whether the frame opens a new interaction.
func (t MsgType) IsRequest() bool {
	return t == MsgTypeRequestResponse || t == MsgTypeRequestFNF || t == MsgTypeRequestStream
}

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Envelope format: 0=JSON, 1=Binary
	MsgType   MsgType // Frame type
	Seq       uint32  // Stream ID, shared by every frame of one interaction
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different streams interleave and corrupt the connection.
//
// A body over MaxBodyLen is refused before anything is written: the peer
// would drop the whole connection on it.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(body) > int(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", rpcerr.ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// One Write per frame keeps the frame atomic for writers that are not
	// buffered (net.Conn).
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, frame type and body size.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if !msgType.Valid() {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", rpcerr.ErrFrameTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}

// EncodeRequestN builds the body of a REQUEST_N frame.
func EncodeRequestN(n uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, n)
	return body
}

// DecodeRequestN parses the body of a REQUEST_N frame.
func DecodeRequestN(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("REQUEST_N body must be 4 bytes, got %d", len(body))
	}
	return binary.BigEndian.Uint32(body), nil
}
