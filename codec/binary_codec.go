package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"item-rsocket/message"
)

// BinaryCodec lays the envelope out as length-prefixed fields:
//
//	metaLen u16 | metadata | payloadLen u32 | payload | errLen u16 | error | initialN u32
type BinaryCodec struct{}

var errNotEnvelope = errors.New("BinaryCodec: v must be *RPCMessage")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotEnvelope
	}
	if len(msg.Metadata) > 0xFFFF || len(msg.Error) > 0xFFFF {
		return nil, fmt.Errorf("BinaryCodec: metadata or error longer than %d bytes", 0xFFFF)
	}
	total := 2 + len(msg.Metadata) + 4 + len(msg.Payload) + 2 + len(msg.Error) + 4
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Metadata)))
	offset += 2
	offset += copy(buf[offset:], msg.Metadata)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Payload)))
	offset += 4
	offset += copy(buf[offset:], msg.Payload)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Error)))
	offset += 2
	offset += copy(buf[offset:], msg.Error)

	binary.BigEndian.PutUint32(buf[offset:], msg.InitialN)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotEnvelope
	}
	r := reader{data: data}

	metaLen := r.uint16()
	msg.Metadata = r.bytes(int(metaLen))
	payloadLen := r.uint32()
	msg.Payload = r.bytes(int(payloadLen))
	errLen := r.uint16()
	msg.Error = string(r.bytes(int(errLen)))
	msg.InitialN = r.uint32()

	if r.short {
		return fmt.Errorf("BinaryCodec: truncated envelope (%d bytes)", len(data))
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a byte slice and remembers whether it ran past the end.
type reader struct {
	data   []byte
	offset int
	short  bool
}

func (r *reader) take(n int) []byte {
	if r.short || n < 0 || r.offset+n > len(r.data) {
		r.short = true
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
