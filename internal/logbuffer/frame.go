package logbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Frame layout, fixed 32-byte header followed by the payload, with the
// whole frame padded out to FrameAlignment:
//
//	| length      int32  | offset 0
//	| version     uint8  | offset 4
//	| flags       uint8  | offset 5
//	| type        uint16 | offset 6
//	| term offset int32  | offset 8
//	| session id  int32  | offset 12
//	| stream id   int32  | offset 16
//	| term id     int32  | offset 20
//	| reserved    int64  | offset 24
//
// All fields use native byte order; frames never leave the process. The
// length word doubles as the commit flag: it is written last, with release
// ordering, and a reader that loads zero treats the frame as absent.
const (
	HeaderLength   int32 = 32
	FrameAlignment int32 = 32

	CurrentVersion uint8 = 1
)

// Frame types.
const (
	TypePad       uint16 = 0x00
	TypeData      uint16 = 0x01
	TypeSetup     uint16 = 0x02
	TypeStatus    uint16 = 0x03
	TypeNak       uint16 = 0x04
	TypeHeartbeat uint16 = 0x05
)

// Fragment flags.
const (
	FlagBegin        uint8 = 0x80
	FlagEnd          uint8 = 0x40
	FlagUnfragmented uint8 = FlagBegin | FlagEnd
)

const (
	lengthOffset     = 0
	versionOffset    = 4
	flagsOffset      = 5
	typeOffset       = 6
	termOffsetOffset = 8
	sessionIDOffset  = 12
	streamIDOffset   = 16
	termIDOffset     = 20
	reservedOffset   = 24
)

var (
	ErrShortFrame     = errors.New("logbuffer: frame shorter than header")
	ErrZeroLength     = errors.New("logbuffer: zero-length frame")
	ErrUnalignedFrame = errors.New("logbuffer: frame length not aligned")
)

// Header carries the decoded fields of one frame header.
type Header struct {
	Length     int32
	Version    uint8
	Flags      uint8
	Type       uint16
	TermOffset int32
	SessionID  int32
	StreamID   int32
	TermID     int32
	Reserved   int64
}

// Align rounds length up to the frame alignment boundary.
func Align(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// frameLengthVolatile loads the length word of the frame starting at
// offset with acquire ordering.
func frameLengthVolatile(buf []byte, offset int32) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&buf[offset])))
}

// frameLengthOrdered publishes the length word of the frame starting at
// offset with release ordering. This is the single point where a frame
// becomes visible to readers.
func frameLengthOrdered(buf []byte, offset int32, length int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&buf[offset])), length)
}

// writeHeaderBody fills every header field except the length word.
func writeHeaderBody(buf []byte, offset int32, h Header) {
	buf[offset+versionOffset] = h.Version
	buf[offset+flagsOffset] = h.Flags
	binary.NativeEndian.PutUint16(buf[offset+typeOffset:], h.Type)
	binary.NativeEndian.PutUint32(buf[offset+termOffsetOffset:], uint32(h.TermOffset))
	binary.NativeEndian.PutUint32(buf[offset+sessionIDOffset:], uint32(h.SessionID))
	binary.NativeEndian.PutUint32(buf[offset+streamIDOffset:], uint32(h.StreamID))
	binary.NativeEndian.PutUint32(buf[offset+termIDOffset:], uint32(h.TermID))
	binary.NativeEndian.PutUint64(buf[offset+reservedOffset:], uint64(h.Reserved))
}

// EncodeFrame builds a standalone frame (header plus payload) for frames
// that do not live in a term buffer, such as status and NAK messages.
func EncodeFrame(h Header, payload []byte) []byte {
	h.Version = CurrentVersion
	h.Length = HeaderLength + int32(len(payload))
	out := make([]byte, Align(h.Length))
	writeHeaderBody(out, 0, h)
	copy(out[HeaderLength:], payload)
	binary.NativeEndian.PutUint32(out[lengthOffset:], uint32(h.Length))
	return out
}

// ParseFrame decodes and validates the header of a wire frame. A zero
// length is a protocol violation: padding frames carry an explicit
// non-zero header-only length and are never encoded as zero.
func ParseFrame(b []byte) (Header, []byte, error) {
	if int32(len(b)) < HeaderLength {
		return Header{}, nil, ErrShortFrame
	}
	h := Header{
		Length:     int32(binary.NativeEndian.Uint32(b[lengthOffset:])),
		Version:    b[versionOffset],
		Flags:      b[flagsOffset],
		Type:       binary.NativeEndian.Uint16(b[typeOffset:]),
		TermOffset: int32(binary.NativeEndian.Uint32(b[termOffsetOffset:])),
		SessionID:  int32(binary.NativeEndian.Uint32(b[sessionIDOffset:])),
		StreamID:   int32(binary.NativeEndian.Uint32(b[streamIDOffset:])),
		TermID:     int32(binary.NativeEndian.Uint32(b[termIDOffset:])),
		Reserved:   int64(binary.NativeEndian.Uint64(b[reservedOffset:])),
	}
	switch {
	case h.Length == 0:
		return Header{}, nil, ErrZeroLength
	case h.Length < HeaderLength:
		return Header{}, nil, fmt.Errorf("%w: length=%d", ErrShortFrame, h.Length)
	case int32(len(b)) < Align(h.Length):
		return Header{}, nil, fmt.Errorf("%w: have=%d want=%d", ErrShortFrame, len(b), Align(h.Length))
	}
	return h, b[HeaderLength:h.Length], nil
}

// StatusPayload is the body of a status message frame. The header carries
// the consumption term id and term offset; the body carries the receiver
// identity and window.
type StatusPayload struct {
	ReceiverID  uint64
	Window      int32
	ReceiverTag int64
	GroupTag    int64
	HasGroupTag bool
}

const statusPayloadLength = 8 + 4 + 8 + 8 + 1

// EncodeStatus builds a status message frame for the given consumption
// point.
func EncodeStatus(sessionID, streamID, termID, termOffset int32, p StatusPayload) []byte {
	body := make([]byte, statusPayloadLength)
	binary.NativeEndian.PutUint64(body[0:], p.ReceiverID)
	binary.NativeEndian.PutUint32(body[8:], uint32(p.Window))
	binary.NativeEndian.PutUint64(body[12:], uint64(p.ReceiverTag))
	binary.NativeEndian.PutUint64(body[20:], uint64(p.GroupTag))
	if p.HasGroupTag {
		body[28] = 1
	}
	return EncodeFrame(Header{
		Flags:      FlagUnfragmented,
		Type:       TypeStatus,
		TermOffset: termOffset,
		SessionID:  sessionID,
		StreamID:   streamID,
		TermID:     termID,
	}, body)
}

// DecodeStatus decodes the body of a status message frame.
func DecodeStatus(body []byte) (StatusPayload, error) {
	if len(body) < statusPayloadLength {
		return StatusPayload{}, fmt.Errorf("logbuffer: status body too short: %d", len(body))
	}
	return StatusPayload{
		ReceiverID:  binary.NativeEndian.Uint64(body[0:]),
		Window:      int32(binary.NativeEndian.Uint32(body[8:])),
		ReceiverTag: int64(binary.NativeEndian.Uint64(body[12:])),
		GroupTag:    int64(binary.NativeEndian.Uint64(body[20:])),
		HasGroupTag: body[28] == 1,
	}, nil
}

// EncodeNak builds a NAK frame requesting retransmission of length bytes
// starting at (termID, termOffset). The extent rides in the reserved field.
func EncodeNak(sessionID, streamID, termID, termOffset, length int32) []byte {
	return EncodeFrame(Header{
		Flags:      FlagUnfragmented,
		Type:       TypeNak,
		TermOffset: termOffset,
		SessionID:  sessionID,
		StreamID:   streamID,
		TermID:     termID,
		Reserved:   int64(length),
	}, nil)
}

// EncodeSetup builds a setup frame announcing stream geometry. The term
// length rides in the reserved field; term id and term offset carry the
// sender's current tail so a late joiner can seed its position.
func EncodeSetup(sessionID, streamID, termID, termOffset, termLength, initialTermID int32) []byte {
	body := make([]byte, 4)
	binary.NativeEndian.PutUint32(body, uint32(initialTermID))
	return EncodeFrame(Header{
		Flags:      FlagUnfragmented,
		Type:       TypeSetup,
		TermOffset: termOffset,
		SessionID:  sessionID,
		StreamID:   streamID,
		TermID:     termID,
		Reserved:   int64(termLength),
	}, body)
}

// DecodeSetupInitialTermID extracts the initial term id from a setup body.
func DecodeSetupInitialTermID(body []byte) (int32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("logbuffer: setup body too short: %d", len(body))
	}
	return int32(binary.NativeEndian.Uint32(body)), nil
}

// EncodeHeartbeat builds a heartbeat frame carrying the sender's current
// tail (termID, termOffset).
func EncodeHeartbeat(sessionID, streamID, termID, termOffset int32) []byte {
	return EncodeFrame(Header{
		Flags:      FlagUnfragmented,
		Type:       TypeHeartbeat,
		TermOffset: termOffset,
		SessionID:  sessionID,
		StreamID:   streamID,
		TermID:     termID,
	}, nil)
}
