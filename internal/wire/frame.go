// Package wire implements the peer-to-peer frame protocol: a length-
// prefixed, optionally zlib-compressed and ChaCha20-Poly1305-encrypted
// message envelope carried over a plain net.Conn.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType identifies the kind of message a frame carries.
type MsgType uint8

const (
	MsgHandshake MsgType = iota
	MsgVectorClock
	MsgBatchReq
	MsgBatchResp
	MsgChainRangeReq
	MsgChainRangeResp
	MsgSnapshotReq
	MsgSnapshotChunk
	MsgPing
	MsgClose
	MsgSecureEnvelope
)

func (t MsgType) String() string {
	switch t {
	case MsgHandshake:
		return "Handshake"
	case MsgVectorClock:
		return "VectorClock"
	case MsgBatchReq:
		return "BatchReq"
	case MsgBatchResp:
		return "BatchResp"
	case MsgChainRangeReq:
		return "ChainRangeReq"
	case MsgChainRangeResp:
		return "ChainRangeResp"
	case MsgSnapshotReq:
		return "SnapshotReq"
	case MsgSnapshotChunk:
		return "SnapshotChunk"
	case MsgPing:
		return "Ping"
	case MsgClose:
		return "Close"
	case MsgSecureEnvelope:
		return "SecureEnvelope"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Flags are the bit flags carried in a frame header.
type Flags uint8

const (
	FlagCompressed Flags = 1 << 0
	FlagEncrypted  Flags = 1 << 1
)

func (f Flags) Compressed() bool { return f&FlagCompressed != 0 }
func (f Flags) Encrypted() bool  { return f&FlagEncrypted != 0 }

// Frame is one decoded wire message: a header plus its (still possibly
// compressed/encrypted) payload bytes.
type Frame struct {
	Type    MsgType
	Flags   Flags
	Payload []byte
}

// DefaultMaxFrameBytes bounds how large a single frame's payload may be,
// checked against the 4-byte length header before any allocation happens.
const DefaultMaxFrameBytes = 16 * 1024 * 1024

const headerBytes = 4 + 1 + 1 // length + msg_type + flags

// WriteFrame writes f to w in the exact wire layout: 4-byte big-endian
// total length (msg_type + flags + payload), msg_type, flags, payload.
func WriteFrame(w io.Writer, f Frame) error {
	total := 2 + len(f.Payload)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(total))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write length header: %w", err)
	}
	if _, err := w.Write([]byte{byte(f.Type), byte(f.Flags)}); err != nil {
		return fmt.Errorf("wire: write msg_type/flags: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r, tolerating arbitrary fragmentation:
// it always consumes exactly `length` bytes once the header is known.
// maxFrameBytes bounds the payload size before any buffer is allocated.
func ReadFrame(r io.Reader, maxFrameBytes int) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 2 {
		return Frame{}, fmt.Errorf("wire: frame too small: %d bytes", total)
	}
	if maxFrameBytes > 0 && int(total) > maxFrameBytes+2 {
		return Frame{}, fmt.Errorf("wire: frame of %d bytes exceeds max %d", total, maxFrameBytes)
	}

	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	return Frame{
		Type:    MsgType(rest[0]),
		Flags:   Flags(rest[1]),
		Payload: rest[2:],
	}, nil
}
