package wire

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Conn wraps a net.Conn with the frame codec and an optional secure
// Session, giving callers a SendMessage/ReceiveMessage pair that speaks
// in typed message structs instead of raw frames.
type Conn struct {
	netConn       net.Conn
	session       *Session
	maxFrameBytes int
	compress      bool
}

// NewConn wraps raw. Call SetSession once the handshake completes to
// start encrypting subsequent traffic.
func NewConn(raw net.Conn, compress bool) *Conn {
	return &Conn{netConn: raw, maxFrameBytes: DefaultMaxFrameBytes, compress: compress}
}

// SetSession installs the session produced by a completed handshake.
func (c *Conn) SetSession(s *Session) { c.session = s }

// SetMaxFrameBytes overrides the default frame size ceiling.
func (c *Conn) SetMaxFrameBytes(n int) { c.maxFrameBytes = n }

// SetDeadline proxies to the underlying net.Conn.
func (c *Conn) SetDeadline(t time.Time) error { return c.netConn.SetDeadline(t) }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.netConn.Close() }

// RemoteAddr proxies to the underlying net.Conn.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// SendMessage JSON-encodes v, wraps it as msgType, and writes the frame.
func (c *Conn) SendMessage(msgType MsgType, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal %s payload: %w", msgType, err)
	}
	frame, err := EncodeMessage(c.session, msgType, body, c.compress)
	if err != nil {
		return fmt.Errorf("wire: encode %s frame: %w", msgType, err)
	}
	return WriteFrame(c.netConn, frame)
}

// SendRaw writes msgType with a pre-built raw payload (used for the
// cleartext handshake blob, which must not be JSON-wrapped).
func (c *Conn) SendRaw(msgType MsgType, payload []byte) error {
	frame, err := EncodeMessage(c.session, msgType, payload, false)
	if err != nil {
		return fmt.Errorf("wire: encode raw %s frame: %w", msgType, err)
	}
	return WriteFrame(c.netConn, frame)
}

// ReceiveFrame reads and decodes (decrypt/decompress) the next frame,
// returning its type and the decoded body.
func (c *Conn) ReceiveFrame() (MsgType, []byte, error) {
	frame, err := ReadFrame(c.netConn, c.maxFrameBytes)
	if err != nil {
		return 0, nil, err
	}
	body, err := DecodeMessage(c.session, frame)
	if err != nil {
		return 0, nil, fmt.Errorf("wire: decode %s frame: %w", frame.Type, err)
	}
	return frame.Type, body, nil
}

// ReceiveMessage reads the next frame and JSON-decodes its body into out.
func (c *Conn) ReceiveMessage(out any) (MsgType, error) {
	msgType, body, err := c.ReceiveFrame()
	if err != nil {
		return 0, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return msgType, fmt.Errorf("wire: unmarshal %s payload: %w", msgType, err)
		}
	}
	return msgType, nil
}
