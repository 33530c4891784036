// Package client is a thin driver for entgldb's peer wire protocol,
// useful for operator tooling and integration tests that need to talk
// to a running node without joining as a full sync peer.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/noisecrypt"
	"github.com/rachitkumar205/entgldb/internal/snapshot"
	"github.com/rachitkumar205/entgldb/internal/wire"
)

// Client is a one-shot connection to a single entgldb node: it dials,
// runs the initiator side of the Noise-IK handshake, authenticates,
// and then lets the caller issue a small number of diagnostic requests
// before closing.
type Client struct {
	conn    *wire.Conn
	raw     net.Conn
	nodeID  string
	timeout time.Duration
}

// Dial connects to addr, completes the handshake against remoteStatic,
// and authenticates as localNodeID with token. The returned Client is
// ready for a single request; it is not safe for concurrent use.
func Dial(ctx context.Context, addr string, localNodeID string, localKey noisecrypt.StaticKeyPair, remoteStatic [32]byte, token string, timeout time.Duration) (*Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	conn := wire.NewConn(raw, true)

	keys, err := noisecrypt.RunInitiator(localKey, remoteStatic, func(b []byte) error {
		return conn.SendRaw(wire.MsgHandshake, b)
	}, func() ([]byte, error) {
		_, body, err := conn.ReceiveFrame()
		return body, err
	})
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("client: handshake with %s: %w", addr, err)
	}
	session, err := wire.NewSession(keys.EncryptKey, keys.DecryptKey)
	if err != nil {
		raw.Close()
		return nil, err
	}
	conn.SetSession(session)

	if err := conn.SendMessage(wire.MsgHandshake, wire.AuthMessage{NodeID: localNodeID, AuthToken: token}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("client: send auth to %s: %w", addr, err)
	}

	return &Client{conn: conn, raw: raw, nodeID: localNodeID, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.raw.Close()
}

// VectorClock asks the peer for its current vector clock.
func (c *Client) VectorClock(ctx context.Context) (hlc.VectorClock, error) {
	if err := c.setDeadline(ctx); err != nil {
		return nil, err
	}
	if err := c.conn.SendMessage(wire.MsgVectorClock, wire.VectorClockMessage{}); err != nil {
		return nil, fmt.Errorf("client: send vector clock request: %w", err)
	}
	var resp wire.VectorClockMessage
	if _, err := c.conn.ReceiveMessage(&resp); err != nil {
		return nil, fmt.Errorf("client: receive vector clock: %w", err)
	}
	return resp.Clock, nil
}

// Snapshot requests a full snapshot stream from the peer and assembles
// the chunked response into a decoded Envelope.
func (c *Client) Snapshot(ctx context.Context) (snapshot.Envelope, error) {
	if err := c.setDeadline(ctx); err != nil {
		return snapshot.Envelope{}, err
	}
	if err := c.conn.SendMessage(wire.MsgSnapshotReq, wire.SnapshotReqMessage{}); err != nil {
		return snapshot.Envelope{}, fmt.Errorf("client: send snapshot request: %w", err)
	}

	var assembler snapshot.ChunkAssembler
	for {
		var chunk wire.SnapshotChunkMessage
		if _, err := c.conn.ReceiveMessage(&chunk); err != nil {
			return snapshot.Envelope{}, fmt.Errorf("client: receive snapshot chunk: %w", err)
		}
		assembler.Add(chunk.Data)
		if chunk.Final {
			break
		}
	}
	env, err := assembler.Finish()
	if err != nil {
		return snapshot.Envelope{}, fmt.Errorf("client: decode snapshot envelope: %w", err)
	}
	return env, nil
}

// Ping sends a liveness probe. The listener sends no reply to a ping, so
// this checks only that the frame could be written, not a round trip or
// a server-computed RTT.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.setDeadline(ctx); err != nil {
		return err
	}
	return c.conn.SendMessage(wire.MsgPing, wire.PingMessage{SentAtUnixMilli: time.Now().UnixMilli()})
}

func (c *Client) setDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	return c.conn.SetDeadline(deadline)
}
