package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb/internal/noisecrypt"
	"github.com/rachitkumar205/entgldb/internal/snapshot"
	"github.com/rachitkumar205/entgldb/internal/wire"
)

// Listener accepts inbound peer connections, performs the responder
// side of the handshake and authentication, then serves sync requests
// until the peer disconnects. Excess connections beyond MaxConnections
// are closed immediately with no response, per spec.md's admission
// control rule.
type Listener struct {
	cfg    Config
	o      *Orchestrator
	logger *zap.Logger

	active int64
}

// NewListener wraps o to serve inbound connections on behalf of the
// same store, clock, and authenticator it already uses for outbound
// sessions.
func NewListener(o *Orchestrator) *Listener {
	return &Listener{cfg: o.cfg, o: o, logger: o.logger}
}

// Serve accepts connections on ln until ctx is done.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("sync: accept: %w", err)
			}
		}
		if atomic.LoadInt64(&l.active) >= int64(l.cfg.MaxConnections) {
			raw.Close()
			continue
		}
		atomic.AddInt64(&l.active, 1)
		go func() {
			defer atomic.AddInt64(&l.active, -1)
			if err := l.handleConnection(ctx, raw); err != nil {
				l.logger.Warn("inbound peer session ended", zap.Error(err))
			}
		}()
	}
}

func (l *Listener) handleConnection(ctx context.Context, raw net.Conn) error {
	defer raw.Close()
	conn := wire.NewConn(raw, true)

	keys, err := noisecrypt.RunResponder(l.cfg.LocalStaticKey, func(b []byte) error {
		return conn.SendRaw(wire.MsgHandshake, b)
	}, func() ([]byte, error) {
		_, body, err := conn.ReceiveFrame()
		return body, err
	})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	session, err := wire.NewSession(keys.EncryptKey, keys.DecryptKey)
	if err != nil {
		return err
	}
	conn.SetSession(session)

	var authMsg wire.AuthMessage
	if _, err := conn.ReceiveMessage(&authMsg); err != nil {
		return fmt.Errorf("receive auth: %w", err)
	}
	if l.o.auth != nil && !l.o.auth.Authenticate(authMsg.NodeID, authMsg.AuthToken) {
		return fmt.Errorf("authentication rejected for %s", authMsg.NodeID)
	}

	for {
		if err := raw.SetDeadline(time.Now().Add(l.cfg.IdleKeepalive * 3)); err != nil {
			return err
		}
		msgType, body, err := conn.ReceiveFrame()
		if err != nil {
			return fmt.Errorf("receive from %s: %w", authMsg.NodeID, err)
		}
		if err := l.dispatch(ctx, conn, authMsg.NodeID, msgType, body); err != nil {
			return err
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, conn *wire.Conn, peerNodeID string, msgType wire.MsgType, body []byte) error {
	switch msgType {
	case wire.MsgPing:
		return nil
	case wire.MsgVectorClock:
		return l.handleVectorClock(conn)
	case wire.MsgBatchReq:
		return l.handleBatchReq(conn, body)
	case wire.MsgChainRangeReq:
		return l.handleChainRangeReq(conn, body)
	case wire.MsgSnapshotReq:
		return l.handleSnapshotReq(conn)
	case wire.MsgBatchResp:
		return l.handleInboundPush(ctx, peerNodeID, body)
	case wire.MsgClose:
		return fmt.Errorf("peer %s closed the session", peerNodeID)
	default:
		return nil
	}
}

func (l *Listener) handleVectorClock(conn *wire.Conn) error {
	vc, err := l.o.store.GetVectorClock()
	if err != nil {
		return err
	}
	return conn.SendMessage(wire.MsgVectorClock, wire.VectorClockMessage{Clock: vc})
}

func (l *Listener) handleBatchReq(conn *wire.Conn, body []byte) error {
	var req wire.BatchReqMessage
	if err := unmarshalInto(body, &req); err != nil {
		return err
	}
	after := req.After
	for {
		entries, err := l.o.store.GetOplogForNodeAfter(req.NodeID, after, req.Collections)
		if err != nil {
			return err
		}
		batch := entries
		more := false
		if len(batch) > BatchEntryLimit {
			batch = batch[:BatchEntryLimit]
			more = true
		}
		if err := conn.SendMessage(wire.MsgBatchResp, wire.BatchRespMessage{NodeID: req.NodeID, Entries: batch, More: more}); err != nil {
			return err
		}
		if !more || len(batch) == 0 {
			return nil
		}
		after = batch[len(batch)-1].Timestamp
	}
}

func (l *Listener) handleChainRangeReq(conn *wire.Conn, body []byte) error {
	var req wire.ChainRangeReqMessage
	if err := unmarshalInto(body, &req); err != nil {
		return err
	}
	entries, ok, err := l.o.store.GetChainRange(req.StartHash, req.EndHash)
	if err != nil {
		return err
	}
	if !ok {
		return conn.SendMessage(wire.MsgChainRangeResp, wire.ChainRangeRespMessage{SnapshotRequired: true})
	}
	return conn.SendMessage(wire.MsgChainRangeResp, wire.ChainRangeRespMessage{Entries: entries})
}

func (l *Listener) handleSnapshotReq(conn *wire.Conn) error {
	env, err := snapshot.Export(l.o.store, time.Now().UTC())
	if err != nil {
		return err
	}
	writer := snapshot.NewChunkWriter(func(data []byte, final bool) error {
		return conn.SendMessage(wire.MsgSnapshotChunk, wire.SnapshotChunkMessage{Data: data, Final: final})
	})
	return writer.WriteEnvelope(env)
}

// handleInboundPush applies a batch the peer pushed to us unsolicited.
// It deliberately passes a nil ChainRangeRequester: this connection's
// single request/response slot is already spoken for by whatever the
// peer is doing on its end of a push, so a live chain-range round trip
// here would have no guaranteed reader on the other side. A gap in a
// pushed batch instead falls straight to InboundSnapshotRequired
// (ProcessInboundBatch's nil-requester behavior), and the peer's own
// pull of this node on its next round will recover it the normal way.
func (l *Listener) handleInboundPush(ctx context.Context, peerNodeID string, body []byte) error {
	var resp wire.BatchRespMessage
	if err := unmarshalInto(body, &resp); err != nil {
		return err
	}
	outcome, err := ProcessInboundBatch(ctx, l.o.store, resp.NodeID, resp.Entries, nil)
	if err != nil {
		return err
	}
	if outcome == InboundSnapshotRequired {
		l.logger.Info("peer push hit a gap; deferring to its own pull/recovery path",
			zap.String("peer", peerNodeID), zap.String("node", resp.NodeID))
	}
	return nil
}

// unmarshalInto exists so handlers that only ever see pre-decoded frame
// bodies (never send their own follow-up request) don't need a Conn.
func unmarshalInto(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
