package sync

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/noisecrypt"
	"github.com/rachitkumar205/entgldb/internal/snapshot"
	"github.com/rachitkumar205/entgldb/internal/store"
	"github.com/rachitkumar205/entgldb/internal/wire"
)

// BatchEntryLimit bounds how many oplog entries a single BatchResp
// carries, matching the wire protocol's bounded-batch requirement.
const BatchEntryLimit = 500

// Authenticator validates a peer's post-handshake credentials.
type Authenticator interface {
	Authenticate(nodeID, token string) bool
}

// FailureRecorder receives sync round failures for diagnostics, decoupled
// from the orchestrator so the health package can observe them without
// this package depending on health in return.
type FailureRecorder interface {
	RecordSyncError(peer string, err error)
}

// Config holds the orchestrator's tunables, all with defaults matching
// spec.md's named examples.
type Config struct {
	LocalNodeID      string
	LocalStaticKey   noisecrypt.StaticKeyPair
	AuthToken        string
	MaxConnections   int
	RequestTimeout   time.Duration
	IdleKeepalive    time.Duration
	TeardownTimeout  time.Duration
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
}

// DefaultConfig returns the spec's named defaults.
func DefaultConfig(localNodeID string, key noisecrypt.StaticKeyPair) Config {
	return Config{
		LocalNodeID:      localNodeID,
		LocalStaticKey:   key,
		MaxConnections:   64,
		RequestTimeout:   30 * time.Second,
		IdleKeepalive:    15 * time.Second,
		TeardownTimeout:  5 * time.Second,
		RetryBaseBackoff: time.Second,
		RetryMaxBackoff:  time.Minute,
	}
}

// Orchestrator owns one PeerSession per configured remote peer and
// drives each through connect, handshake, authenticate, and repeated
// sync rounds, independently and concurrently.
type Orchestrator struct {
	cfg    Config
	store  store.Store
	clock  *hlc.Clock
	logger *zap.Logger
	auth   Authenticator

	mu       sync.RWMutex
	runtimes map[string]*peerRuntime
	cancel   context.CancelFunc

	failures FailureRecorder
}

// SetFailureRecorder installs a sink for sync round failures. Optional;
// nil means failures are only logged.
func (o *Orchestrator) SetFailureRecorder(r FailureRecorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = r
}

// PeerStatus is a point-in-time view of one peer's session, for
// reporting and metrics purposes only.
type PeerStatus struct {
	NodeID string
	State  State
	Score  float64
}

// PeerSnapshot returns the current state and link score of every
// configured peer, safe to call concurrently with the sync loops.
func (o *Orchestrator) PeerSnapshot() []PeerStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PeerStatus, 0, len(o.runtimes))
	for nodeID, rt := range o.runtimes {
		out = append(out, PeerStatus{NodeID: nodeID, State: rt.session.State(), Score: rt.score.Score()})
	}
	return out
}

type peerRuntime struct {
	peer    docmodel.RemotePeerConfiguration
	session *PeerSession
	score   *LinkScore
	cancel  context.CancelFunc
}

// NewOrchestrator builds an Orchestrator for the given store and clock.
// auth may be nil on nodes that accept any peer (not recommended outside
// local development).
func NewOrchestrator(cfg Config, s store.Store, clock *hlc.Clock, logger *zap.Logger, auth Authenticator) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    s,
		clock:    clock,
		logger:   logger,
		auth:     auth,
		runtimes: make(map[string]*peerRuntime),
	}
}

// Start launches a session goroutine for every enabled configured peer.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	peers, err := o.store.RemotePeers().Get()
	if err != nil {
		return fmt.Errorf("sync: list remote peers: %w", err)
	}
	for _, p := range peers {
		if !p.Enabled {
			continue
		}
		o.addPeerLocked(ctx, p)
	}
	return nil
}

func (o *Orchestrator) addPeerLocked(ctx context.Context, p docmodel.RemotePeerConfiguration) {
	peerCtx, cancel := context.WithCancel(ctx)
	rt := &peerRuntime{
		peer:    p,
		session: NewPeerSession(p.NodeID),
		score:   NewLinkScore(),
		cancel:  cancel,
	}
	o.mu.Lock()
	o.runtimes[p.NodeID] = rt
	o.mu.Unlock()
	go o.runPeerLoop(peerCtx, rt)
}

// Stop cancels every peer session's context and returns at once. It does
// not wait for in-flight requests: a session blocked in a read or write
// on its connection ends only when that call returns. TeardownTimeout is
// not used.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// runPeerLoop repeatedly dials, handshakes, authenticates, and syncs
// with one peer, backing off between attempts according to its
// LinkScore after a failure.
func (o *Orchestrator) runPeerLoop(ctx context.Context, rt *peerRuntime) {
	for {
		select {
		case <-ctx.Done():
			_ = rt.session.Transition(StateDisconnected)
			return
		default:
		}

		if backoff := rt.score.Backoff(o.cfg.RetryBaseBackoff, o.cfg.RetryMaxBackoff); backoff > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		if err := o.runOnePeerConnection(ctx, rt); err != nil {
			o.logger.Warn("peer sync session ended",
				zap.String("peer", rt.peer.NodeID), zap.Error(err))
			o.mu.RLock()
			recorder := o.failures
			o.mu.RUnlock()
			if recorder != nil {
				recorder.RecordSyncError(rt.peer.NodeID, err)
			}
			rt.score.RecordFailure()
			_ = rt.session.Transition(StateFailed)
			_ = rt.session.Transition(StateBackoff)
			_ = rt.session.Transition(StateDisconnected)
		}
	}
}

func (o *Orchestrator) runOnePeerConnection(ctx context.Context, rt *peerRuntime) error {
	if err := rt.session.Transition(StateConnecting); err != nil {
		return err
	}
	raw, err := net.DialTimeout("tcp", rt.peer.Address, o.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", rt.peer.Address, err)
	}
	defer raw.Close()

	conn := wire.NewConn(raw, true)

	if err := rt.session.Transition(StateHandshaking); err != nil {
		return err
	}
	start := time.Now()
	keys, err := noisecrypt.RunInitiator(o.cfg.LocalStaticKey, remoteStaticFor(rt.peer), func(b []byte) error {
		return conn.SendRaw(wire.MsgHandshake, b)
	}, func() ([]byte, error) {
		_, body, err := conn.ReceiveFrame()
		return body, err
	})
	if err != nil {
		return fmt.Errorf("handshake with %s: %w", rt.peer.NodeID, err)
	}
	session, err := wire.NewSession(keys.EncryptKey, keys.DecryptKey)
	if err != nil {
		return err
	}
	conn.SetSession(session)

	if err := conn.SendMessage(wire.MsgHandshake, wire.AuthMessage{NodeID: o.cfg.LocalNodeID, AuthToken: o.cfg.AuthToken}); err != nil {
		return fmt.Errorf("send auth to %s: %w", rt.peer.NodeID, err)
	}

	if err := rt.session.Transition(StateReady); err != nil {
		return err
	}
	rt.score.RecordRoundTrip(time.Since(start))

	for {
		if err := rt.session.Transition(StateSyncing); err != nil {
			return err
		}
		plan, err := o.syncRound(ctx, conn, rt)
		if err != nil {
			return err
		}
		if err := rt.session.Transition(StateReady); err != nil {
			return err
		}
		if plan.IsEmpty() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.IdleKeepalive):
				if err := conn.SendMessage(wire.MsgPing, wire.PingMessage{SentAtUnixMilli: time.Now().UnixMilli()}); err != nil {
					return fmt.Errorf("keepalive to %s: %w", rt.peer.NodeID, err)
				}
			}
		}
	}
}

// syncRound runs one VC-exchange/plan/pull/push cycle and returns the
// plan it executed, so the caller can decide whether to idle or go
// straight into another round.
func (o *Orchestrator) syncRound(ctx context.Context, conn *wire.Conn, rt *peerRuntime) (Plan, error) {
	localVC, err := o.store.GetVectorClock()
	if err != nil {
		return Plan{}, fmt.Errorf("read local vector clock: %w", err)
	}
	if err := conn.SendMessage(wire.MsgVectorClock, wire.VectorClockMessage{Clock: localVC}); err != nil {
		return Plan{}, err
	}
	var remoteVCMsg wire.VectorClockMessage
	if _, err := conn.ReceiveMessage(&remoteVCMsg); err != nil {
		return Plan{}, fmt.Errorf("receive remote vector clock: %w", err)
	}

	plan := BuildPlan(localVC, remoteVCMsg.Clock)
	collections := CollectionsFilter(rt.peer)
	requester := &wireChainRangeRequester{conn: conn, timeout: o.cfg.RequestTimeout}

	for _, node := range plan.PullNodes {
		if err := o.pullNode(ctx, conn, node, localVC.Get(node), collections, requester); err != nil {
			return plan, err
		}
	}
	for _, node := range plan.PushNodes {
		if err := o.pushNode(ctx, conn, node, remoteVCMsg.Clock.Get(node), collections); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

func (o *Orchestrator) pullNode(ctx context.Context, conn *wire.Conn, node string, after hlc.Timestamp, collections []string, requester ChainRangeRequester) error {
	if err := conn.SendMessage(wire.MsgBatchReq, wire.BatchReqMessage{NodeID: node, After: after, Collections: collections}); err != nil {
		return err
	}
	for {
		var resp wire.BatchRespMessage
		if _, err := conn.ReceiveMessage(&resp); err != nil {
			return fmt.Errorf("receive batch for %s: %w", node, err)
		}
		outcome, err := ProcessInboundBatch(ctx, o.store, node, resp.Entries, requester)
		if err != nil {
			return err
		}
		if outcome == InboundSnapshotRequired {
			return o.fallbackToSnapshot(ctx, conn)
		}
		if !resp.More {
			return nil
		}
	}
}

func (o *Orchestrator) pushNode(ctx context.Context, conn *wire.Conn, node string, after hlc.Timestamp, collections []string) error {
	for {
		entries, err := o.store.GetOplogForNodeAfter(node, after, collections)
		if err != nil {
			return fmt.Errorf("read oplog to push for %s: %w", node, err)
		}
		batch := entries
		more := false
		if len(batch) > BatchEntryLimit {
			batch = batch[:BatchEntryLimit]
			more = true
		}
		if err := conn.SendMessage(wire.MsgBatchResp, wire.BatchRespMessage{NodeID: node, Entries: batch, More: more}); err != nil {
			return err
		}
		if !more || len(batch) == 0 {
			return nil
		}
		after = batch[len(batch)-1].Timestamp
	}
}

// fallbackToSnapshot requests a full snapshot stream and merges it,
// per spec.md's "not Replace, to preserve local-only divergent history".
func (o *Orchestrator) fallbackToSnapshot(ctx context.Context, conn *wire.Conn) error {
	if err := conn.SendMessage(wire.MsgSnapshotReq, wire.SnapshotReqMessage{}); err != nil {
		return err
	}
	var assembler snapshot.ChunkAssembler
	for {
		var chunk wire.SnapshotChunkMessage
		if _, err := conn.ReceiveMessage(&chunk); err != nil {
			return fmt.Errorf("receive snapshot chunk: %w", err)
		}
		assembler.Add(chunk.Data)
		if chunk.Final {
			break
		}
	}
	env, err := assembler.Finish()
	if err != nil {
		return fmt.Errorf("decode snapshot stream: %w", err)
	}
	if err := snapshot.Merge(o.store, env); err != nil {
		return fmt.Errorf("merge snapshot: %w", err)
	}
	return nil
}

// wireChainRangeRequester drives the gap-recovery ChainRangeReq/Resp
// round trip over an already-established peer connection.
type wireChainRangeRequester struct {
	conn    *wire.Conn
	timeout time.Duration
}

func (r *wireChainRangeRequester) RequestChainRange(ctx context.Context, startHash, endHash string) ([]docmodel.OplogEntry, bool, error) {
	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return nil, false, err
	}
	if err := r.conn.SendMessage(wire.MsgChainRangeReq, wire.ChainRangeReqMessage{StartHash: startHash, EndHash: endHash}); err != nil {
		return nil, false, err
	}
	var resp wire.ChainRangeRespMessage
	if _, err := r.conn.ReceiveMessage(&resp); err != nil {
		return nil, false, err
	}
	return resp.Entries, resp.SnapshotRequired, nil
}

// remoteStaticFor extracts the peer's known static public key from its
// configuration, where AuthMaterial holds the raw key bytes. A peer
// configured without one yields an all-zero key, and RunInitiator then
// fails the handshake; there is no fallback to an unauthenticated
// exchange.
func remoteStaticFor(p docmodel.RemotePeerConfiguration) [32]byte {
	var key [32]byte
	copy(key[:], []byte(p.AuthMaterial))
	return key
}
