package wire

import (
	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
)

// HandshakeMessage carries the cleartext Noise-IK handshake bytes.
type HandshakeMessage struct {
	NodeID string `json:"node_id"`
	Blob   []byte `json:"blob"`
}

// AuthMessage is sent by the client immediately after the handshake
// completes, to authenticate before any sync traffic is accepted.
type AuthMessage struct {
	NodeID    string `json:"node_id"`
	AuthToken string `json:"auth_token"`
}

// VectorClockMessage carries one side's full vector clock during the
// exchange step of a sync round.
type VectorClockMessage struct {
	Clock hlc.VectorClock `json:"clock"`
}

// BatchReqMessage requests the oplog for one node after a given
// timestamp, restricted to an optional collection filter.
type BatchReqMessage struct {
	NodeID      string        `json:"node_id"`
	After       hlc.Timestamp `json:"after"`
	Collections []string      `json:"collections,omitempty"`
}

// BatchRespMessage carries one bounded batch of oplog entries plus
// whether more batches remain for this node.
type BatchRespMessage struct {
	NodeID  string                `json:"node_id"`
	Entries []docmodel.OplogEntry `json:"entries"`
	More    bool                  `json:"more"`
}

// ChainRangeReqMessage asks the peer for the entries strictly after
// StartHash up to and including EndHash.
type ChainRangeReqMessage struct {
	StartHash string `json:"start_hash"`
	EndHash   string `json:"end_hash"`
}

// ChainRangeRespMessage answers a ChainRangeReqMessage. SnapshotRequired
// is the "not an error" signal telling the caller to fall back to a full
// snapshot transfer instead of looping on the same gap.
type ChainRangeRespMessage struct {
	Entries          []docmodel.OplogEntry `json:"entries"`
	SnapshotRequired bool                  `json:"snapshot_required"`
}

// SnapshotReqMessage requests a full snapshot stream from the peer.
type SnapshotReqMessage struct{}

// SnapshotChunkMessage carries one bounded chunk of the snapshot stream.
type SnapshotChunkMessage struct {
	Data   []byte `json:"data"`
	Final  bool   `json:"final"`
	Offset int64  `json:"offset"`
}

// PingMessage is a liveness probe sent on the idle keepalive interval.
type PingMessage struct {
	SentAtUnixMilli int64 `json:"sent_at_unix_milli"`
}

// CloseMessage announces a graceful connection teardown with a reason.
type CloseMessage struct {
	Reason string `json:"reason,omitempty"`
}
