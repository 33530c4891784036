package sync

import (
	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
)

// Plan is one sync round's pull/push node set. It is not filtered by
// collection: a peer's declared collection interest is applied when each
// node's entries are requested.
type Plan struct {
	PullNodes []string
	PushNodes []string
}

// IsEmpty reports whether a fresh VC exchange would have nothing left
// to transfer — the orchestrator's stopping condition for a round.
func (p Plan) IsEmpty() bool {
	return len(p.PullNodes) == 0 && len(p.PushNodes) == 0
}

// BuildPlan computes what to pull from and push to a peer given both
// sides' vector clocks. Collection-level filtering happens downstream,
// when entries are actually requested (get_oplog_for_node_after takes
// its own collections filter) — the node-level plan here only decides
// *which nodes* are worth asking about at all.
func BuildPlan(localVC, remoteVC hlc.VectorClock) Plan {
	return Plan{
		PullNodes: localVC.NodesWithUpdatesIn(remoteVC),
		PushNodes: localVC.NodesToPushTo(remoteVC),
	}
}

// CollectionsFilter returns peer.InterestedCollections, or nil (meaning
// "no filter, all collections") when the peer declared none.
func CollectionsFilter(peer docmodel.RemotePeerConfiguration) []string {
	if len(peer.InterestedCollections) == 0 {
		return nil
	}
	return peer.InterestedCollections
}
