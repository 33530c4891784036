// Package hlc implements the hybrid logical clock used to order every
// document mutation and oplog entry across the cluster.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a single hybrid-logical-clock reading: wall-clock
// milliseconds, a logical tiebreak counter, and the node that produced it.
// Total order is lexicographic over (Physical, Logical, NodeID).
type Timestamp struct {
	Physical int64  `json:"physical"`
	Logical  int32  `json:"logical"`
	NodeID   string `json:"node_id"`
}

// Zero reports whether t is the unset timestamp, used as "never seen" in
// vector clocks and as the lower bound for a fresh pull request.
func (t Timestamp) Zero() bool {
	return t.Physical == 0 && t.Logical == 0 && t.NodeID == ""
}

// Compare returns -1, 0 or 1 comparing t to other by the total order.
// NodeID only breaks ties between otherwise-equal physical/logical pairs,
// which matters when two different nodes tick the same physical millisecond.
func (t Timestamp) Compare(other Timestamp) int {
	if t.Physical != other.Physical {
		if t.Physical < other.Physical {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	if t.NodeID == other.NodeID {
		return 0
	}
	if t.NodeID < other.NodeID {
		return -1
	}
	return 1
}

// Before reports whether t strictly precedes other in the total order.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t strictly follows other in the total order.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

// Equal reports whether t and other are the identical timestamp.
func (t Timestamp) Equal(other Timestamp) bool { return t.Compare(other) == 0 }

// Canonical renders the timestamp the way OplogEntry hashing requires:
// physical.logical.node, stable across processes and Go versions.
func (t Timestamp) Canonical() string {
	return fmt.Sprintf("%d.%d.%s", t.Physical, t.Logical, t.NodeID)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("HLC{physical=%d, logical=%d, node=%s}", t.Physical, t.Logical, t.NodeID)
}

// Clock is a thread-safe per-node hybrid logical clock. The zero value is
// not usable; construct with NewClock.
type Clock struct {
	mu       sync.Mutex
	physical int64
	logical  int32
	nodeID   string
	maxDrift time.Duration
	now      func() time.Time // overridable for tests
}

// NewClock creates a clock for nodeID. maxDrift bounds how far ahead of our
// own wall clock a remote timestamp may claim to be before Observe reports
// ErrDriftExceeded; pass 0 to disable the check.
func NewClock(nodeID string, maxDrift time.Duration) *Clock {
	return &Clock{
		nodeID:   nodeID,
		maxDrift: maxDrift,
		now:      time.Now,
	}
}

// Tick produces a fresh timestamp for a purely local event (no remote
// clock involved), following the advance rule below with remote absent:
// physical = max(lp, wall-clock); logical resets to 0 on advance, else +1.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked(nil)
}

// ErrDriftExceeded is returned by Observe when the remote timestamp's
// physical component is further ahead of wall-clock time than maxDrift
// allows. The clock still advances per the HLC rule; the caller decides
// whether to reject the entry that carried the timestamp.
type ErrDriftExceeded struct {
	Remote   int64
	Local    int64
	MaxDrift time.Duration
}

func (e *ErrDriftExceeded) Error() string {
	return fmt.Sprintf("hlc: clock drift too large: remote %d ahead of local %d (max %v)",
		e.Remote, e.Local, e.MaxDrift)
}

// Observe advances the clock with a remote timestamp folded in, following
// the hybrid logical clock advance rule exactly:
//
//	now = wall_clock_ms()
//	physical = max(lp, remote.physical, now)
//	if physical == lp == remote.physical: logical = max(ll, remote.logical) + 1
//	else if physical == lp:                logical = ll + 1
//	else if physical == remote.physical:    logical = remote.logical + 1
//	else:                                   logical = 0
func (c *Clock) Observe(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var driftErr error
	if c.maxDrift > 0 {
		localMs := c.now().UnixMilli()
		drift := time.Duration(remote.Physical-localMs) * time.Millisecond
		if drift > c.maxDrift {
			driftErr = &ErrDriftExceeded{Remote: remote.Physical, Local: localMs, MaxDrift: c.maxDrift}
		}
	}

	return c.advanceLocked(&remote), driftErr
}

func (c *Clock) advanceLocked(remote *Timestamp) Timestamp {
	lp, ll := c.physical, c.logical
	wallNow := c.now().UnixMilli()

	remotePhysical := int64(0)
	remoteLogical := int32(0)
	if remote != nil {
		remotePhysical = remote.Physical
		remoteLogical = remote.Logical
	}

	physical := maxInt64(lp, wallNow)
	if remote != nil {
		physical = maxInt64(physical, remotePhysical)
	}

	var logical int32
	switch {
	case remote != nil && physical == lp && physical == remotePhysical:
		logical = maxInt32(ll, remoteLogical) + 1
	case physical == lp:
		logical = ll + 1
	case remote != nil && physical == remotePhysical:
		logical = remoteLogical + 1
	default:
		logical = 0
	}

	c.physical = physical
	c.logical = logical

	return Timestamp{Physical: physical, Logical: logical, NodeID: c.nodeID}
}

// TickBatch produces n fresh local timestamps, one per call to Tick. Each
// re-derives physical time rather than reusing the first tick's physical
// component, so a batch that spans a wall-clock tick still advances
// correctly.
func (c *Clock) TickBatch(n int) []Timestamp {
	out := make([]Timestamp, n)
	for i := range out {
		out[i] = c.Tick()
	}
	return out
}

// NodeID returns the identifier this clock stamps its timestamps with.
func (c *Clock) NodeID() string { return c.nodeID }

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
