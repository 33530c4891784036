package hlc

// VectorClock maps a node id to the latest Timestamp observed from that
// node. A missing key is treated as the zero Timestamp everywhere below.
type VectorClock map[string]Timestamp

// Clone returns an independent copy of vc.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Get returns the timestamp recorded for node, or the zero Timestamp if
// node has never been observed.
func (vc VectorClock) Get(node string) Timestamp {
	return vc[node]
}

// Advance records ts for its NodeID if it is newer than what vc already
// holds for that node; never moves a component backwards.
func (vc VectorClock) Advance(ts Timestamp) {
	if cur, ok := vc[ts.NodeID]; !ok || ts.After(cur) {
		vc[ts.NodeID] = ts
	}
}

// Equal reports whether vc and other agree on every node present in
// either map (missing entries compare as the zero Timestamp).
func (vc VectorClock) Equal(other VectorClock) bool {
	for node, ts := range vc {
		if !ts.Equal(other.Get(node)) {
			return false
		}
	}
	for node, ts := range other {
		if !ts.Equal(vc.Get(node)) {
			return false
		}
	}
	return true
}

// Dominates reports whether vc is ahead of or equal to other on every
// node, and strictly ahead on at least one.
func (vc VectorClock) Dominates(other VectorClock) bool {
	strictlyAhead := false
	for node := range unionNodes(vc, other) {
		c := vc.Get(node).Compare(other.Get(node))
		if c < 0 {
			return false
		}
		if c > 0 {
			strictlyAhead = true
		}
	}
	return strictlyAhead
}

// DominatedBy reports whether other dominates vc.
func (vc VectorClock) DominatedBy(other VectorClock) bool {
	return other.Dominates(vc)
}

// Concurrent reports whether neither clock dominates the other and they
// are not equal — i.e. each has seen something the other hasn't.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	if vc.Equal(other) {
		return false
	}
	return !vc.Dominates(other) && !other.Dominates(vc)
}

// NodesWithUpdatesIn returns the nodes where other is strictly ahead of
// vc — the set vc must pull from other to catch up.
func (vc VectorClock) NodesWithUpdatesIn(other VectorClock) []string {
	var nodes []string
	for node := range unionNodes(vc, other) {
		if vc.Get(node).Before(other.Get(node)) {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// NodesToPushTo returns the nodes where vc is strictly ahead of other —
// what vc can push to other.
func (vc VectorClock) NodesToPushTo(other VectorClock) []string {
	return other.NodesWithUpdatesIn(vc)
}

func unionNodes(a, b VectorClock) map[string]struct{} {
	set := make(map[string]struct{}, len(a)+len(b))
	for node := range a {
		set[node] = struct{}{}
	}
	for node := range b {
		set[node] = struct{}{}
	}
	return set
}
