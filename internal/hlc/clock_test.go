package hlc

import (
	"testing"
	"time"
)

func TestClock_Tick(t *testing.T) {
	clock := NewClock("node1", 500*time.Millisecond)

	ts1 := clock.Tick()
	if ts1.Zero() {
		t.Fatal("expected non-zero timestamp")
	}
	if ts1.NodeID != "node1" {
		t.Errorf("expected node1, got %s", ts1.NodeID)
	}

	ts2 := clock.Tick()
	if !ts2.After(ts1) {
		t.Error("expected ts2 after ts1 (monotonicity)")
	}

	ts3 := clock.Tick()
	if !ts3.After(ts2) {
		t.Error("expected ts3 after ts2")
	}
}

func TestClock_Monotonicity(t *testing.T) {
	clock := NewClock("node1", 500*time.Millisecond)

	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts := clock.Tick()
		if i > 0 && !ts.After(prev) {
			t.Fatalf("monotonicity violated at iteration %d: %v not after %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestClock_Observe(t *testing.T) {
	clock1 := NewClock("node1", 500*time.Millisecond)
	clock2 := NewClock("node2", 500*time.Millisecond)

	ts1 := clock1.Tick()

	if _, err := clock2.Observe(ts1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts2 := clock2.Tick()
	if !ts2.After(ts1) {
		t.Errorf("expected ts2 after ts1: ts1=%v, ts2=%v", ts1, ts2)
	}
}

func TestClock_ObserveWithExcessiveDrift(t *testing.T) {
	clock := NewClock("node1", 100*time.Millisecond)

	future := Timestamp{
		Physical: time.Now().Add(1 * time.Second).UnixMilli(),
		Logical:  0,
		NodeID:   "node2",
	}

	_, err := clock.Observe(future)
	if err == nil {
		t.Error("expected error for excessive clock drift")
	}
}

func TestClock_ObserveAdvancesDespiteDrift(t *testing.T) {
	// the advance rule still applies even when drift is flagged; a
	// rejected-looking remote timestamp must not be silently ignored.
	clock := NewClock("node1", 100*time.Millisecond)
	future := Timestamp{Physical: time.Now().Add(1 * time.Second).UnixMilli(), NodeID: "node2"}

	before := clock.Tick()
	ts, err := clock.Observe(future)
	if err == nil {
		t.Fatal("expected drift error")
	}
	if !ts.After(before) {
		t.Error("expected clock to still advance past the observed remote timestamp")
	}
}

func TestTimestamp_Before(t *testing.T) {
	tests := []struct {
		name     string
		h1, h2   Timestamp
		expected bool
	}{
		{
			name:     "earlier physical time",
			h1:       Timestamp{Physical: 100, NodeID: "n1"},
			h2:       Timestamp{Physical: 200, NodeID: "n2"},
			expected: true,
		},
		{
			name:     "same physical, lower logical",
			h1:       Timestamp{Physical: 100, Logical: 5, NodeID: "n1"},
			h2:       Timestamp{Physical: 100, Logical: 10, NodeID: "n2"},
			expected: true,
		},
		{
			name:     "later physical time",
			h1:       Timestamp{Physical: 200, NodeID: "n1"},
			h2:       Timestamp{Physical: 100, NodeID: "n2"},
			expected: false,
		},
		{
			name:     "same physical and logical, tiebreak by node id",
			h1:       Timestamp{Physical: 100, Logical: 5, NodeID: "a"},
			h2:       Timestamp{Physical: 100, Logical: 5, NodeID: "b"},
			expected: true,
		},
		{
			name:     "equal timestamps",
			h1:       Timestamp{Physical: 100, Logical: 5, NodeID: "n1"},
			h2:       Timestamp{Physical: 100, Logical: 5, NodeID: "n1"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h1.Before(tt.h2); got != tt.expected {
				t.Errorf("expected %v, got %v for %v < %v", tt.expected, got, tt.h1, tt.h2)
			}
		})
	}
}

func TestTimestamp_Compare(t *testing.T) {
	h1 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h2 := Timestamp{Physical: 200, Logical: 3, NodeID: "n2"}
	h3 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}

	if h1.Compare(h2) != -1 {
		t.Error("expected h1 < h2")
	}
	if h2.Compare(h1) != 1 {
		t.Error("expected h2 > h1")
	}
	if h1.Compare(h3) != 0 {
		t.Error("expected h1 == h3")
	}
}

func TestTimestamp_Equal(t *testing.T) {
	h1 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h2 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h3 := Timestamp{Physical: 100, Logical: 6, NodeID: "n1"}

	if !h1.Equal(h2) {
		t.Error("expected h1 equal h2")
	}
	if h1.Equal(h3) {
		t.Error("expected h1 not equal h3")
	}
}

func TestClock_LogicalIncrement(t *testing.T) {
	clock := NewClock("node1", 500*time.Millisecond)

	var prevPhysical int64
	var prevLogical int32
	logicalIncremented := false

	for i := 0; i < 100; i++ {
		ts := clock.Tick()
		if ts.Physical == prevPhysical && ts.Logical > prevLogical {
			logicalIncremented = true
			break
		}
		prevPhysical = ts.Physical
		prevLogical = ts.Logical
	}

	if !logicalIncremented {
		t.Error("expected logical counter to increment for at least one timestamp with same physical time")
	}
}

func TestClock_CausalityPreservation(t *testing.T) {
	node1 := NewClock("node1", 500*time.Millisecond)
	node2 := NewClock("node2", 500*time.Millisecond)
	node3 := NewClock("node3", 500*time.Millisecond)

	eventA := node1.Tick()
	node2.Observe(eventA)

	eventB := node2.Tick()
	if !eventB.After(eventA) {
		t.Error("causality violated: B should happen after A")
	}

	node3.Observe(eventB)
	eventC := node3.Tick()
	if !eventC.After(eventB) {
		t.Error("causality violated: C should happen after B")
	}
	if !eventC.After(eventA) {
		t.Error("transitivity violated: C should happen after A")
	}
}

func TestTimestamp_Zero(t *testing.T) {
	var zero Timestamp
	if !zero.Zero() {
		t.Error("expected zero timestamp")
	}

	nonZero := Timestamp{Physical: 1, NodeID: "n1"}
	if nonZero.Zero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestClock_TickBatchReTicksAcrossAdvance(t *testing.T) {
	clock := NewClock("node1", 500*time.Millisecond)
	batch := clock.TickBatch(5)
	for i := 1; i < len(batch); i++ {
		if !batch[i].After(batch[i-1]) {
			t.Fatalf("batch entry %d not strictly after previous: %v vs %v", i, batch[i], batch[i-1])
		}
	}
}

func TestTimestamp_Canonical(t *testing.T) {
	ts := Timestamp{Physical: 42, Logical: 7, NodeID: "n1"}
	if got, want := ts.Canonical(), "42.7.n1"; got != want {
		t.Errorf("canonical = %q, want %q", got, want)
	}
}
