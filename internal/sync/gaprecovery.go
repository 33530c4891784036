package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/entglerr"
	"github.com/rachitkumar205/entgldb/internal/store"
)

// ChainRangeRequester asks a peer for the entries attaching startHash
// to endHash, or reports that the gap can only be closed with a full
// snapshot. It is the one piece of gap recovery that crosses the wire,
// kept as an interface so the validation logic itself stays testable
// without a live connection.
type ChainRangeRequester interface {
	RequestChainRange(ctx context.Context, startHash, endHash string) (entries []docmodel.OplogEntry, snapshotRequired bool, err error)
}

// InboundOutcome is what happened when a batch of claimed-remote oplog
// entries was processed.
type InboundOutcome int

const (
	// InboundApplied means every entry in the batch (plus any gap-filling
	// entries recovered along the way) was validated and applied.
	InboundApplied InboundOutcome = iota
	// InboundSnapshotRequired means a gap could not be closed
	// incrementally; the caller must clear this peer's session state and
	// schedule a single snapshot pull instead of retrying the same batch.
	InboundSnapshotRequired
)

// ProcessInboundBatch implements the chain validation and gap recovery
// subroutine: given entries claimed to originate from peerID, sorted
// ascending by timestamp, it verifies every entry's hash, determines
// whether each one attaches to what's known locally, recovers through
// any gap via requester, and applies the whole accepted run atomically.
//
// All validity checks are side-effect-free; s.ApplyBatch is the only
// mutation, and it only runs once the entire batch (gap fill included)
// has passed every check.
func ProcessInboundBatch(ctx context.Context, s store.Store, peerID string, entries []docmodel.OplogEntry, requester ChainRangeRequester) (InboundOutcome, error) {
	if len(entries) == 0 {
		return InboundApplied, nil
	}

	sorted := make([]docmodel.OplogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for _, e := range sorted {
		if e.NodeID() != peerID {
			return InboundApplied, fmt.Errorf("sync: entry claims node %s, expected %s: %w", e.NodeID(), peerID, entglerr.ErrProtocol)
		}
		if !e.IsValid() {
			return InboundApplied, fmt.Errorf("sync: entry %s failed hash verification: %w", e.Hash, entglerr.ErrHashMismatch)
		}
	}

	localLast, haveLocalLast, err := s.GetLastEntryHash(peerID)
	if err != nil {
		return InboundApplied, fmt.Errorf("sync: read last entry hash for %s: %w", peerID, err)
	}
	snapshotBoundary, haveSnapshotBoundary, err := s.GetSnapshotHash(peerID)
	if err != nil {
		return InboundApplied, fmt.Errorf("sync: read snapshot boundary for %s: %w", peerID, err)
	}

	expectedPrev := ""
	if haveLocalLast {
		expectedPrev = localLast
	} else if haveSnapshotBoundary {
		expectedPrev = snapshotBoundary
	}

	var toApply []docmodel.OplogEntry
	cursor := expectedPrev

	for _, e := range sorted {
		switch {
		case e.PreviousHash == cursor:
			// chain continues.
		case haveSnapshotBoundary && e.PreviousHash == snapshotBoundary:
			// attaches at the truncation boundary; accept even though the
			// running cursor has moved past it within this batch.
		default:
			recovered, snapshotRequired, err := recoverGap(ctx, requester, cursor, e.PreviousHash)
			if err != nil {
				return InboundApplied, fmt.Errorf("sync: gap recovery for %s: %w", peerID, err)
			}
			if snapshotRequired {
				return InboundSnapshotRequired, nil
			}
			for _, r := range recovered {
				if !r.IsValid() {
					return InboundApplied, fmt.Errorf("sync: recovered entry %s failed hash verification: %w", r.Hash, entglerr.ErrHashMismatch)
				}
			}
			toApply = append(toApply, recovered...)
			if len(recovered) > 0 {
				cursor = recovered[len(recovered)-1].Hash
			}
			if e.PreviousHash != cursor {
				return InboundApplied, fmt.Errorf("sync: entry %s still does not attach after gap recovery: %w", e.Hash, entglerr.ErrChainGap)
			}
		}
		toApply = append(toApply, e)
		cursor = e.Hash
	}

	if err := s.ApplyBatch(nil, toApply); err != nil {
		return InboundApplied, fmt.Errorf("sync: apply batch from %s: %w", peerID, err)
	}
	return InboundApplied, nil
}

// recoverGap asks the peer for the entries strictly after start up to
// and including end, the §4.6 step 6 request.
func recoverGap(ctx context.Context, requester ChainRangeRequester, start, end string) (entries []docmodel.OplogEntry, snapshotRequired bool, err error) {
	if requester == nil {
		return nil, true, nil
	}
	return requester.RequestChainRange(ctx, start, end)
}
