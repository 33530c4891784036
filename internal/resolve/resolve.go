// Package resolve implements the pluggable conflict-resolution policy that
// decides how an incoming oplog entry folds into the locally stored
// document for the same key.
package resolve

import (
	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/entglerr"
)

// Resolution is the outcome of resolving one (local, incoming) pair.
type Resolution struct {
	ShouldApply bool
	Merged      *docmodel.Document
	Outcome     entglerr.Outcome
}

// Resolver decides whether an incoming oplog entry should be applied over
// the locally stored document for the same (collection, key), and what the
// resulting document should look like. Implementations must be
// deterministic: the same (local, incoming) pair always produces the same
// Resolution, on every node.
type Resolver interface {
	Resolve(local *docmodel.Document, incoming docmodel.OplogEntry) Resolution
}

// LWW is the default policy: last-write-wins keyed on the incoming entry's
// HLC timestamp, total order, ties broken implicitly by node id.
type LWW struct{}

// Resolve implements Resolver.
func (LWW) Resolve(local *docmodel.Document, incoming docmodel.OplogEntry) Resolution {
	if incoming.Op == docmodel.OpPut && !incoming.HasPayload() {
		// a Put with no payload is never applied and never logged downstream.
		return Resolution{ShouldApply: false, Outcome: entglerr.OutcomeRejectedNoPayload}
	}

	if local == nil {
		switch incoming.Op {
		case docmodel.OpPut:
			return Resolution{
				ShouldApply: true,
				Merged: &docmodel.Document{
					Collection: incoming.Collection,
					Key:        incoming.Key,
					Content:    incoming.Payload,
					UpdatedAt:  incoming.Timestamp,
					IsDeleted:  false,
				},
				Outcome: entglerr.OutcomeApplied,
			}
		case docmodel.OpDelete:
			return Resolution{
				ShouldApply: true,
				Merged: &docmodel.Document{
					Collection: incoming.Collection,
					Key:        incoming.Key,
					UpdatedAt:  incoming.Timestamp,
					IsDeleted:  true,
				},
				Outcome: entglerr.OutcomeApplied,
			}
		}
		return Resolution{ShouldApply: false, Outcome: entglerr.OutcomeSkipped}
	}

	if !incoming.Timestamp.After(local.UpdatedAt) {
		return Resolution{ShouldApply: false, Outcome: entglerr.OutcomeSkipped}
	}

	merged := *local
	merged.UpdatedAt = incoming.Timestamp

	switch incoming.Op {
	case docmodel.OpPut:
		merged.Content = incoming.Payload
		merged.IsDeleted = false
	case docmodel.OpDelete:
		merged.IsDeleted = true
	}

	return Resolution{ShouldApply: true, Merged: &merged, Outcome: entglerr.OutcomeConflictResolved}
}

// PreferLocal never overwrites a local non-tombstone value, demonstrating
// the policy's pluggability. Useful for a read-mostly replica that should
// absorb new keys and tombstone propagation but never clobber locally
// curated content.
type PreferLocal struct {
	fallback LWW
}

// Resolve implements Resolver.
func (p PreferLocal) Resolve(local *docmodel.Document, incoming docmodel.OplogEntry) Resolution {
	if local != nil && !local.IsDeleted {
		return Resolution{ShouldApply: false, Outcome: entglerr.OutcomeSkipped}
	}
	return p.fallback.Resolve(local, incoming)
}
