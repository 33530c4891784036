// Package snapshot implements full-state export, replace, merge and
// oplog pruning on top of a store.Store, plus the streaming JSON
// envelope used both for local backups and for the wire protocol's
// snapshot fallback transfer.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/store"
)

// FormatVersion is the current snapshot stream version. Bumped whenever
// the envelope's field set changes in an incompatible way.
const FormatVersion = 1

// Envelope is the versioned JSON shape a snapshot is serialized as.
// ExportedAt uses RFC3339 so the stream is readable without this package.
type Envelope struct {
	Version          int                                 `json:"version"`
	ExportedAt       time.Time                           `json:"exported_at"`
	Documents        []docmodel.Document                 `json:"documents"`
	Oplog            []docmodel.OplogEntry               `json:"oplog"`
	SnapshotMetadata []docmodel.SnapshotMetadata        `json:"snapshot_metadata"`
	RemotePeers      []docmodel.RemotePeerConfiguration `json:"remote_peers"`
}

// Export reads the full contents of s into an Envelope. exportedAt is
// supplied by the caller rather than taken from time.Now here, so
// callers with their own clock source (or tests) stay in control of it.
func Export(s store.Store, exportedAt time.Time) (Envelope, error) {
	collections, err := s.GetCollections()
	if err != nil {
		return Envelope{}, fmt.Errorf("snapshot: list collections: %w", err)
	}

	var docs []docmodel.Document
	for _, col := range collections {
		found, err := s.QueryDocuments(col, store.Query{}, store.FindOptions{})
		if err != nil {
			return Envelope{}, fmt.Errorf("snapshot: query collection %q: %w", col, err)
		}
		docs = append(docs, found...)
	}

	oplog, err := exportAllOplog(s)
	if err != nil {
		return Envelope{}, err
	}

	metas, err := s.AllSnapshotMetadata()
	if err != nil {
		return Envelope{}, fmt.Errorf("snapshot: list snapshot metadata: %w", err)
	}

	peers, err := s.RemotePeers().Get()
	if err != nil {
		return Envelope{}, fmt.Errorf("snapshot: list remote peers: %w", err)
	}

	return Envelope{
		Version:          FormatVersion,
		ExportedAt:       exportedAt,
		Documents:        docs,
		Oplog:            oplog,
		SnapshotMetadata: metas,
		RemotePeers:      peers,
	}, nil
}

// exportAllOplog walks every node's chain from the zero timestamp,
// since GetOplogAfter is defined over a single cutoff rather than
// "everything" directly.
func exportAllOplog(s store.Store) ([]docmodel.OplogEntry, error) {
	zero := hlc.Timestamp{}
	entries, err := s.GetOplogAfter(zero, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: scan oplog: %w", err)
	}
	return entries, nil
}

// Encode writes env to w as the versioned JSON stream format.
func Encode(w io.Writer, env Envelope) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("snapshot: encode envelope: %w", err)
	}
	return nil
}

// Decode reads a versioned JSON stream from r.
func Decode(r io.Reader) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("snapshot: decode envelope: %w", err)
	}
	if env.Version != FormatVersion {
		return Envelope{}, fmt.Errorf("snapshot: unsupported envelope version %d, want %d", env.Version, FormatVersion)
	}
	return env, nil
}

// Replace tombstones every document in s, loads env's documents, oplog
// entries, snapshot metadata and remote peers, then invalidates the hash
// cache so the next access relazy-inits it from the fresh snapshot
// metadata. Each step is a separate Store call, not one transaction: a
// failure part way leaves the steps already taken in place. Existing
// oplog entries, snapshot metadata and remote peers are not removed;
// env's are added alongside them.
//
// Store implementations don't expose a bulk-clear primitive, so this
// walks existing collections and tombstones every key before loading
// the snapshot's documents and oplog back in. Since ApplyBatch requires
// entries to pass resolver/hash checks against current state, Replace
// loads documents and oplog directly rather than routing through it --
// a snapshot is trusted, already-validated state, not an incoming
// peer's claim that needs to be resolved against what's here.
func Replace(s store.Store, env Envelope) error {
	existingCollections, err := s.GetCollections()
	if err != nil {
		return fmt.Errorf("snapshot: list existing collections for clear: %w", err)
	}
	for _, col := range existingCollections {
		docs, err := s.QueryDocuments(col, store.Query{}, store.FindOptions{})
		if err != nil {
			return fmt.Errorf("snapshot: query %q during clear: %w", col, err)
		}
		for _, d := range docs {
			d.IsDeleted = true
			d.Content = nil
			if err := s.SaveDocument(d); err != nil {
				return fmt.Errorf("snapshot: clear document %s/%s: %w", col, d.Key, err)
			}
		}
	}

	for _, d := range env.Documents {
		if err := s.SaveDocument(d); err != nil {
			return fmt.Errorf("snapshot: load document %s/%s: %w", d.Collection, d.Key, err)
		}
	}
	for _, e := range env.Oplog {
		if err := s.AppendOplogEntry(e); err != nil {
			return fmt.Errorf("snapshot: load oplog entry %s: %w", e.Hash, err)
		}
	}
	for _, m := range env.SnapshotMetadata {
		if err := s.UpdateSnapshotMetadata(m); err != nil {
			return fmt.Errorf("snapshot: load snapshot metadata for %s: %w", m.NodeID, err)
		}
	}
	for _, p := range env.RemotePeers {
		if err := s.RemotePeers().Save(p); err != nil {
			return fmt.Errorf("snapshot: load remote peer %s: %w", p.NodeID, err)
		}
	}

	s.InvalidateCache()
	return nil
}

// Merge folds env into s without discarding local-only history:
// documents and snapshot metadata merge by LWW timestamp, oplog entries
// and remote peers are skip-if-present (keyed by hash and node id
// respectively). This is the path the wire snapshot fallback always
// uses, to preserve whatever divergent local writes happened before the
// gap that triggered the fallback.
func Merge(s store.Store, env Envelope) error {
	for _, d := range env.Documents {
		local, found, err := s.GetDocument(d.Collection, d.Key)
		if err != nil {
			return fmt.Errorf("snapshot: merge read %s/%s: %w", d.Collection, d.Key, err)
		}
		if !found || local.UpdatedAt.Before(d.UpdatedAt) {
			if err := s.SaveDocument(d); err != nil {
				return fmt.Errorf("snapshot: merge write %s/%s: %w", d.Collection, d.Key, err)
			}
		}
	}

	for _, e := range env.Oplog {
		if _, found, err := s.GetEntryByHash(e.Hash); err != nil {
			return fmt.Errorf("snapshot: merge oplog lookup %s: %w", e.Hash, err)
		} else if found {
			continue
		}
		if err := s.AppendOplogEntry(e); err != nil {
			return fmt.Errorf("snapshot: merge oplog append %s: %w", e.Hash, err)
		}
	}

	for _, m := range env.SnapshotMetadata {
		local, found, err := s.GetSnapshotMetadata(m.NodeID)
		if err != nil {
			return fmt.Errorf("snapshot: merge metadata lookup %s: %w", m.NodeID, err)
		}
		if !found || local.Timestamp().Before(m.Timestamp()) {
			if err := s.UpdateSnapshotMetadata(m); err != nil {
				return fmt.Errorf("snapshot: merge metadata write %s: %w", m.NodeID, err)
			}
		}
	}

	for _, p := range env.RemotePeers {
		if _, found, err := s.RemotePeers().GetOne(p.NodeID); err != nil {
			return fmt.Errorf("snapshot: merge peer lookup %s: %w", p.NodeID, err)
		} else if found {
			continue
		}
		if err := s.RemotePeers().Save(p); err != nil {
			return fmt.Errorf("snapshot: merge peer save %s: %w", p.NodeID, err)
		}
	}

	s.InvalidateCache()
	return nil
}

// Prune removes oplog entries older than cutoff, recording each
// affected node's latest-before-cutoff entry as its new snapshot
// boundary so gap recovery can still attach incoming entries at the
// truncation point.
func Prune(s store.Store, cutoff hlc.Timestamp) error {
	return s.PruneOplog(cutoff)
}
