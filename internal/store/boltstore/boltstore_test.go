package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/resolve"
	"github.com/rachitkumar205/entgldb/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, resolve.LWW{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putEntry(collection, key string, payload []byte, ts hlc.Timestamp, prev string) docmodel.OplogEntry {
	return docmodel.NewEntry(collection, key, docmodel.OpPut, payload, ts, prev)
}

func TestBoltstore_SaveAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	doc := docmodel.Document{Collection: "users", Key: "u1", Content: []byte(`{"name":"Alice"}`), UpdatedAt: hlc.Timestamp{Physical: 1, NodeID: "n1"}}

	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	got, ok, err := s.GetDocument("users", "u1")
	if err != nil || !ok {
		t.Fatalf("GetDocument: ok=%v err=%v", ok, err)
	}
	if string(got.Content) != `{"name":"Alice"}` {
		t.Errorf("unexpected content: %s", got.Content)
	}
}

func TestBoltstore_GetDocument_TombstoneHidden(t *testing.T) {
	s := newTestStore(t)
	doc := docmodel.Document{Collection: "t", Key: "k1", IsDeleted: true, UpdatedAt: hlc.Timestamp{Physical: 1, NodeID: "n1"}}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.GetDocument("t", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("tombstoned document must not be returned")
	}
}

func TestBoltstore_ApplyBatch_OrdersByTimestamp(t *testing.T) {
	s := newTestStore(t)
	ts1 := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	ts2 := hlc.Timestamp{Physical: 20, NodeID: "n1"}

	e1 := putEntry("t", "k1", []byte(`{"v":1}`), ts1, "")
	e2 := putEntry("t", "k1", []byte(`{"v":2}`), ts2, e1.Hash)

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e2, e1}); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	doc, ok, err := s.GetDocument("t", "k1")
	if err != nil || !ok {
		t.Fatalf("GetDocument: ok=%v err=%v", ok, err)
	}
	if string(doc.Content) != `{"v":2}` {
		t.Errorf("expected final value from ts2, got %s", doc.Content)
	}
}

func TestBoltstore_ApplyBatch_IdempotentReapply(t *testing.T) {
	s := newTestStore(t)
	ts := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	e := putEntry("t", "k1", []byte(`{"v":1}`), ts, "")

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e}); err != nil {
		t.Fatal(err)
	}
	before, _, _ := s.GetDocument("t", "k1")
	beforeChain, _ := s.GetOplogForNodeAfter("n1", hlc.Timestamp{}, nil)

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e}); err != nil {
		t.Fatal(err)
	}
	after, _, _ := s.GetDocument("t", "k1")
	afterChain, _ := s.GetOplogForNodeAfter("n1", hlc.Timestamp{}, nil)

	if string(before.Content) != string(after.Content) {
		t.Error("reapplying the same batch changed document content")
	}
	if len(beforeChain) != len(afterChain) {
		t.Errorf("reapplying the same batch changed chain length: %d vs %d", len(beforeChain), len(afterChain))
	}
}

func TestBoltstore_ApplyBatch_RejectsInvalidHash(t *testing.T) {
	s := newTestStore(t)
	ts := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	e := putEntry("t", "k1", []byte(`{"v":1}`), ts, "")
	e.Hash = "tampered"

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e}); err == nil {
		t.Fatal("expected ApplyBatch to reject an entry with an invalid hash")
	}
}

func TestBoltstore_GetChainRange(t *testing.T) {
	s := newTestStore(t)
	ts1 := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	ts2 := hlc.Timestamp{Physical: 20, NodeID: "n1"}
	ts3 := hlc.Timestamp{Physical: 30, NodeID: "n1"}

	e1 := putEntry("t", "k1", []byte(`{"v":1}`), ts1, "")
	e2 := putEntry("t", "k2", []byte(`{"v":2}`), ts2, e1.Hash)
	e3 := putEntry("t", "k3", []byte(`{"v":3}`), ts3, e2.Hash)

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e1, e2, e3}); err != nil {
		t.Fatal(err)
	}

	entries, ok, err := s.GetChainRange(e1.Hash, e3.Hash)
	if err != nil || !ok {
		t.Fatalf("GetChainRange: ok=%v err=%v", ok, err)
	}
	if len(entries) != 2 || entries[0].Hash != e2.Hash || entries[1].Hash != e3.Hash {
		t.Fatalf("unexpected range result: %+v", entries)
	}

	_, ok, err = s.GetChainRange("unknown-hash", e3.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("GetChainRange should report ok=false for an unknown start hash")
	}
}

func TestBoltstore_PruneOplog_RecordsSnapshotBoundary(t *testing.T) {
	s := newTestStore(t)
	ts1 := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	ts2 := hlc.Timestamp{Physical: 20, NodeID: "n1"}

	e1 := putEntry("t", "k1", []byte(`{"v":1}`), ts1, "")
	e2 := putEntry("t", "k2", []byte(`{"v":2}`), ts2, e1.Hash)

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e1, e2}); err != nil {
		t.Fatal(err)
	}
	if err := s.PruneOplog(hlc.Timestamp{Physical: 15, NodeID: "n1"}); err != nil {
		t.Fatal(err)
	}

	meta, ok, err := s.GetSnapshotMetadata("n1")
	if err != nil || !ok {
		t.Fatalf("GetSnapshotMetadata: ok=%v err=%v", ok, err)
	}
	if meta.Hash != e1.Hash {
		t.Errorf("expected snapshot boundary at e1, got hash=%s", meta.Hash)
	}

	remaining, err := s.GetOplogForNodeAfter("n1", hlc.Timestamp{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Hash != e2.Hash {
		t.Fatalf("expected only e2 to remain after prune, got %+v", remaining)
	}
}

func TestBoltstore_QueryDocuments_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	docs := []docmodel.Document{
		{Collection: "items", Key: "a", Content: []byte(`{"price":30}`), UpdatedAt: hlc.Timestamp{Physical: 1, NodeID: "n1"}},
		{Collection: "items", Key: "b", Content: []byte(`{"price":10}`), UpdatedAt: hlc.Timestamp{Physical: 2, NodeID: "n1"}},
		{Collection: "items", Key: "c", Content: []byte(`{"price":20}`), UpdatedAt: hlc.Timestamp{Physical: 3, NodeID: "n1"}},
	}
	for _, d := range docs {
		if err := s.SaveDocument(d); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.QueryDocuments("items", store.Gte("price", float64(15)), store.FindOptions{OrderByPath: "price", Ascending: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Key != "c" || results[1].Key != "a" {
		t.Fatalf("unexpected query result order: %+v", results)
	}
}

func TestBoltstore_RemotePeers_SaveGetRemove(t *testing.T) {
	s := newTestStore(t)
	peer := docmodel.RemotePeerConfiguration{NodeID: "n2", Address: "10.0.0.2:7777", Type: docmodel.PeerStaticRemote, Enabled: true}

	if err := s.RemotePeers().Save(peer); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.RemotePeers().GetOne("n2")
	if err != nil || !ok {
		t.Fatalf("GetOne: ok=%v err=%v", ok, err)
	}
	if got.Address != peer.Address {
		t.Errorf("unexpected peer address: %s", got.Address)
	}
	if err := s.RemotePeers().Remove("n2"); err != nil {
		t.Fatal(err)
	}
	_, ok, err = s.RemotePeers().GetOne("n2")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected peer to be removed")
	}
}

func TestBoltstore_VectorClock_ReflectsChainTips(t *testing.T) {
	s := newTestStore(t)
	ts1 := hlc.Timestamp{Physical: 10, NodeID: "n1"}
	ts2 := hlc.Timestamp{Physical: 20, NodeID: "n2"}

	e1 := putEntry("t", "k1", []byte(`{}`), ts1, "")
	e2 := putEntry("t", "k2", []byte(`{}`), ts2, "")

	if err := s.ApplyBatch(nil, []docmodel.OplogEntry{e1, e2}); err != nil {
		t.Fatal(err)
	}

	vc, err := s.GetVectorClock()
	if err != nil {
		t.Fatal(err)
	}
	if vc["n1"] != ts1 || vc["n2"] != ts2 {
		t.Errorf("unexpected vector clock: %+v", vc)
	}
}
