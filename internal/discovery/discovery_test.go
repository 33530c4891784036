package discovery

import (
	"encoding/base64"
	"testing"
)

func TestStaticList_ParsesEntries(t *testing.T) {
	s := NewStaticList([]string{"peer1@10.0.0.1:7420", "peer2@10.0.0.2:7420"})
	peers, err := s.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[0].NodeID != "peer1" || peers[0].Address != "10.0.0.1:7420" {
		t.Fatalf("unexpected parse: %+v", peers[0])
	}
}

func TestStaticList_ParsesStaticKeySuffix(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	s := NewStaticList([]string{"peer1@10.0.0.1:7420#" + encoded})
	peers, err := s.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if !peers[0].HasStaticKey {
		t.Fatal("expected HasStaticKey to be set")
	}
	if string(peers[0].StaticKey[:]) != string(key) {
		t.Fatalf("expected decoded static key to match, got %x want %x", peers[0].StaticKey, key)
	}
	if peers[0].Address != "10.0.0.1:7420" {
		t.Fatalf("expected key suffix to be stripped from address, got %q", peers[0].Address)
	}
}

func TestStaticList_EntryWithoutKeySuffixHasNoStaticKey(t *testing.T) {
	s := NewStaticList([]string{"peer1@10.0.0.1:7420"})
	peers, err := s.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if peers[0].HasStaticKey {
		t.Fatal("expected HasStaticKey to be false without a key suffix")
	}
}

func TestStaticList_RejectsInvalidBase64Key(t *testing.T) {
	s := NewStaticList([]string{"peer1@10.0.0.1:7420#not-valid-base64!!"})
	if _, err := s.Discover(); err == nil {
		t.Fatal("expected invalid base64 static key to error")
	}
}

func TestStaticList_RejectsWrongLengthKey(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	s := NewStaticList([]string{"peer1@10.0.0.1:7420#" + short})
	if _, err := s.Discover(); err == nil {
		t.Fatal("expected a key that doesn't decode to 32 bytes to error")
	}
}

func TestStaticList_RejectsMalformedEntry(t *testing.T) {
	s := NewStaticList([]string{"no-at-sign-here"})
	if _, err := s.Discover(); err == nil {
		t.Fatal("expected malformed entry without '@' to error")
	}
}

func TestStaticList_EmptyListIsValid(t *testing.T) {
	s := NewStaticList(nil)
	peers, err := s.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers, got %v", peers)
	}
}

func TestSharedTokenAuthenticator_AcceptsMatchingToken(t *testing.T) {
	auth := NewSharedTokenAuthenticator("secret")
	if !auth.Authenticate("peer1", "secret") {
		t.Fatal("expected matching token to authenticate")
	}
}

func TestSharedTokenAuthenticator_RejectsWrongToken(t *testing.T) {
	auth := NewSharedTokenAuthenticator("secret")
	if auth.Authenticate("peer1", "wrong") {
		t.Fatal("expected mismatched token to be rejected")
	}
}

func TestSharedTokenAuthenticator_EmptyTokenAcceptsAnyone(t *testing.T) {
	auth := NewSharedTokenAuthenticator("")
	if !auth.Authenticate("peer1", "anything") {
		t.Fatal("expected empty configured token to disable authentication")
	}
}
