package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestFrame_WriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: MsgPing, Flags: 0, Payload: []byte("hello")}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, f)
	}
}

func TestFrame_ToleratesFragmentation(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: MsgBatchReq, Flags: 0, Payload: bytes.Repeat([]byte("x"), 5000)}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}

	full := buf.Bytes()
	r := &chunkedReader{data: full, chunkSize: 7}
	got, err := ReadFrame(r, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatal("fragmented read produced different payload")
	}
}

type chunkedReader struct {
	data      []byte
	chunkSize int
	pos       int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.chunkSize
	if n > len(p) {
		n = len(p)
	}
	remaining := len(c.data) - c.pos
	if n > remaining {
		n = remaining
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func TestFrame_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: MsgPing, Payload: bytes.Repeat([]byte("y"), 1024)}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFrame(&buf, 16); err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
}

func TestEncodeDecodeMessage_Compression(t *testing.T) {
	body := bytes.Repeat([]byte("repeat-me "), 200)
	frame, err := EncodeMessage(nil, MsgBatchResp, body, true)
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Flags.Compressed() {
		t.Fatal("expected compressed flag to be set")
	}
	if len(frame.Payload) >= len(body) {
		t.Errorf("expected compression to shrink payload: %d vs %d", len(frame.Payload), len(body))
	}

	decoded, err := DecodeMessage(nil, frame)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatal("decompressed body does not match original")
	}
}

func newTestSessionPair(t *testing.T) (client *Session, server *Session) {
	t.Helper()
	var k1, k2 [32]byte
	for i := range k1 {
		k1[i] = byte(i)
		k2[i] = byte(255 - i)
	}
	// client encrypts with k1, server decrypts with k1; server encrypts
	// with k2, client decrypts with k2 -- a symmetric per-direction pair.
	clientSession, err := NewSession(k1, k2)
	if err != nil {
		t.Fatal(err)
	}
	serverSession, err := NewSession(k2, k1)
	if err != nil {
		t.Fatal(err)
	}
	return clientSession, serverSession
}

func TestEncodeDecodeMessage_Encryption(t *testing.T) {
	client, server := newTestSessionPair(t)
	body := []byte(`{"hello":"world"}`)

	frame, err := EncodeMessage(client, MsgVectorClock, body, false)
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Flags.Encrypted() {
		t.Fatal("expected encrypted flag to be set")
	}

	decoded, err := DecodeMessage(server, frame)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatal("decrypted body does not match original")
	}
}

func TestEncodeDecodeMessage_CompressThenEncrypt(t *testing.T) {
	client, server := newTestSessionPair(t)
	body := bytes.Repeat([]byte("payload-bytes "), 100)

	frame, err := EncodeMessage(client, MsgBatchResp, body, true)
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Flags.Compressed() || !frame.Flags.Encrypted() {
		t.Fatal("expected both compressed and encrypted flags")
	}

	decoded, err := DecodeMessage(server, frame)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatal("round trip through compress-then-encrypt failed")
	}
}

func TestSession_RejectsNonceReplay(t *testing.T) {
	client, server := newTestSessionPair(t)
	body := []byte("message one")

	frame, err := EncodeMessage(client, MsgPing, body, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeMessage(server, frame); err != nil {
		t.Fatal(err)
	}
	// replaying the exact same frame must be rejected: its nonce is no
	// longer >= the session's expected next counter.
	if _, err := DecodeMessage(server, frame); err == nil {
		t.Fatal("expected nonce replay to be rejected")
	}
}

func TestSession_TamperedCiphertextRejected(t *testing.T) {
	client, server := newTestSessionPair(t)
	frame, err := EncodeMessage(client, MsgPing, []byte("authentic"), false)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), frame.Payload...)
	tampered[len(tampered)-1] ^= 0xFF
	frame.Payload = tampered

	if _, err := DecodeMessage(server, frame); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}
