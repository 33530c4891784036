package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/chacha20poly1305"
)

// nonceHighWaterMark is checked at 2^63 as a safety margin before the
// true 96-bit nonce space is exhausted, per the wire protocol's fatal
// close requirement as the counter approaches 2^64.
const nonceHighWaterMark = uint64(1) << 63

// ErrNonceExhausted is returned by EncodeMessage once the per-direction
// nonce counter has crossed the high water mark; the session, and the
// underlying connection, must be closed.
var ErrNonceExhausted = fmt.Errorf("wire: nonce counter approaching exhaustion, session must close")

// Session carries the per-direction symmetric keys produced by a
// completed handshake and the monotonic nonce counters that go with them.
type Session struct {
	mu sync.Mutex

	encryptAEAD  cipherAEAD
	decryptAEAD  cipherAEAD
	encryptNonce uint64
	decryptNonce uint64
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewSession builds a Session from the two 32-byte keys a handshake
// produces. encryptKey is this side's send key, decryptKey its receive key.
func NewSession(encryptKey, decryptKey [32]byte) (*Session, error) {
	enc, err := chacha20poly1305.New(encryptKey[:])
	if err != nil {
		return nil, fmt.Errorf("wire: init encrypt cipher: %w", err)
	}
	dec, err := chacha20poly1305.New(decryptKey[:])
	if err != nil {
		return nil, fmt.Errorf("wire: init decrypt cipher: %w", err)
	}
	return &Session{encryptAEAD: enc, decryptAEAD: dec}, nil
}

func encodeNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// EncodeMessage builds a Frame for (msgType, body), optionally zlib
// compressing then, if session is non-nil, ChaCha20-Poly1305 encrypting
// with AAD = msg_type || flags, compress-then-encrypt order.
func EncodeMessage(session *Session, msgType MsgType, body []byte, compress bool) (Frame, error) {
	payload := body
	var flags Flags

	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return Frame{}, fmt.Errorf("wire: compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return Frame{}, fmt.Errorf("wire: finalize compression: %w", err)
		}
		payload = buf.Bytes()
		flags |= FlagCompressed
	}

	if session != nil {
		aad := []byte{byte(msgType), byte(flags | FlagEncrypted)}
		sealed, err := session.encrypt(aad, payload)
		if err != nil {
			return Frame{}, err
		}
		payload = sealed
		flags |= FlagEncrypted
	}

	return Frame{Type: msgType, Flags: flags, Payload: payload}, nil
}

// DecodeMessage reverses EncodeMessage: decrypts (if encrypted) then
// decompresses (if compressed), returning the original body bytes.
func DecodeMessage(session *Session, f Frame) ([]byte, error) {
	payload := f.Payload

	if f.Flags.Encrypted() {
		if session == nil {
			return nil, fmt.Errorf("wire: encrypted frame received with no session established")
		}
		aad := []byte{byte(f.Type), byte(f.Flags)}
		plain, err := session.decrypt(aad, payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	if f.Flags.Compressed() {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("wire: open compressed payload: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("wire: decompress payload: %w", err)
		}
		payload = out
	}

	return payload, nil
}

func (s *Session) encrypt(aad, plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encryptNonce >= nonceHighWaterMark {
		return nil, ErrNonceExhausted
	}
	nonce := encodeNonce(s.encryptNonce)
	s.encryptNonce++

	sealed := s.encryptAEAD.Seal(nil, nonce, plaintext, aad)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (s *Session) decrypt(aad, framed []byte) ([]byte, error) {
	nonceSize := s.decryptAEAD.NonceSize()
	if len(framed) < nonceSize {
		return nil, fmt.Errorf("wire: encrypted payload shorter than nonce")
	}
	nonce := framed[:nonceSize]
	ciphertext := framed[nonceSize:]

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := binary.BigEndian.Uint64(nonce[4:])
	if counter < s.decryptNonce {
		return nil, fmt.Errorf("wire: nonce replay detected: got %d, expected >= %d", counter, s.decryptNonce)
	}
	s.decryptNonce = counter + 1

	plain, err := s.decryptAEAD.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("wire: decryption failed: %w", err)
	}
	return plain, nil
}
