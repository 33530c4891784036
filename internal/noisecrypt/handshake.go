// Package noisecrypt wraps github.com/flynn/noise's IK handshake pattern
// to produce the per-direction symmetric session keys the wire protocol
// needs, instead of hand-rolling the X25519/HKDF steps.
package noisecrypt

import (
	"fmt"

	"github.com/flynn/noise"
)

// Prologue is the handshake's labeled context, bound into the transcript
// hash so a message from a different protocol version can never be
// replayed into this one.
const Prologue = "entgldb-v1"

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// StaticKeyPair is a node's long-lived X25519 identity key.
type StaticKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateStaticKeyPair creates a fresh X25519 identity key. It does not
// store the key; cmd/entgldb-node generates a new one at every start.
func GenerateStaticKeyPair() (StaticKeyPair, error) {
	kp, err := noise.DH25519.GenerateKeypair(nil)
	if err != nil {
		return StaticKeyPair{}, fmt.Errorf("noisecrypt: generate static keypair: %w", err)
	}
	var out StaticKeyPair
	copy(out.Public[:], kp.Public)
	copy(out.Private[:], kp.Private)
	return out, nil
}

// SessionKeys is the pair of per-direction symmetric keys a completed
// handshake produces, ready to hand to wire.NewSession.
type SessionKeys struct {
	EncryptKey [32]byte
	DecryptKey [32]byte
}

// Handshake drives one side of a Noise-IK exchange across exactly one
// cleartext round-trip: the initiator sends message 1, the responder
// replies with message 2, and both sides then have a transport split.
type Handshake struct {
	state     *noise.HandshakeState
	initiator bool
}

// NewInitiator starts the client side of the handshake. remoteStatic is
// the server's known public key (required by IK).
func NewInitiator(local StaticKeyPair, remoteStatic [32]byte) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		Prologue:      []byte(Prologue),
		StaticKeypair: toNoiseKeypair(local),
		PeerStatic:    remoteStatic[:],
	})
	if err != nil {
		return nil, fmt.Errorf("noisecrypt: init initiator handshake: %w", err)
	}
	return &Handshake{state: state, initiator: true}, nil
}

// NewResponder starts the server side. The responder learns the
// initiator's static key from message 1, so no PeerStatic is supplied.
func NewResponder(local StaticKeyPair) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		Prologue:      []byte(Prologue),
		StaticKeypair: toNoiseKeypair(local),
	})
	if err != nil {
		return nil, fmt.Errorf("noisecrypt: init responder handshake: %w", err)
	}
	return &Handshake{state: state}, nil
}

func toNoiseKeypair(kp StaticKeyPair) noise.DHKey {
	return noise.DHKey{Public: kp.Public[:], Private: kp.Private[:]}
}

// WriteMessage produces this side's next handshake message. done is true
// once writing completes the pattern and csOut/csIn are populated (this
// happens for the responder, whose second message carries the split).
func (h *Handshake) WriteMessage() (msg []byte, csOut, csIn *noise.CipherState, done bool, err error) {
	out, cs0, cs1, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("noisecrypt: write handshake message: %w", err)
	}
	if cs0 == nil {
		return out, nil, nil, false, nil
	}
	o, i, _, _ := csDirections(h.initiator, cs0, cs1)
	return out, o, i, true, nil
}

// ReadMessage consumes the peer's handshake message. done is true once
// reading completes the pattern and csOut/csIn are populated (this
// happens for the initiator, whose second read carries the split).
func (h *Handshake) ReadMessage(msg []byte) (csOut, csIn *noise.CipherState, done bool, err error) {
	_, cs0, cs1, err := h.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, false, fmt.Errorf("noisecrypt: read handshake message: %w", err)
	}
	if cs0 == nil {
		return nil, nil, false, nil
	}
	return csDirections(h.initiator, cs0, cs1)
}

func csDirections(initiator bool, cs0, cs1 *noise.CipherState) (csOut, csIn *noise.CipherState, done bool, err error) {
	if initiator {
		return cs0, cs1, true, nil
	}
	return cs1, cs0, true, nil
}

// SessionKeysFrom extracts the raw 32-byte keys from a completed
// handshake's pair of CipherStates, ready for wire.NewSession.
func SessionKeysFrom(csOut, csIn *noise.CipherState) SessionKeys {
	var keys SessionKeys
	copy(keys.EncryptKey[:], csOut.Key())
	copy(keys.DecryptKey[:], csIn.Key())
	return keys
}
