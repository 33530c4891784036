package noisecrypt

import "fmt"

// RunInitiator drives the client side of the two-message IK exchange
// over send/receive and returns the resulting session keys.
func RunInitiator(local StaticKeyPair, remoteStatic [32]byte, send func([]byte) error, receive func() ([]byte, error)) (SessionKeys, error) {
	hs, err := NewInitiator(local, remoteStatic)
	if err != nil {
		return SessionKeys{}, err
	}

	msg1, _, _, _, err := hs.WriteMessage()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: build message 1: %w", err)
	}
	if err := send(msg1); err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: send message 1: %w", err)
	}

	msg2, err := receive()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: receive message 2: %w", err)
	}
	csOut, csIn, done, err := hs.ReadMessage(msg2)
	if err != nil {
		return SessionKeys{}, err
	}
	if !done {
		return SessionKeys{}, fmt.Errorf("noisecrypt: handshake did not complete after message 2")
	}
	return SessionKeysFrom(csOut, csIn), nil
}

// RunResponder drives the server side of the exchange.
func RunResponder(local StaticKeyPair, send func([]byte) error, receive func() ([]byte, error)) (SessionKeys, error) {
	hs, err := NewResponder(local)
	if err != nil {
		return SessionKeys{}, err
	}

	msg1, err := receive()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: receive message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(msg1); err != nil {
		return SessionKeys{}, err
	}

	msg2, csOut, csIn, done, err := hs.WriteMessage()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: build message 2: %w", err)
	}
	if err := send(msg2); err != nil {
		return SessionKeys{}, fmt.Errorf("noisecrypt: send message 2: %w", err)
	}
	if !done {
		return SessionKeys{}, fmt.Errorf("noisecrypt: handshake did not complete after message 2")
	}
	return SessionKeysFrom(csOut, csIn), nil
}
