package localnet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// ErrSessionClosed indicates a frame arrived after the session was torn down.
var ErrSessionClosed = errors.New("session closed")

// session is one direction-aware half of an established Noise NN session.
// The hub holds one half per connected client, the client holds the other;
// every frame pushed from the hub travels through the pair.
type session struct {
	mu     sync.Mutex
	send   *noise.CipherState
	recv   *noise.CipherState
	closed bool
}

// Seal encrypts a frame for the peer half. Frames must be opened in the
// order they were sealed: the cipher state nonce advances on every call.
func (s *session) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.send.Encrypt(nil, nil, plaintext)
}

// Open decrypts a frame sealed by the peer half.
func (s *session) Open(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open session frame: %w", err)
	}
	return plaintext, nil
}

// Close invalidates the session half.
func (s *session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// newSessionPair performs a complete Noise NN handshake in process and
// returns the two established halves: the client side initiates, the hub
// side responds.
func newSessionPair() (client, hub *session, err error) {
	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	initiator, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create initiator handshake state: %w", err)
	}

	responder, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   false,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create responder handshake state: %w", err)
	}

	// -> e
	msg1, _, _, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake message 1 failed: %w", err)
	}
	if _, _, _, err = responder.ReadMessage(nil, msg1); err != nil {
		return nil, nil, fmt.Errorf("handshake message 1 rejected: %w", err)
	}

	// <- e, ee
	// The final handshake message yields the transport cipher pair: the
	// first state encrypts initiator-to-responder, the second the reverse.
	msg2, initToResp, respToInit, err := responder.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake message 2 failed: %w", err)
	}
	_, clientSend, clientRecv, err := initiator.ReadMessage(nil, msg2)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake message 2 rejected: %w", err)
	}

	client = &session{send: clientSend, recv: clientRecv}
	hub = &session{send: respToInit, recv: initToResp}
	return client, hub, nil
}
