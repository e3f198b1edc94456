package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// KeyIssuer supplies the public key sent with LOGIN_SUCCESS.
type KeyIssuer interface {
	PublicKey(sessionID string) (string, error)
	// Release forgets the key pair of a closed connection.
	Release(sessionID string)
}

type keyPair struct {
	private []byte
	public  []byte
}

// X25519Keys issues a fresh X25519 key pair per connection.
type X25519Keys struct {
	mu    sync.Mutex
	pairs map[string]*keyPair
}

// NewX25519Keys returns an issuer with no pairs yet.
func NewX25519Keys() *X25519Keys {
	return &X25519Keys{pairs: make(map[string]*keyPair)}
}

func newKeyPair() (*keyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &keyPair{private: priv, public: pub}, nil
}

// PublicKey generates a new pair for sessionID, replacing any earlier one,
// and returns its public half in standard base64.
func (k *X25519Keys) PublicKey(sessionID string) (string, error) {
	pair, err := newKeyPair()
	if err != nil {
		return "", err
	}
	k.mu.Lock()
	k.pairs[sessionID] = pair
	k.mu.Unlock()
	return base64.StdEncoding.EncodeToString(pair.public), nil
}

func (k *X25519Keys) Release(sessionID string) {
	k.mu.Lock()
	delete(k.pairs, sessionID)
	k.mu.Unlock()
}

func (k *X25519Keys) issued(sessionID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.pairs[sessionID]
	return ok
}
