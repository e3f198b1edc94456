package session

import (
	"crypto/rand"
	"encoding/base64"
)

const DefaultTokenBytes = 32

// NewToken returns n random bytes, base64url encoded without padding.
func NewToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
