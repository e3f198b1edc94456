package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is the frame wrapper. Language rides on AUTH and PublicKey on
// LOGIN_SUCCESS, next to data rather than inside it.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Language  string          `json:"language,omitempty"`
	PublicKey string          `json:"publicKey,omitempty"`
}

// Decode parses a frame. The type is upper-cased.
func Decode(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Type = Type(strings.ToUpper(strings.TrimSpace(string(env.Type))))
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// HasData reports whether data is present and not JSON null.
func (e *Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Bind unmarshals data into v.
func (e *Envelope) Bind(v any) error {
	if !e.HasData() {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Text returns data as a string, accepting a bare JSON string only.
func (e *Envelope) Text() (string, error) {
	var s string
	if err := e.Bind(&s); err != nil {
		return "", err
	}
	return s, nil
}

// Encode builds a frame. A nil data encodes as JSON null.
func Encode(t Type, data any) ([]byte, error) {
	return EncodeEnvelope(t, data, "")
}

// EncodeEnvelope builds a frame carrying a public key.
func EncodeEnvelope(t Type, data any, publicKey string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: raw, PublicKey: publicKey})
}

// MustEncode is Encode for payloads that always marshal.
func MustEncode(t Type, data any) []byte {
	b, err := Encode(t, data)
	if err != nil {
		panic(err)
	}
	return b
}
