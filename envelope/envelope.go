// Package envelope defines the signed wrapper carried by every authenticated
// producer response, along with the canonical byte encoding that signatures
// are computed over. Signer and verifier must derive byte-identical canonical
// encodings for the same logical payload or no signature ever verifies.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Field names are fixed for wire interoperability and must not be renamed.
type Envelope struct {
	Assinatura  string          `json:"assinatura"`
	Certificado string          `json:"certificado"`
	Mensagem    json.RawMessage `json:"mensagem"`
}

// ErrEmptySignature is returned when an envelope carries no signature.
var ErrEmptySignature = errors.New("envelope has no signature")

// New builds an envelope around a payload. The signature is the raw output of
// the signing operation and is transported base64-encoded; the certificate is
// PEM text as issued by the trust authority.
func New(message any, signature []byte, certPEM []byte) (*Envelope, error) {
	raw, err := MarshalMessage(message)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Assinatura:  base64.StdEncoding.EncodeToString(signature),
		Certificado: string(certPEM),
		Mensagem:    raw,
	}, nil
}

// MarshalMessage encodes a payload for the mensagem field. Structured values
// are stored in their canonical form so the wire bytes are exactly the bytes
// that were signed.
func MarshalMessage(message any) (json.RawMessage, error) {
	if s, ok := message.(string); ok {
		return json.Marshal(s)
	}
	return Canonical(message)
}

// Signature decodes the base64 signature bytes.
func (e *Envelope) Signature() ([]byte, error) {
	if e.Assinatura == "" {
		return nil, ErrEmptySignature
	}
	sig, err := base64.StdEncoding.DecodeString(e.Assinatura)
	if err != nil {
		return nil, fmt.Errorf("malformed signature encoding: %w", err)
	}
	return sig, nil
}

// SignedBytes returns the canonical bytes the signature was computed over.
// A payload that is a JSON string is signed as the raw UTF-8 bytes of the
// string itself; any other payload is signed as its canonical JSON encoding.
func (e *Envelope) SignedBytes() ([]byte, error) {
	var s string
	if err := json.Unmarshal(e.Mensagem, &s); err == nil {
		return []byte(s), nil
	}
	return Canonical(e.Mensagem)
}

// DecodeMessage unmarshals the payload into v.
func (e *Envelope) DecodeMessage(v any) error {
	return json.Unmarshal(e.Mensagem, v)
}
