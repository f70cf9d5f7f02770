// Package trust implements the consumer-side verification of signed producer
// responses. A Verifier holds a single trust root (the gestor's public key)
// and checks every envelope in two mandatory stages: the certificate is
// authenticated against the trust root first, then the message is
// authenticated against the certificate's embedded key. A message must never
// be acted upon unless both stages pass.
package trust

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/migueloliveira6/securemarket/envelope"
)

// ErrUntrusted marks a response that failed verification. The whole response
// must be discarded; there is no partial trust.
var ErrUntrusted = errors.New("response failed trust verification")

// Verifier validates envelopes against one trust root. The trust root is set
// at construction and never mutated; each envelope is verified independently,
// with no caching of past certificate checks.
type Verifier struct {
	trustRoot *rsa.PublicKey
}

// New creates a Verifier from the trust authority's PEM-encoded public key.
func New(trustRootPEM []byte) (*Verifier, error) {
	block, _ := pem.Decode(trustRootPEM)
	if block == nil {
		return nil, errors.New("failed to decode trust root PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trust root: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("trust root is not an RSA public key")
	}

	return &Verifier{trustRoot: rsaKey}, nil
}

// Verify reports whether the envelope is fully trustworthy.
func (v *Verifier) Verify(env *envelope.Envelope) bool {
	return v.Check(env) == nil
}

// Check runs both verification stages and returns the reason for rejection.
// Every returned error wraps ErrUntrusted.
func (v *Verifier) Check(env *envelope.Envelope) error {
	cert, err := v.checkCertificate([]byte(env.Certificado))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrusted, err)
	}

	if err := v.checkMessage(env, cert); err != nil {
		return fmt.Errorf("%w: %v", ErrUntrusted, err)
	}

	return nil
}

// checkCertificate parses the embedded certificate and verifies its issuer
// signature against the trust root using PKCS#1 v1.5 / SHA-256. This binds
// the embedded public key to an identity the gestor vouches for.
//
// Certificate expiry is deliberately not enforced; the protocol has no
// validity-window semantics.
func (v *Verifier) checkCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("failed to decode certificate PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	digest := sha256.Sum256(cert.RawTBSCertificate)
	if err := rsa.VerifyPKCS1v15(v.trustRoot, crypto.SHA256, digest[:], cert.Signature); err != nil {
		return nil, fmt.Errorf("certificate not issued by trust root: %w", err)
	}

	return cert, nil
}

// checkMessage verifies the envelope signature over the canonical encoding of
// the message using the certificate's key with PSS / SHA-256 / MGF1(SHA-256),
// the same scheme producers sign with.
func (v *Verifier) checkMessage(env *envelope.Envelope, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("certificate does not carry an RSA key")
	}

	signature, err := env.Signature()
	if err != nil {
		return err
	}

	signed, err := env.SignedBytes()
	if err != nil {
		return err
	}

	digest := sha256.Sum256(signed)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, opts); err != nil {
		return fmt.Errorf("message signature invalid: %w", err)
	}

	return nil
}
