// Package identity holds a producer's keypair and certificate and turns
// inventory results into signed envelopes.
//
// The manager's lifecycle is a small state machine: it starts UNREGISTERED,
// moves to REGISTERED on a successful registration with the gestor, and
// re-registers on a fixed interval, replacing the certificate wholesale.
// A failed registration never discards a previously held certificate, so
// in-flight signing keeps working on the last good one.
package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/atomic"

	"github.com/migueloliveira6/securemarket/envelope"
	"github.com/migueloliveira6/securemarket/gestor"
)

// ErrNoCertificate is returned by Sign when the producer has never completed
// a registration. Callers must treat it as fatal for the request at hand.
var ErrNoCertificate = errors.New("no certificate held, producer not registered")

// Config configures a Manager.
type Config struct {
	// Nome is the producer's identity as registered with the gestor.
	Nome string

	// IP and Porta form the producer's advertised address.
	IP    string
	Porta int

	// Issuer is the gestor registration endpoint.
	Issuer gestor.CertificateIssuer

	// Interval between renewals after a successful registration.
	Interval time.Duration

	// RetryMax caps the backoff between attempts after a failure.
	RetryMax time.Duration

	Log *slog.Logger
}

// Manager owns one producer's keypair and current certificate. The keypair is
// generated once and reused across re-registrations; only the certificate is
// replaced. Safe for concurrent use: signing reads the certificate
// atomically, the renewal loop is the only writer.
type Manager struct {
	cfg Config
	key *rsa.PrivateKey
	log *slog.Logger

	cert atomic.String // current certificate, PEM; empty when unregistered
}

// NewManager generates a fresh RSA-2048 keypair and returns an unregistered
// manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("identity: issuer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = cfg.Interval
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	return &Manager{cfg: cfg, key: key, log: cfg.Log}, nil
}

// PublicKeyPEM serializes the manager's public key for registration.
func (m *Manager) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&m.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Register performs one registration round-trip with the gestor. On success
// the returned certificate becomes current; on failure the previous
// certificate (if any) remains in use.
func (m *Manager) Register(ctx context.Context) error {
	pubPEM, err := m.PublicKeyPEM()
	if err != nil {
		return err
	}

	certPEM, err := m.cfg.Issuer.RegisterProducer(ctx, gestor.RegistrationRequest{
		IP:     m.cfg.IP,
		Porta:  m.cfg.Porta,
		Nome:   m.cfg.Nome,
		PubKey: string(pubPEM),
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if block, _ := pem.Decode(certPEM); block == nil || block.Type != "CERTIFICATE" {
		return errors.New("gestor returned malformed certificate")
	}

	m.cert.Store(string(certPEM))
	m.log.Info("Certificate obtained from gestor", "nome", m.cfg.Nome)
	return nil
}

// Registered reports whether a certificate is currently held.
func (m *Manager) Registered() bool {
	return m.cert.Load() != ""
}

// Certificate returns the current certificate PEM, or nil when unregistered.
func (m *Manager) Certificate() []byte {
	cert := m.cert.Load()
	if cert == "" {
		return nil
	}
	return []byte(cert)
}

// Run re-registers until the context is canceled: on a fixed interval while
// registrations succeed, with a capped backoff while they fail. The first
// attempt happens one interval after start, so a registration the caller just
// performed is not repeated back to back.
func (m *Manager) Run(ctx context.Context) {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    m.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	wait := m.cfg.Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := m.Register(ctx); err != nil {
			wait = retry.Duration()
			m.log.Warn("Registration attempt failed",
				"err", err, "retryIn", wait, "registered", m.Registered())
		} else {
			retry.Reset()
			wait = m.cfg.Interval
		}
	}
}

// Sign wraps a payload in a signed envelope using the current certificate.
// The signature is RSA-PSS over the canonical encoding of the message, with
// SHA-256 digest, MGF1/SHA-256 mask and maximal salt length.
func (m *Manager) Sign(message any) (*envelope.Envelope, error) {
	certPEM := m.cert.Load()
	if certPEM == "" {
		return nil, ErrNoCertificate
	}

	canonical, err := envelope.Canonical(message)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(canonical)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	signature, err := rsa.SignPSS(rand.Reader, m.key, crypto.SHA256, digest[:], opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	return envelope.New(message, signature, []byte(certPEM))
}
