// Package trusttest provides a throwaway trust authority for tests: an RSA
// root key, certificate issuance matching the gestor's signing scheme
// (SHA256WithRSA over the TBS bytes), a PSS envelope signer, and a fake
// gestor HTTP server.
package trusttest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/migueloliveira6/securemarket/envelope"
	"github.com/migueloliveira6/securemarket/gestor"
)

// Authority is a self-contained trust root for tests.
type Authority struct {
	Key    *rsa.PrivateKey
	caCert *x509.Certificate

	serial int64
	mu     sync.Mutex
}

// NewAuthority generates a fresh RSA-2048 root. Panics on entropy failure,
// which only happens in broken environments.
func NewAuthority() *Authority {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("trusttest: key generation failed: %v", err))
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gestor-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		panic(fmt.Sprintf("trusttest: CA certificate creation failed: %v", err))
	}

	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(fmt.Sprintf("trusttest: CA certificate parse failed: %v", err))
	}

	return &Authority{Key: key, caCert: caCert, serial: 2}
}

// TrustRootPEM returns the authority's public key in PEM form, as distributed
// out-of-band to marketplaces.
func (a *Authority) TrustRootPEM() []byte {
	der, err := x509.MarshalPKIXPublicKey(&a.Key.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("trusttest: public key marshal failed: %v", err))
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// IssueCertificate signs a producer certificate for the given identity and
// public key, the way the gestor does: SHA256WithRSA (PKCS#1 v1.5) over the
// TBS bytes.
func (a *Authority) IssueCertificate(nome string, pub crypto.PublicKey) []byte {
	a.mu.Lock()
	serial := a.serial
	a.serial++
	a.mu.Unlock()

	template := &x509.Certificate{
		SerialNumber:       big.NewInt(serial),
		Subject:            pkix.Name{CommonName: nome},
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(24 * time.Hour),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.caCert, pub, a.Key)
	if err != nil {
		panic(fmt.Sprintf("trusttest: certificate issuance failed: %v", err))
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// SignEnvelope produces a fully signed envelope the way a registered producer
// would: PSS / SHA-256 / MGF1(SHA-256) / maximal salt over the canonical
// message bytes.
func SignEnvelope(key *rsa.PrivateKey, certPEM []byte, message any) (*envelope.Envelope, error) {
	canonical, err := envelope.Canonical(message)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(canonical)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	signature, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], opts)
	if err != nil {
		return nil, err
	}

	return envelope.New(message, signature, certPEM)
}

// Server is a fake gestor: it issues certificates for whatever key registers
// and serves the directory of producers it has seen.
type Server struct {
	*httptest.Server

	authority *Authority

	mu        sync.Mutex
	producers []gestor.Producer
}

// NewServer starts a fake gestor backed by the authority.
// Callers own the lifecycle and must Close it.
func NewServer(authority *Authority) *Server {
	s := &Server{authority: authority}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /produtor_certificado", s.handleRegister)
	mux.HandleFunc("GET /produtor", s.handleDirectory)

	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req gestor.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid registration request", http.StatusBadRequest)
		return
	}

	block, _ := pem.Decode([]byte(req.PubKey))
	if block == nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.producers = append(s.producers, gestor.Producer{
		Nome:   req.Nome,
		IP:     req.IP,
		Porta:  req.Porta,
		Secure: 1,
	})
	s.mu.Unlock()

	certPEM := s.authority.IssueCertificate(req.Nome, pub)
	w.WriteHeader(http.StatusCreated)
	w.Write(certPEM)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	producers := make([]gestor.Producer, len(s.producers))
	copy(producers, s.producers)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(producers)
}

// Registrations returns how many registrations the server has accepted.
func (s *Server) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.producers)
}
