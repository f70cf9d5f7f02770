package gestor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/migueloliveira6/securemarket/storage"
)

const (
	caCertValidity       = 10 * 365 * 24 * time.Hour
	producerCertValidity = 365 * 24 * time.Hour
)

// Authority holds the gestor's signing key and issues producer certificates.
// The key is persisted through a storage backend so the trust root survives
// restarts; the self-signed CA certificate is rebuilt from it on every start.
type Authority struct {
	key    *rsa.PrivateKey
	caCert *x509.Certificate
	log    *slog.Logger

	mu sync.Mutex
}

// LoadOrCreateAuthority loads the CA key from the backend, generating and
// persisting a fresh RSA-2048 key if none exists yet.
func LoadOrCreateAuthority(ctx context.Context, backend storage.Backend, log *slog.Logger) (*Authority, error) {
	key, err := loadKey(ctx, backend)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		log.Info("No CA key found, generating a new one", "backend", backend.Name())
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("could not generate CA key: %w", err)
		}
		keyPEM := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		if err := backend.Save(ctx, keyPEM); err != nil {
			return nil, fmt.Errorf("could not persist CA key: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	caCert, err := buildCACert(key)
	if err != nil {
		return nil, err
	}

	return &Authority{key: key, caCert: caCert, log: log}, nil
}

func loadKey(ctx context.Context, backend storage.Backend) (*rsa.PrivateKey, error) {
	keyPEM, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, errors.New("stored CA key is not a PEM RSA private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse stored CA key: %w", err)
	}
	return key, nil
}

func buildCACert(key *rsa.PrivateKey) (*x509.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("could not generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"gestor"},
			CommonName:   "gestor CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(caCertValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("could not create CA certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// TrustRootPEM returns the authority's public key in PEM form. Marketplaces
// pin this value; everything a producer signs chains up to it.
func (a *Authority) TrustRootPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&a.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not marshal trust root: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// IssueCertificate signs a producer certificate over the submitted public
// key. The produced certificate uses SHA256WithRSA, which is what verifiers
// check the issuer signature with.
func (a *Authority) IssueCertificate(req RegistrationRequest, pub *rsa.PublicKey) ([]byte, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("could not generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:         req.Nome,
			OrganizationalUnit: []string{fmt.Sprintf("%s:%d", req.IP, req.Porta)},
		},
		NotBefore:          time.Now(),
		NotAfter:           time.Now().Add(producerCertValidity),
		SignatureAlgorithm: x509.SHA256WithRSA,
		KeyUsage:           x509.KeyUsageDigitalSignature,
	}
	if ip := net.ParseIP(req.IP); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	a.mu.Lock()
	der, err := x509.CreateCertificate(rand.Reader, &template, a.caCert, pub, a.key)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("could not create producer certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}
