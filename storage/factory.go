package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
)

// NewBackendFromURI creates a snapshot backend from a location URI.
//
// Supported schemes:
//   - file:// - local filesystem
//   - s3://   - Amazon S3 or compatible object storage
//   - vault://- HashiCorp Vault KV v2
//   - mem://  - in-memory, volatile
//
// Returns ErrInvalidLocationURI (wrapped) if the URI is malformed or the
// scheme is unsupported.
func NewBackendFromURI(locationURI string, log *slog.Logger) (Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return createFileBackend(u, log)
	case "s3":
		return createS3Backend(u, log)
	case "vault":
		return createVaultBackend(u, log)
	case "mem":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileBackend handles file://path URIs.
func createFileBackend(u *url.URL, log *slog.Logger) (Backend, error) {
	filePath := u.Path
	if u.Host != "" {
		// Relative form file://dir/produtos.json puts the first segment in Host.
		filePath = path.Join(u.Host, u.Path)
	}
	if filePath == "" {
		return nil, fmt.Errorf("%w: file URI has empty path", ErrInvalidLocationURI)
	}
	return NewFileBackend(filePath, log)
}

// createS3Backend handles s3://bucket/object-key?region=xx&endpoint=yy URIs.
// Credentials may be given as user:pass in the authority section.
func createS3Backend(u *url.URL, log *slog.Logger) (Backend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI has empty bucket", ErrInvalidLocationURI)
	}
	objectKey := strings.TrimPrefix(u.Path, "/")
	if objectKey == "" {
		return nil, fmt.Errorf("%w: s3 URI has empty object key", ErrInvalidLocationURI)
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucket, objectKey, region, query.Get("endpoint"), accessKey, secretKey, log)
}

// createVaultBackend handles vault://host:port/mount/path?token=xx URIs.
func createVaultBackend(u *url.URL, log *slog.Logger) (Backend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI has empty host", ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI path must be /mount/datapath", ErrInvalidLocationURI)
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, parts[0], parts[1], u.Query().Get("token"), log)
}
