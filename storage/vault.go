package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultBackend persists the inventory snapshot in a HashiCorp Vault KV v2
// secret. The snapshot bytes are stored base64-encoded under a single key.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

const vaultSnapshotKey = "snapshot"

// NewVaultBackend creates a new Vault snapshot backend using token
// authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "produtor/inventario")
//   - token: Vault token; falls back to the VAULT_TOKEN environment variable
//     when empty
//   - log: structured logger
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) secretPath() string {
	return fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)
}

// Load retrieves the snapshot from Vault.
// Returns ErrSnapshotNotFound if the secret does not exist.
func (b *VaultBackend) Load(ctx context.Context) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSnapshotNotFound
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	encoded, ok := data[vaultSnapshotKey].(string)
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot in Vault: %w", err)
	}

	b.log.Debug("Loaded inventory snapshot from Vault",
		slog.String("path", b.secretPath()),
		slog.Int("size", len(raw)))

	return raw, nil
}

// Save writes the snapshot, replacing the previous version.
func (b *VaultBackend) Save(ctx context.Context, data []byte) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			vaultSnapshotKey: base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(), payload); err != nil {
		return fmt.Errorf("failed to store snapshot in Vault: %w", err)
	}

	b.log.Debug("Saved inventory snapshot to Vault",
		slog.String("path", b.secretPath()),
		slog.Int("size", len(data)))

	return nil
}

// Available checks connectivity via the health endpoint.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.dataPath)
}

// LocationURI returns the URI that identifies this backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
