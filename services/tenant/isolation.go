package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/upb/tenant-governance/models"
)

// KeyDeriver produces per-tenant encryption keys from a master secret
type KeyDeriver struct {
	master []byte
}

// NewKeyDeriver creates a deriver. An empty secret gets a random one,
// which makes keys stable for the life of the process only.
func NewKeyDeriver(secret string) (*KeyDeriver, error) {
	master := []byte(secret)
	if len(master) == 0 {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
	}
	return &KeyDeriver{master: master}, nil
}

// Derive returns a hex-encoded 256-bit key bound to tenantID
func (d *KeyDeriver) Derive(tenantID string) (string, error) {
	r := hkdf.New(sha256.New, d.master, []byte("tenant-governance"), []byte("tenant:"+tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("failed to derive tenant key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

func isolationFor(t *models.Tenant, key string) models.IsolationConfig {
	mode := models.DataIsolationLogical
	if t.Plan == models.PlanEnterprise {
		mode = models.DataIsolationStrict
	}
	return models.IsolationConfig{
		Namespace:     "tenant-" + t.ID,
		DataIsolation: mode,
		EncryptionKey: key,
	}
}
