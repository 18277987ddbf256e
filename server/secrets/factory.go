package secrets

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/config"
	"github.com/uptrace/bun"
)

// New selects the secrets backend from configuration. The variant list
// is closed: an unknown backend is a
// startup error, never a silent default.
func New(ctx context.Context, cfg config.SecretsConfig, db *bun.DB, encryptionKey string) (Store, error) {
	switch cfg.Backend {
	case "", "postgres":
		return NewPostgresStore(db, encryptionKey)
	case "kv2":
		return NewVaultStore(ctx, VaultOptions{
			URL:      cfg.URL,
			User:     cfg.User,
			Password: cfg.Password,
			Mount:    cfg.Mount,
		})
	default:
		return nil, errors.Newf(ErrBackendConfig, "unknown secrets backend %q", cfg.Backend)
	}
}
