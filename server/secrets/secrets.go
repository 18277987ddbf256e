// Package secrets resolves warehouse credential references into the
// actual cloud credentials the storage access broker signs and vends
// with. Two backends exist: postgres (column-encrypted rows in the
// catalog database) and kv2 (HashiCorp Vault KV version 2). The
// backend is chosen once at startup.
package secrets

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
)

var (
	ErrSecretNotFound = errors.MustNewCode("secrets.not_found")
	ErrBackendConfig  = errors.MustNewCode("secrets.backend_config")
	ErrSealFailed     = errors.MustNewCode("secrets.seal_failed")
	ErrOpenFailed     = errors.MustNewCode("secrets.open_failed")
)

// Credential is a flat key/value credential document. Well-known keys
// per storage flavor:
//
//	s3:    access-key-id, secret-access-key, role-arn, external-id
//	adls2: client-id, client-secret, tenant-id
//	gcs:   service-account-key (JSON), token
type Credential map[string]string

// Store is the pluggable secrets backend. Refs are the opaque
// credential_ref strings recorded on warehouse rows.
type Store interface {
	Resolve(ctx context.Context, ref string) (Credential, error)
	Put(ctx context.Context, ref string, cred Credential) error
	Delete(ctx context.Context, ref string) error
}
