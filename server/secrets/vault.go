package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/gear6io/icecatalog/pkg/errors"
	vault "github.com/hashicorp/vault/api"
)

// VaultStore reads credentials from a HashiCorp Vault KV version 2
// mount. Refs map directly to secret paths under the mount.
type VaultStore struct {
	kv *vault.KVv2
}

type VaultOptions struct {
	URL      string
	User     string
	Password string
	Mount    string
}

// NewVaultStore authenticates against Vault's userpass backend and
// wraps the configured KV-v2 mount. Token renewal is left to Vault's
// client-side lifetime watcher in the caller if long-running.
func NewVaultStore(ctx context.Context, opts VaultOptions) (*VaultStore, error) {
	if opts.URL == "" || opts.Mount == "" {
		return nil, errors.New(ErrBackendConfig, "kv2 secrets backend requires url and mount")
	}
	cfg := vault.DefaultConfig()
	cfg.Address = opts.URL
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(ErrBackendConfig, err, "failed to build vault client")
	}

	if opts.User != "" {
		secret, err := client.Logical().WriteWithContext(ctx,
			fmt.Sprintf("auth/userpass/login/%s", opts.User),
			map[string]interface{}{"password": opts.Password})
		if err != nil {
			return nil, errors.Wrap(ErrBackendConfig, err, "vault userpass login failed")
		}
		if secret == nil || secret.Auth == nil {
			return nil, errors.New(ErrBackendConfig, "vault userpass login returned no token")
		}
		client.SetToken(secret.Auth.ClientToken)
	}

	return &VaultStore{kv: client.KVv2(strings.TrimSuffix(opts.Mount, "/"))}, nil
}

func (s *VaultStore) Resolve(ctx context.Context, ref string) (Credential, error) {
	secret, err := s.kv.Get(ctx, ref)
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return nil, errors.Newf(ErrSecretNotFound, "no secret stored under ref %q", ref)
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "vault read failed")
	}
	cred := Credential{}
	for k, v := range secret.Data {
		if str, ok := v.(string); ok {
			cred[k] = str
		}
	}
	return cred, nil
}

func (s *VaultStore) Put(ctx context.Context, ref string, cred Credential) error {
	data := make(map[string]interface{}, len(cred))
	for k, v := range cred {
		data[k] = v
	}
	if _, err := s.kv.Put(ctx, ref, data); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "vault write failed")
	}
	return nil
}

func (s *VaultStore) Delete(ctx context.Context, ref string) error {
	if err := s.kv.Delete(ctx, ref); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "vault delete failed")
	}
	return nil
}
