// Package storageaccess is the Storage Access Broker: it vends
// short-lived cloud credentials scoped to a table's storage prefix, and
// signs individual S3 requests on a client's behalf, so clients touch
// object storage without ever seeing the warehouse's long-lived
// secrets. It also owns the privileged object-store client the commit
// engine and the cleanup tasks write and delete metadata files through.
package storageaccess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/metrics"
	"github.com/gear6io/icecatalog/server/secrets"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrVendingDisabled = errors.MustNewCode("storageaccess.vending_disabled")
	ErrSigningDisabled = errors.MustNewCode("storageaccess.signing_disabled")
	ErrSigningScope    = errors.MustNewCode("storageaccess.signing_scope")
	ErrBadSignRequest  = errors.MustNewCode("storageaccess.bad_sign_request")
	ErrStorageFlavor   = errors.MustNewCode("storageaccess.unknown_flavor")
)

// AccessConfig is the `config` object attached to a loadTable response:
// Iceberg-standard keys carrying the vended credential.
type AccessConfig map[string]string

// Broker mediates all data-plane access grants.
type Broker struct {
	store   *catalogstore.Store
	secrets secrets.Store
	authz   authz.Authorizer
	log     zerolog.Logger

	credTTL           time.Duration // lifetime requested for vended credentials
	credRefresh       time.Duration // how long decrypted warehouse credentials may be cached
	cacheMu           sync.RWMutex
	credCache         map[credCacheKey]cachedCredential
	warehouseCredMu   sync.RWMutex
	warehouseCreds    map[string]cachedWarehouseCred
	mintGroup         singleflight.Group
}

type credCacheKey struct {
	WarehouseID string
	PrincipalID string
	TablePrefix string
	Scope       string // read | write
}

type cachedCredential struct {
	config    AccessConfig
	expiresAt time.Time
}

type cachedWarehouseCred struct {
	cred      secrets.Credential
	version   int64
	fetchedAt time.Time
}

type Options struct {
	Store              *catalogstore.Store
	Secrets            secrets.Store
	Authz              authz.Authorizer
	Logger             zerolog.Logger
	CredentialTTL      time.Duration
	CredentialRefresh  time.Duration
}

func NewBroker(opts Options) *Broker {
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = time.Hour
	}
	if opts.CredentialRefresh <= 0 {
		opts.CredentialRefresh = 5 * time.Minute
	}
	return &Broker{
		store:          opts.Store,
		secrets:        opts.Secrets,
		authz:          opts.Authz,
		log:            opts.Logger,
		credTTL:        opts.CredentialTTL,
		credRefresh:    opts.CredentialRefresh,
		credCache:      map[credCacheKey]cachedCredential{},
		warehouseCreds: map[string]cachedWarehouseCred{},
	}
}

// VendTableCredentials mints (or returns from cache) a short-term
// credential scoped to the tabular's prefix. The caller has already
// resolved the tabular; the broker re-checks the data-plane grant
// itself, since it is the last gate before cloud access.
func (b *Broker) VendTableCredentials(ctx context.Context, warehouseID, tabularID string, principal authz.Principal, write bool) (AccessConfig, error) {
	wh, err := b.store.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if wh.VendedCredentialsDisabled {
		return nil, errors.Newf(ErrVendingDisabled, "warehouse %q has vended credentials disabled", warehouseID)
	}

	action := authz.ActionReadTableData
	scope := "read"
	if write {
		action = authz.ActionWriteTableData
		scope = "write"
	}
	decision, err := authz.IsAllowed(ctx, b.authz, authz.Query{
		Principal: principal,
		Action:    action,
		Resource:  authz.Resource{Type: authz.EntityTable, ID: tabularID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		if decision == authz.DenyNotFound {
			return nil, errors.Newf(errors.CommonNotFound, "table %q not found", tabularID)
		}
		return nil, errors.Newf(errors.CommonForbidden, "not authorized for %s access to table %q", scope, tabularID)
	}

	tabular, err := b.store.GetTabular(ctx, tabularID)
	if err != nil {
		return nil, err
	}

	key := credCacheKey{
		WarehouseID: warehouseID,
		PrincipalID: principal.ID,
		TablePrefix: tabular.Location,
		Scope:       scope,
	}

	b.cacheMu.RLock()
	cached, ok := b.credCache[key]
	b.cacheMu.RUnlock()
	// Entries expire one minute before the credential itself so a
	// client never receives a token that dies mid-request.
	if ok && time.Now().Before(cached.expiresAt.Add(-time.Minute)) {
		return cached.config, nil
	}

	flightKey := fmt.Sprintf("%s|%s|%s|%s", key.WarehouseID, key.PrincipalID, key.TablePrefix, key.Scope)
	minted, err, _ := b.mintGroup.Do(flightKey, func() (interface{}, error) {
		cred, err := b.warehouseCredential(ctx, wh)
		if err != nil {
			return nil, err
		}
		cfg, expiresAt, err := b.mint(ctx, wh, cred, tabular.Location, write)
		if err != nil {
			return nil, err
		}
		metrics.CredentialMints.WithLabelValues(wh.Flavor).Inc()
		b.cacheMu.Lock()
		b.credCache[key] = cachedCredential{config: cfg, expiresAt: expiresAt}
		b.cacheMu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return minted.(AccessConfig), nil
}

func (b *Broker) mint(ctx context.Context, wh *catalogstore.Warehouse, cred secrets.Credential, tablePrefix string, write bool) (AccessConfig, time.Time, error) {
	switch wh.Flavor {
	case "s3":
		return b.mintS3(ctx, wh, cred, tablePrefix, write)
	case "adls2":
		return b.mintADLS(ctx, wh, cred, tablePrefix, write)
	case "gcs":
		return b.mintGCS(ctx, wh, cred, tablePrefix, write)
	default:
		return nil, time.Time{}, errors.Newf(ErrStorageFlavor, "warehouse %q has unknown storage flavor %q", wh.ID, wh.Flavor)
	}
}

// warehouseCredential resolves (and briefly caches) the warehouse's own
// long-lived credential from the secret store. The cache entry is
// keyed to the warehouse's version counter, so a management-API update
// to the credential ref invalidates it immediately.
func (b *Broker) warehouseCredential(ctx context.Context, wh *catalogstore.Warehouse) (secrets.Credential, error) {
	b.warehouseCredMu.RLock()
	cached, ok := b.warehouseCreds[wh.ID]
	b.warehouseCredMu.RUnlock()
	if ok && cached.version == wh.CacheVersion && time.Since(cached.fetchedAt) < b.credRefresh {
		return cached.cred, nil
	}

	cred, err := b.secrets.Resolve(ctx, wh.CredentialRef)
	if err != nil {
		return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "warehouse credential retrieval failed")
	}
	b.warehouseCredMu.Lock()
	b.warehouseCreds[wh.ID] = cachedWarehouseCred{cred: cred, version: wh.CacheVersion, fetchedAt: time.Now()}
	b.warehouseCredMu.Unlock()
	return cred, nil
}
