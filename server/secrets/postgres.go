package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"io"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// PostgresStore keeps credentials in the catalog database, sealed with
// a key derived from the pg-encryption-key startup option. Plaintext
// never reaches a table; losing the encryption key makes every stored
// credential unrecoverable, which is the intended failure mode.
type PostgresStore struct {
	db  *bun.DB
	key [32]byte
}

// NewPostgresStore derives the sealing key from encryptionKey via
// HKDF-SHA256 with a fixed, versioned info string so a future key
// rotation scheme can derive side-by-side keys from the same input.
func NewPostgresStore(db *bun.DB, encryptionKey string) (*PostgresStore, error) {
	if encryptionKey == "" {
		return nil, errors.New(ErrBackendConfig, "postgres secrets backend requires pg-encryption-key")
	}
	s := &PostgresStore{db: db}
	kdf := hkdf.New(sha256.New, []byte(encryptionKey), nil, []byte("icecatalog/secret-store/v1"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, errors.Wrap(ErrBackendConfig, err, "failed to derive secret-store key")
	}
	return s, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, ref string) (Credential, error) {
	row := new(catalogstore.Secret)
	err := s.db.NewSelect().Model(row).Where("ref = ?", ref).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Newf(ErrSecretNotFound, "no secret stored under ref %q", ref)
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to read secret row")
	}
	return s.open(row.Nonce, row.Ciphertext)
}

func (s *PostgresStore) Put(ctx context.Context, ref string, cred Credential) error {
	nonce, ciphertext, err := s.seal(cred)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(&catalogstore.Secret{
		Ref:        ref,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}).
		On("CONFLICT (ref) DO UPDATE").
		Set("nonce = EXCLUDED.nonce").
		Set("ciphertext = EXCLUDED.ciphertext").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to write secret row")
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ref string) error {
	_, err := s.db.NewDelete().Model((*catalogstore.Secret)(nil)).Where("ref = ?", ref).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to delete secret row")
	}
	return nil
}

func (s *PostgresStore) seal(cred Credential) (nonce, ciphertext []byte, err error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, nil, errors.Wrap(ErrSealFailed, err, "failed to marshal credential")
	}
	var n [nonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, nil, errors.Wrap(ErrSealFailed, err, "failed to generate nonce")
	}
	return n[:], secretbox.Seal(nil, plaintext, &n, &s.key), nil
}

func (s *PostgresStore) open(nonce, ciphertext []byte) (Credential, error) {
	if len(nonce) != nonceSize {
		return nil, errors.New(ErrOpenFailed, "stored nonce has wrong length")
	}
	var n [nonceSize]byte
	copy(n[:], nonce)
	plaintext, ok := secretbox.Open(nil, ciphertext, &n, &s.key)
	if !ok {
		return nil, errors.New(ErrOpenFailed, "secret does not decrypt with the configured key")
	}
	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err, "decrypted secret is not a credential document")
	}
	return cred, nil
}
