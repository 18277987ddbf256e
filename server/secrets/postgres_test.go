package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	store, err := NewPostgresStore(nil, "test-encryption-key")
	require.NoError(t, err)

	cred := Credential{
		"access-key-id":     "AKIAEXAMPLE",
		"secret-access-key": "secret",
		"role-arn":          "arn:aws:iam::123456789012:role/catalog",
	}

	nonce, ciphertext, err := store.seal(cred)
	require.NoError(t, err)
	assert.Len(t, nonce, nonceSize)
	assert.NotContains(t, string(ciphertext), "AKIAEXAMPLE")

	got, err := store.open(nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, cred, got)
}

func TestOpenWithWrongKey(t *testing.T) {
	a, err := NewPostgresStore(nil, "key-a")
	require.NoError(t, err)
	b, err := NewPostgresStore(nil, "key-b")
	require.NoError(t, err)

	nonce, ciphertext, err := a.seal(Credential{"token": "t"})
	require.NoError(t, err)

	_, err = b.open(nonce, ciphertext)
	require.Error(t, err)
}

func TestNonceRandomness(t *testing.T) {
	store, err := NewPostgresStore(nil, "k")
	require.NoError(t, err)

	n1, _, err := store.seal(Credential{"x": "1"})
	require.NoError(t, err)
	n2, _, err := store.seal(Credential{"x": "1"})
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestPostgresStoreRequiresKey(t *testing.T) {
	_, err := NewPostgresStore(nil, "")
	require.Error(t, err)
}
