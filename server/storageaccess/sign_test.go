package storageaccess

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "virtual host style",
			uri:        "https://b.s3.eu-central-1.amazonaws.com/wh1/tbl-orders/data/a.parquet",
			wantBucket: "b",
			wantKey:    "wh1/tbl-orders/data/a.parquet",
		},
		{
			name:       "path style on aws",
			uri:        "https://s3.eu-central-1.amazonaws.com/b/wh1/tbl-orders/data/a.parquet",
			wantBucket: "b",
			wantKey:    "wh1/tbl-orders/data/a.parquet",
		},
		{
			name:       "custom endpoint is path style",
			uri:        "http://minio.local:9000/b/wh1/tbl-orders/metadata/00001-x.metadata.json",
			wantBucket: "b",
			wantKey:    "wh1/tbl-orders/metadata/00001-x.metadata.json",
		},
		{
			name:    "bucket without key",
			uri:     "http://minio.local:9000/b",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseS3URL(mustParse(t, tt.uri))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestSplitS3Location(t *testing.T) {
	bucket, key, err := splitS3Location("s3://b/wh1/tbl-orders/")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "wh1/tbl-orders", key)

	_, _, err = splitS3Location("gs://b/x")
	require.Error(t, err)

	_, _, err = splitS3Location("s3://bucket-only")
	require.Error(t, err)
}

func TestSplitADLSLocation(t *testing.T) {
	container, dir, err := splitADLSLocation("abfss://data@acct.dfs.core.windows.net/wh1/tbl", "acct")
	require.NoError(t, err)
	assert.Equal(t, "data", container)
	assert.Equal(t, "wh1/tbl", dir)

	_, _, err = splitADLSLocation("abfss://data@other.dfs.core.windows.net/wh1", "acct")
	require.Error(t, err, "foreign account must be rejected")

	_, _, err = splitADLSLocation("s3://b/k", "acct")
	require.Error(t, err)
}

func TestSplitGCSLocation(t *testing.T) {
	bucket, prefix, err := splitGCSLocation("gs://b/wh1/tbl/")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "wh1/tbl", prefix)

	_, _, err = splitGCSLocation("s3://b/k")
	require.Error(t, err)
}

func TestScopedS3Policy(t *testing.T) {
	read := scopedS3Policy("b", "wh1/tbl", false)
	assert.Contains(t, read, `"arn:aws:s3:::b/wh1/tbl/*"`)
	assert.Contains(t, read, "s3:GetObject")
	assert.NotContains(t, read, "s3:PutObject")

	write := scopedS3Policy("b", "wh1/tbl", true)
	assert.Contains(t, write, "s3:PutObject")
	assert.Contains(t, write, "s3:DeleteObject")
}

func TestAccessBoundaryScopesPrefix(t *testing.T) {
	boundary := accessBoundary("b", "wh1/tbl", false)
	rules := boundary["accessBoundary"].(map[string]interface{})["accessBoundaryRules"].([]map[string]interface{})
	require.Len(t, rules, 1)

	cond := rules[0]["availabilityCondition"].(map[string]string)
	assert.True(t, strings.Contains(cond["expression"], "buckets/b/objects/wh1/tbl"))

	perms := rules[0]["availablePermissions"].([]string)
	assert.Equal(t, []string{"inRole:roles/storage.objectViewer"}, perms)

	writeRules := accessBoundary("b", "wh1/tbl", true)["accessBoundary"].(map[string]interface{})["accessBoundaryRules"].([]map[string]interface{})
	assert.Equal(t, []string{"inRole:roles/storage.objectAdmin"}, writeRules[0]["availablePermissions"].([]string))
}

func TestAllowedSignMethods(t *testing.T) {
	for _, m := range []string{"GET", "HEAD", "PUT", "POST", "DELETE"} {
		assert.True(t, allowedSignMethods[m], m)
	}
	assert.False(t, allowedSignMethods["PATCH"])
	assert.False(t, allowedSignMethods["OPTIONS"])
}
