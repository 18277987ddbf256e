package storageaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/secrets"
	"github.com/tidwall/gjson"
)

const gcsTokenExchangeEndpoint = "https://sts.googleapis.com/v1/token"

// mintGCS exchanges the warehouse's service-account token for a
// downscoped token whose credential-access boundary is the table
// prefix, via Google's STS token-exchange endpoint. The client sees
// only the downscoped token under the Iceberg gcs.oauth2.* keys.
func (b *Broker) mintGCS(ctx context.Context, wh *catalogstore.Warehouse, cred secrets.Credential, tablePrefix string, write bool) (AccessConfig, time.Time, error) {
	sourceToken := cred["token"]
	if sourceToken == "" {
		return nil, time.Time{}, errors.New(errors.CommonStorageUnavailable, "warehouse credential carries no gcs oauth token")
	}

	bucket, prefix, err := splitGCSLocation(tablePrefix)
	if err != nil {
		return nil, time.Time{}, err
	}

	boundary, err := json.Marshal(accessBoundary(bucket, prefix, write))
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonInternal, err, "failed to build access boundary")
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:token-exchange")
	form.Set("subject_token_type", "urn:ietf:params:oauth:token-type:access_token")
	form.Set("requested_token_type", "urn:ietf:params:oauth:token-type:access_token")
	form.Set("subject_token", sourceToken)
	form.Set("options", string(boundary))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gcsTokenExchangeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonInternal, err, "failed to build token-exchange request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "gcs token exchange unreachable")
	}
	defer resp.Body.Close()

	var body strings.Builder
	if _, err := io.Copy(&body, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "gcs token exchange response unreadable")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, errors.Newf(errors.CommonStorageUnavailable, "gcs token exchange returned %d", resp.StatusCode)
	}

	token := gjson.Get(body.String(), "access_token").String()
	if token == "" {
		return nil, time.Time{}, errors.New(errors.CommonStorageUnavailable, "gcs token exchange returned no access token")
	}
	ttl := gjson.Get(body.String(), "expires_in").Int()
	if ttl <= 0 {
		ttl = int64(b.credTTL / time.Second)
	}
	expiresAt := time.Now().Add(time.Duration(ttl) * time.Second)

	return AccessConfig{
		"gcs.oauth2.token":            token,
		"gcs.oauth2.token-expires-at": fmt.Sprintf("%d", expiresAt.UnixMilli()),
	}, expiresAt, nil
}

// accessBoundary is the credential-access-boundary document for a
// downscoped token: one rule limiting the token to the table prefix.
func accessBoundary(bucket, prefix string, write bool) map[string]interface{} {
	role := "inRole:roles/storage.objectViewer"
	if write {
		role = "inRole:roles/storage.objectAdmin"
	}
	return map[string]interface{}{
		"accessBoundary": map[string]interface{}{
			"accessBoundaryRules": []map[string]interface{}{
				{
					"availableResource":    fmt.Sprintf("//storage.googleapis.com/projects/_/buckets/%s", bucket),
					"availablePermissions": []string{role},
					"availabilityCondition": map[string]string{
						"expression": fmt.Sprintf(
							`resource.name.startsWith("projects/_/buckets/%s/objects/%s")`, bucket, prefix),
					},
				},
			},
		},
	}
}

func splitGCSLocation(location string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(location, "gs://")
	if trimmed == location {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q is not a gcs URI", location)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q has no bucket/prefix split", location)
	}
	return parts[0], strings.TrimSuffix(parts[1], "/"), nil
}
