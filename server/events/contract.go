package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gear6io/icecatalog/server/model"
	"github.com/rs/zerolog"
)

// AllowAllVerifier approves every commit; the default when no external
// contract endpoint is configured.
type AllowAllVerifier struct{}

func (AllowAllVerifier) Verify(context.Context, string, *model.TableMetadata, *model.TableMetadata) (bool, string) {
	return true, ""
}

// WebhookVerifier POSTs the proposed (before, after) pair to an
// external endpoint before a commit is finalized. Any non-200 response
// or a body with allowed=false vetoes the commit; an unreachable
// endpoint also vetoes, since an unverifiable commit must not be
// assumed approved.
type WebhookVerifier struct {
	URL    string
	Client *http.Client
	Log    zerolog.Logger
}

func NewWebhookVerifier(url string, logger zerolog.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    logger,
	}
}

type verifyRequest struct {
	EntityID string               `json:"entity-id"`
	Before   *model.TableMetadata `json:"before"`
	After    *model.TableMetadata `json:"after"`
}

type verifyResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (v *WebhookVerifier) Verify(ctx context.Context, tabularID string, before, after *model.TableMetadata) (bool, string) {
	body, err := json.Marshal(verifyRequest{EntityID: tabularID, Before: before, After: after})
	if err != nil {
		return false, "proposed metadata not serializable for verification"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return false, "contract verifier request could not be built"
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		v.Log.Warn().Err(err).Str("tabular_id", tabularID).Msg("contract verifier unreachable")
		return false, "contract verifier unreachable"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "contract verifier rejected the commit"
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "contract verifier returned an unreadable response"
	}
	return out.Allowed, out.Reason
}
