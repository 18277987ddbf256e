package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	tokens map[string]authz.Principal
}

func (r *staticResolver) Resolve(_ context.Context, token string) (authz.Principal, error) {
	p, ok := r.tokens[token]
	if !ok {
		return authz.Principal{}, errors.New(errors.CommonUnauthorized, "unknown token")
	}
	return p, nil
}

func newTestGateway() *Gateway {
	return New(Options{
		Principals: &staticResolver{tokens: map[string]authz.Principal{
			"good-token": {ID: "user-1"},
		}},
		Logger: zerolog.Nop(),
	})
}

func TestSignRejectsMissingBearer(t *testing.T) {
	g := newTestGateway()

	req := httptest.NewRequest("POST", "/wh-1/v1/aws/s3/sign", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSignRejectsUnknownToken(t *testing.T) {
	g := newTestGateway()

	req := httptest.NewRequest("POST", "/wh-1/v1/aws/s3/sign", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer bad-token")

	resp, err := g.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSignRejectsMalformedBody(t *testing.T) {
	g := newTestGateway()

	req := httptest.NewRequest("POST", "/wh-1/v1/aws/s3/sign", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good-token")

	resp, err := g.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
