package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(CommonContractViolated, "external verifier vetoed the commit")
	assert.Equal(t, CommonContractViolated.String(), err.Code.String())
	assert.Equal(t, "external verifier vetoed the commit", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stderrors.New("connection reset by peer")
	err := Wrap(CommonStorageUnavailable, cause, "metadata file write failed")

	assert.Equal(t, "metadata file write failed: connection reset by peer", err.Error())
	assert.True(t, stderrors.Is(err, cause), "stdlib Is must see through the wrap")
	assert.Same(t, cause, err.Unwrap())
}

func TestNewfAndWrapfFormat(t *testing.T) {
	err := Newf(CommonConflict, "requirement %d of %d failed", 2, 5)
	assert.Equal(t, "requirement 2 of 5 failed", err.Message)

	wrapped := Wrapf(CommonAuthorizationFailure, err, "backend %q unavailable", "relation")
	assert.Equal(t, `backend "relation" unavailable`, wrapped.Message)
	assert.Same(t, err, wrapped.Unwrap())
}

func TestWrapReclassifies(t *testing.T) {
	// Wrapping re-codes an error; the outer code wins and HasCode does
	// not search the chain.
	inner := New(CommonNotFound, "tabular absent")
	outer := Wrap(CommonConflict, inner, "commit requirement failed")

	assert.True(t, outer.HasCode(CommonConflict))
	assert.False(t, outer.HasCode(CommonNotFound))
	assert.Equal(t, CommonConflict.String(), GetCode(outer))
}

func TestAddContextChains(t *testing.T) {
	err := New(CommonInvalidInput, "bad identifier").
		AddContext("warehouse_id", "wh-1").
		AddContext("tabular", "sales.orders")

	assert.Equal(t, "wh-1", err.Context["warehouse_id"])
	assert.Equal(t, "sales.orders", err.Context["tabular"])
	assert.Equal(t, err.Context, GetContext(err))
}

func TestGetCodeOnForeignError(t *testing.T) {
	assert.Empty(t, GetCode(stderrors.New("not ours")))
	assert.Nil(t, GetContext(stderrors.New("not ours")))
}

func TestGetCodeSeesThroughStdlibWrapping(t *testing.T) {
	inner := New(CommonAlreadyExists, "duplicate namespace")
	outer := fmt.Errorf("create failed: %w", inner)

	assert.True(t, IsCatalogError(outer))
	assert.Equal(t, CommonAlreadyExists.String(), GetCode(outer))
}

func TestFormatErrorRendering(t *testing.T) {
	err := Wrap(CommonStorageUnavailable, stderrors.New("dial tcp: timeout"), "sts mint failed").
		AddContext("flavor", "s3").
		AddContext("bucket", "b")

	out := FormatError(err)
	assert.Contains(t, out, "[common.storage_unavailable] sts mint failed")
	assert.Contains(t, out, "bucket=b flavor=s3", "context keys render sorted")
	assert.Contains(t, out, "caused by: dial tcp: timeout")
}

func TestStackTraceNamesConstructionSite(t *testing.T) {
	err := New(CommonInternal, "boom")
	stack := err.StackTrace()
	require.NotEmpty(t, stack)
	assert.True(t, strings.Contains(stack[0], "TestStackTraceNamesConstructionSite"),
		"innermost frame should be the constructor's caller, got %q", stack[0])
}

func TestHTTPStatusForTaxonomy(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CommonNotFound, http.StatusNotFound},
		{CommonForbidden, http.StatusForbidden},
		{CommonUnauthorized, http.StatusUnauthorized},
		{CommonAlreadyExists, http.StatusConflict},
		{CommonConflict, http.StatusConflict},
		{CommonContractViolated, http.StatusConflict},
		{CommonInvalidInput, http.StatusBadRequest},
		{CommonStorageUnavailable, http.StatusBadGateway},
		{CommonAuthorizationFailure, http.StatusInternalServerError},
		{CommonInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(New(tt.code, "x")), tt.code.String())
	}
}

func TestHTTPStatusDefaultsTo500ForSubsystemCodes(t *testing.T) {
	// Subsystem codes are not in the projection table; the edge treats
	// them as internal unless a handler remaps them first.
	err := New(MustNewCode("tasks.cancelled"), "stopped")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestToBody(t *testing.T) {
	err := New(CommonContractViolated, "schema change frozen").AddContext("table", "orders")

	body := ToBody(err, false)
	assert.Equal(t, "contract_violated", body.Error.Type)
	assert.Equal(t, "schema change frozen", body.Error.Message)
	assert.Equal(t, "common.contract_violated", body.Error.Code)
	assert.Empty(t, body.Error.Stack)

	withStack := ToBody(err, true)
	assert.NotEmpty(t, withStack.Error.Stack)
}
