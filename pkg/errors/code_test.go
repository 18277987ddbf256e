package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "subsystem and condition", input: "commit.conflict"},
		{name: "underscores and digits", input: "storageaccess.signing_scope_v2"},
		{name: "missing dot", input: "conflict", wantErr: true},
		{name: "two dots", input: "commit.requirement.failed", wantErr: true},
		{name: "empty name half", input: "commit.", wantErr: true},
		{name: "empty package half", input: ".conflict", wantErr: true},
		{name: "uppercase rejected", input: "Commit.conflict", wantErr: true},
		{name: "hyphen rejected", input: "commit.requirement-failed", wantErr: true},
		{name: "leading digit rejected", input: "commit.4xx", wantErr: true},
		{name: "redundant err spelled out", input: "commit.lock_err", wantErr: true},
		{name: "redundant error spelled out", input: "tasks.cron_error", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := NewCode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, code.IsValid())
				return
			}
			require.NoError(t, err)
			assert.True(t, code.IsValid())
			assert.Equal(t, tt.input, code.String())
		})
	}
}

func TestCodeHalves(t *testing.T) {
	code := MustNewCode("catalogstore.ambiguous_location")
	assert.Equal(t, "catalogstore", code.Package())
	assert.Equal(t, "ambiguous_location", code.Name())
}

func TestCodeEquals(t *testing.T) {
	assert.True(t, MustNewCode("commit.conflict").Equals(MustNewCode("commit.conflict")))
	assert.False(t, MustNewCode("commit.conflict").Equals(MustNewCode("commit.invalid_update")))
	assert.False(t, MustNewCode("commit.conflict").Equals(MustNewCode("tasks.conflict")))
}

func TestMustNewCodePanicsOnBadLiteral(t *testing.T) {
	assert.Panics(t, func() { MustNewCode("no-dot-here") })
}

func TestZeroCodeIsInvalid(t *testing.T) {
	var zero Code
	assert.False(t, zero.IsValid())
	assert.Empty(t, zero.String())
}

func TestCommonCodesAreWellFormed(t *testing.T) {
	for _, code := range []Code{
		CommonInternal, CommonNotFound, CommonValidation, CommonTimeout,
		CommonUnauthorized, CommonForbidden, CommonConflict, CommonUnsupported,
		CommonInvalidInput, CommonAlreadyExists, CommonContractViolated,
		CommonStorageUnavailable, CommonAuthorizationFailure,
	} {
		assert.True(t, code.IsValid(), code.String())
		assert.Equal(t, "common", code.Package(), code.String())
	}
}
