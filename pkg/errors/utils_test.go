package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driverTimeout mimics an error type owned by a storage driver that
// projects itself onto the taxonomy through InternalError.
type driverTimeout struct {
	op string
}

func (d *driverTimeout) Error() string {
	return "driver timeout during " + d.op
}

func (d *driverTimeout) Transform() *Error {
	return New(CommonTimeout, d.Error()).AddContext("op", d.op)
}

func TestAsError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsError(nil))
	})

	t.Run("taxonomy error returned as-is", func(t *testing.T) {
		err := New(CommonConflict, "lock contention")
		assert.Same(t, err, AsError(err))
	})

	t.Run("taxonomy error found through stdlib wrapping", func(t *testing.T) {
		inner := New(CommonForbidden, "no grant")
		outer := fmt.Errorf("authorize: %w", inner)
		assert.Same(t, inner, AsError(outer))
	})

	t.Run("InternalError projects itself", func(t *testing.T) {
		coerced := AsError(&driverTimeout{op: "put"})
		require.NotNil(t, coerced)
		assert.True(t, coerced.HasCode(CommonTimeout))
		assert.Equal(t, "put", coerced.Context["op"])
	})

	t.Run("foreign error becomes internal", func(t *testing.T) {
		coerced := AsError(stderrors.New("no route to host"))
		require.NotNil(t, coerced)
		assert.True(t, coerced.HasCode(CommonInternal))
		assert.Equal(t, "no route to host", coerced.Message)
	})
}

func TestIsCatalogError(t *testing.T) {
	assert.True(t, IsCatalogError(New(CommonInternal, "x")))
	assert.True(t, IsCatalogError(fmt.Errorf("wrapped: %w", New(CommonInternal, "x"))))
	assert.False(t, IsCatalogError(stderrors.New("plain")))
	assert.False(t, IsCatalogError(&driverTimeout{op: "get"}), "InternalError is foreign until transformed")
}

func TestFormatErrorFallsBackForForeignErrors(t *testing.T) {
	assert.Equal(t, "plain", FormatError(stderrors.New("plain")))
}
