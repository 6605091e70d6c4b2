package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outermost code", func(t *testing.T) {
		inner := New(CodeNotFound, "missing")
		outer := Wrap(inner, CodePersistence, "load failed")

		assert.True(t, HasCode(outer, CodePersistence))
		assert.False(t, HasCode(outer, CodeNotFound))
	})

	t.Run("sees through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("context: %w", New(CodeConflict, "already resolved"))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodePersistence, "failed to create approval requests")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to create approval requests: connection reset", err.Error())
	assert.Equal(t, CodePersistence, CodeOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeConfiguration:        http.StatusBadRequest,
		CodeConfigurationMissing: http.StatusPreconditionFailed,
		CodeConflict:             http.StatusConflict,
		CodeForbidden:            http.StatusForbidden,
		CodeNotFound:             http.StatusNotFound,
		CodePersistence:          http.StatusServiceUnavailable,
		CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
