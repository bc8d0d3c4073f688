package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{AuthenticationError("bad token", nil), http.StatusUnauthorized},
		{ValidationError("bad input"), http.StatusBadRequest},
		{MalformedMessageError("bad payload", nil), http.StatusBadRequest},
		{StoreUnavailableError("redis down", nil), http.StatusServiceUnavailable},
		{BrokerError("broker down", nil), http.StatusServiceUnavailable},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{TransportError("send failed", nil), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus(), "type %s", tc.err.Type)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := TransportError("send failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("outer: %w", AuthenticationError("rejected", nil))

	assert.True(t, IsType(err, TypeAuthentication))
	assert.False(t, IsType(err, TypeTransport))
	assert.False(t, IsType(stderrors.New("plain"), TypeAuthentication))
}

func TestAsStructuredError(t *testing.T) {
	t.Run("passes through structured errors", func(t *testing.T) {
		orig := BrokerError("down", nil)
		assert.Same(t, orig, AsStructuredError(orig))
	})

	t.Run("wraps plain errors as internal", func(t *testing.T) {
		got := AsStructuredError(stderrors.New("plain"))
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})
}

func TestWithContextChaining(t *testing.T) {
	err := ValidationError("bad input").
		WithContext("field", "user_id").
		WithContext("value", 42)

	resp := err.ToResponse()
	assert.Equal(t, "bad input", resp.Error)
	assert.Equal(t, "user_id", resp.Context["field"])
	assert.Equal(t, 42, resp.Context["value"])
}
