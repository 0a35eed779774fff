package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("missing", ""), http.StatusNotFound},
		{RateLimited(0), http.StatusTooManyRequests},
		{Upstream(503, "Service Unavailable", nil), http.StatusInternalServerError},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestUpstreamMessage(t *testing.T) {
	assert.Equal(t, "blockfrost API error: 404 Not Found", Upstream(404, "Not Found", nil).Error())

	cause := errors.New("connection refused")
	e := Upstream(0, "", cause)
	assert.Equal(t, "blockfrost API error: connection refused", e.Error())
	assert.ErrorIs(t, e, cause)
}

func TestAsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("trace: resolve: %w", NotFound(`Token "X" not found`, "try HOSKY"))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, "try HOSKY", e.Suggestion)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("x", "")))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", Upstream(404, "Not Found", nil))))
	assert.False(t, IsNotFound(Upstream(500, "Internal Server Error", nil)))
	assert.False(t, IsNotFound(errors.New("plain")))
}
