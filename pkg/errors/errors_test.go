package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromError(t *testing.T) {
	req := require.New(t)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"storage wrapped", fmt.Errorf("%w: connection refused", ErrStorageUnavailable), http.StatusServiceUnavailable},
		{"invalid pair", ErrInvalidConversationPair, http.StatusBadRequest},
		{"not found wrapped", fmt.Errorf("message 7: %w", ErrNotFound), http.StatusNotFound},
		{"unknown user", ErrUnknownUser, http.StatusUnprocessableEntity},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"token expired", ErrTokenExpired, http.StatusUnauthorized},
		{"api error", NewAPIError("teapot", http.StatusTeapot), http.StatusTeapot},
		{"unknown", New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req.Equal(tt.want, HTTPStatusFromError(tt.err), tt.name)
	}
}
