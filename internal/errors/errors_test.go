package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad", nil), http.StatusBadRequest},
		{"not found", NewNotFoundError("missing", nil), http.StatusNotFound},
		{"conflict", NewConflictError("version", nil), http.StatusConflict},
		{"timeout", NewTimeoutError("slow", nil), http.StatusGatewayTimeout},
		{"upstream", NewUpstreamError("store", fmt.Errorf("disk")), http.StatusInternalServerError},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"wrapped app error", fmt.Errorf("outer: %w", NewNotFoundError("x", nil)), http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Errorf("HTTPStatus() = %d, 期望 %d", got, tc.want)
			}
		})
	}
}
