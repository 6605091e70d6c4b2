package identity

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalflow/pkg/requestcontext"
)

func TestRequireActor(t *testing.T) {
	s := newService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen requestcontext.Actor
	var seenRequestID string
	handler := RequireActor(s, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.ActorFrom(r.Context())
		seenRequestID = requestcontext.RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid bearer token sets the actor", func(t *testing.T) {
		token, err := s.Issue("dana", []string{"director"}, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/license/issue", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(RequestIDHeader, "req-7")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, requestcontext.Actor{ID: "dana", Roles: []string{"director"}}, seen)
		assert.Equal(t, "req-7", seenRequestID)
		assert.Equal(t, "req-7", rr.Header().Get(RequestIDHeader))
	})

	t.Run("missing token is refused", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/license/issue", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error":"unauthorized"`)
		assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	})

	t.Run("forged token is refused", func(t *testing.T) {
		other, err := NewTokenService("another-signing-key-9876543210", "approvalflow", "approvalflow-api")
		require.NoError(t, err)
		token, err := other.Issue("mallory", []string{"admin"}, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/license/issue", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
