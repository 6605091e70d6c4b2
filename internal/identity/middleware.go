package identity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"approvalflow/pkg/requestcontext"
)

// RequestIDHeader is honoured when the caller already assigned a request id.
const RequestIDHeader = "X-Request-ID"

// RequireActor is HTTP middleware for services that put gated operations
// behind HTTP. It pins the request clock, assigns a request id and sets the
// actor from the bearer token. Requests without a valid token get 401 and
// never reach next.
func RequireActor(tokens *TokenService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := requestcontext.WithTime(r.Context(), time.Now())
			ctx = requestcontext.WithRequestID(ctx, requestID)
			w.Header().Set(RequestIDHeader, requestID)

			authed, err := tokens.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access",
					"error", err,
					"request_id", requestID,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				if _, err := w.Write([]byte(`{"error":"unauthorized","error_description":"missing or invalid bearer token"}`)); err != nil {
					logger.ErrorContext(ctx, "failed to write unauthorized response",
						"error", err,
						"request_id", requestID,
					)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(authed))
		})
	}
}
