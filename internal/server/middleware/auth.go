package middleware

import (
	"log/slog"
	"net/http"

	"github.com/teamchat/realtime/internal/auth"
)

// SessionCookie carries the signed session token issued at login.
const SessionCookie = "session-token"

// TokenVerifier validates a session token and returns its claims.
type TokenVerifier func(tokenString string) (*auth.Claims, error)

// NewAuthMiddleware authenticates requests from the session cookie and
// records the verified identity in the request metadata.
func NewAuthMiddleware(logger *slog.Logger, verify TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				logger.Warn("session token missing in request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verify(cookie.Value)
			if err != nil {
				logger.Warn("invalid session token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Username = claims.Username
			next.ServeHTTP(w, r)
		})
	}
}
