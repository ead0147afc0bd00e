package middleware_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teamchat/realtime/internal/auth"
	"github.com/teamchat/realtime/internal/server/middleware"
	"github.com/teamchat/realtime/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, h http.Handler, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "127.0.0.1:43210"
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func staticVerifier(claims *auth.Claims, err error) middleware.TokenVerifier {
	return func(string) (*auth.Claims, error) {
		return claims, err
	}
}

func TestAuthMiddleware(t *testing.T) {
	logger := testLogger()
	aliceClaims := &auth.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}

	t.Run("missing cookie is unauthorized", func(t *testing.T) {
		called := false
		h := middleware.Chain(okHandler(&called),
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, staticVerifier(aliceClaims, nil)),
		)
		rec := serve(t, h, "")
		if rec.Code != http.StatusUnauthorized || called {
			t.Errorf("Expected 401 without cookie, got %d called=%v", rec.Code, called)
		}
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		called := false
		h := middleware.Chain(okHandler(&called),
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, staticVerifier(nil, errors.New("bad token"))),
		)
		rec := serve(t, h, "garbage")
		if rec.Code != http.StatusUnauthorized || called {
			t.Errorf("Expected 401 for bad token, got %d called=%v", rec.Code, called)
		}
	})

	t.Run("valid token records identity", func(t *testing.T) {
		var gotMeta *middleware.RequestMetadata
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMeta, _ = middleware.ReqMetadataFrom(r.Context())
		})
		h := middleware.Chain(inner,
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, staticVerifier(aliceClaims, nil)),
		)
		rec := serve(t, h, "valid")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if gotMeta == nil || gotMeta.UserID != "user-1" || gotMeta.Username != "alice" {
			t.Errorf("Expected identity in metadata, got %+v", gotMeta)
		}
	})
}

func TestConnectionLimiter(t *testing.T) {
	logger := testLogger()
	aliceClaims := &auth.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}

	chainWith := func(called *bool, counter middleware.UserConnectionCounter, cycler middleware.UserConnectionCycler, cfg config.ConnectionLimitConfig) http.Handler {
		return middleware.Chain(okHandler(called),
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, staticVerifier(aliceClaims, nil)),
			middleware.NewConnectionLimiter(logger, counter, cycler, cfg),
		)
	}

	t.Run("under the limit passes", func(t *testing.T) {
		called := false
		h := chainWith(&called, func(string) int { return 1 }, func(string) {},
			config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "reject"})
		if rec := serve(t, h, "valid"); rec.Code != http.StatusOK || !called {
			t.Errorf("Expected pass-through, got %d called=%v", rec.Code, called)
		}
	})

	t.Run("reject mode refuses at the limit", func(t *testing.T) {
		called := false
		h := chainWith(&called, func(string) int { return 2 }, func(string) {},
			config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "reject"})
		if rec := serve(t, h, "valid"); rec.Code != http.StatusTooManyRequests || called {
			t.Errorf("Expected 429, got %d called=%v", rec.Code, called)
		}
	})

	t.Run("cycle mode evicts and passes", func(t *testing.T) {
		called := false
		cycled := ""
		h := chainWith(&called, func(string) int { return 2 }, func(userID string) { cycled = userID },
			config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "cycle"})
		rec := serve(t, h, "valid")
		if rec.Code != http.StatusOK || !called {
			t.Errorf("Expected pass-through after cycling, got %d called=%v", rec.Code, called)
		}
		if cycled != "user-1" {
			t.Errorf("Expected user-1 cycled, got %q", cycled)
		}
	})

	t.Run("disabled limit never blocks", func(t *testing.T) {
		called := false
		h := chainWith(&called, func(string) int { return 100 }, func(string) {},
			config.ConnectionLimitConfig{MaxPerUser: 0, Mode: "reject"})
		if rec := serve(t, h, "valid"); rec.Code != http.StatusOK || !called {
			t.Errorf("Expected pass-through with limit disabled, got %d called=%v", rec.Code, called)
		}
	})
}
