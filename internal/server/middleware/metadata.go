package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

type RequestMetadata struct {
	IP       string
	UserID   string
	Username string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

func WithReqMetadata(ctx context.Context, reqMeta *RequestMetadata) context.Context {
	return context.WithValue(ctx, reqMetaKey, reqMeta)
}

// RequestMetadataMiddleware creates and injects the RequestMetadata
// struct into the request. This should be the first middleware in the
// chain.
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}
			reqMeta.IP = ip
			next.ServeHTTP(w, r.WithContext(WithReqMetadata(r.Context(), reqMeta)))
		})
	}
}
