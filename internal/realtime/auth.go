package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/centrifugal/centrifuge"

	"github.com/mchatly/livechat/internal/token"
)

// Verifier validates a capability token string.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the capability claims the auth middleware
// attached to the connection's request context.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return claims, ok
}

// AuthMiddleware verifies the capability token carried in the Authorization
// header or the token query parameter and attaches both the centrifuge
// credentials and the full claims to the request context. Connections
// without a valid capability never reach the node.
func AuthMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				raw = strings.TrimPrefix(header, "Bearer ")
			}
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				http.Error(w, "missing capability token", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				http.Error(w, "invalid capability token", http.StatusUnauthorized)
				return
			}

			cred := &centrifuge.Credentials{
				UserID:   claims.Identity,
				ExpireAt: claims.ExpiresAt.Unix(),
			}
			ctx := centrifuge.SetCredentials(r.Context(), cred)
			ctx = context.WithValue(ctx, claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
