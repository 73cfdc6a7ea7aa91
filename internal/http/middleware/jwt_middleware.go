package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/http/response"
	"github.com/diagnosis/userhub/internal/platform/auth"
	"github.com/diagnosis/userhub/pkg/logger"
)

type ctxKey string

const ctxPrincipal ctxKey = "principal"

type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// Authenticate requires a valid token in the Authorization header, with or
// without the "Bearer " prefix, and stores the principal on the context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
				raw = strings.TrimSpace(raw[7:])
			}
			if raw == "" {
				response.FromError(w, r, domain.ErrUnauthenticated)
				return
			}

			p, err := verifier.Verify(raw)
			if err != nil {
				response.FromError(w, r, domain.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), ctxPrincipal, p)
			ctx = context.WithValue(ctx, logger.IdentityIDKey, p.IdentityID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p == nil {
			response.FromError(w, r, domain.ErrUnauthenticated)
			return
		}
		if !p.Role.CanAdminister() {
			logger.WarnContext(r.Context(), "Admin route denied", "role", p.Role, "path", r.URL.Path)
			response.FromError(w, r, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxPrincipal).(*auth.Principal)
	return p
}
