package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type contextKey int

const (
	identityKey contextKey = iota
	expiryKey
)

// Verifier checks a bearer token and returns the caller and the token expiry.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, time.Time, error)
}

type Authenticator struct {
	verifier Verifier
	logger   *zap.Logger
}

func NewAuthenticator(verifier Verifier, logger *zap.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, logger: logger}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's Identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		ident, expires, err := a.verifier.Verify(r.Context(), parts[1])
		if err != nil {
			if services.HTTPStatus(err) == http.StatusInternalServerError {
				a.logger.Error("token verification", zap.Error(err))
			}
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident, expires)))
	})
}

// IdentityFrom returns the authenticated caller, or nil outside Middleware.
func IdentityFrom(ctx context.Context) *models.Identity {
	ident, _ := ctx.Value(identityKey).(*models.Identity)
	return ident
}

// ExpiryFrom returns the expiry of the token that authenticated the request.
func ExpiryFrom(ctx context.Context) time.Time {
	exp, _ := ctx.Value(expiryKey).(time.Time)
	return exp
}

// WithIdentity stores ident in ctx the way Middleware does.
func WithIdentity(ctx context.Context, ident *models.Identity, expires time.Time) context.Context {
	ctx = context.WithValue(ctx, identityKey, ident)
	return context.WithValue(ctx, expiryKey, expires)
}

// RequireRole lets through only callers holding one of roles.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := IdentityFrom(r.Context())
			if ident == nil {
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}
			for _, role := range roles {
				if ident.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			services.SendErrorResponse(w, services.ErrForbidden.Error(), http.StatusForbidden, nil)
		})
	}
}
