package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/audit"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/httputil"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is the verified caller attached to a request.
type Identity struct {
	UserID string
	// AuthTime is when the caller last proved their credentials.
	AuthTime time.Time
}

func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

// GetUserID returns the verified caller id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	if identity := GetIdentity(ctx); identity != nil {
		return identity.UserID
	}
	return ""
}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// IdentityClaims are issued by the upstream identity provider. AuthTime
// falls back to iat when the provider omits auth_time.
type IdentityClaims struct {
	jwt.RegisteredClaims
	AuthTime int64 `json:"auth_time,omitempty"`
}

var errMissingSubject = errors.New("token has no subject")

type AuthMiddleware struct {
	secret []byte
	issuer string
}

func NewAuthMiddleware(secret, issuer string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), issuer: issuer}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthenticated())
			return
		}

		identity, err := m.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid identity token")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid_token"},
			})
			httputil.WriteError(w, apperrors.Unauthenticated())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// Verify checks an HS256 identity token and returns the caller it names.
func (m *AuthMiddleware) Verify(token string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse identity token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errMissingSubject
	}

	identity := &Identity{UserID: claims.Subject}
	switch {
	case claims.AuthTime > 0:
		identity.AuthTime = time.Unix(claims.AuthTime, 0).UTC()
	case claims.IssuedAt != nil:
		identity.AuthTime = claims.IssuedAt.UTC()
	}
	return identity, nil
}

// SignIdentityToken mints a token the AuthMiddleware accepts. It backs local
// tooling and tests; production tokens come from the identity provider.
func SignIdentityToken(secret, issuer, subject string, authTime time.Time, ttl time.Duration) (string, error) {
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(authTime),
			ExpiresAt: jwt.NewNumericDate(authTime.Add(ttl)),
		},
		AuthTime: authTime.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
