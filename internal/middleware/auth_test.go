package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-identity-secret-at-least-32-bytes!"
	testIssuer = "https://id.openclaw.test"
)

func signedToken(t *testing.T, subject string, authTime time.Time) string {
	t.Helper()
	token, err := SignIdentityToken(testSecret, testIssuer, subject, authTime, time.Hour)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	mw := NewAuthMiddleware(testSecret, testIssuer)

	serve := func(t *testing.T, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("GET", "/test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(rec, req)
		return rec
	}
	notCalled := func(t *testing.T) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}
	}

	t.Run("attaches identity for a valid token", func(t *testing.T) {
		authTime := time.Now().Add(-2 * time.Minute).Truncate(time.Second)
		rec := serve(t, "Bearer "+signedToken(t, "user-123", authTime), func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			require.NotNil(t, identity)
			assert.Equal(t, "user-123", identity.UserID)
			assert.True(t, authTime.Equal(identity.AuthTime))
			w.WriteHeader(http.StatusOK)
		})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without token", func(t *testing.T) {
		rec := serve(t, "", notCalled(t))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
	})

	t.Run("ignores token in query string", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test?token="+signedToken(t, "user-123", time.Now()), nil)
		rec := httptest.NewRecorder()
		mw.Handler(notCalled(t)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		token, err := SignIdentityToken("some-other-secret-that-is-long-enough", testIssuer, "user-123", time.Now(), time.Hour)
		require.NoError(t, err)

		rec := serve(t, "Bearer "+token, notCalled(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := SignIdentityToken(testSecret, testIssuer, "user-123", time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)

		rec := serve(t, "Bearer "+token, notCalled(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects wrong issuer", func(t *testing.T) {
		token, err := SignIdentityToken(testSecret, "https://evil.test", "user-123", time.Now(), time.Hour)
		require.NoError(t, err)

		rec := serve(t, "Bearer "+token, notCalled(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects token without subject", func(t *testing.T) {
		token, err := SignIdentityToken(testSecret, testIssuer, "", time.Now(), time.Hour)
		require.NoError(t, err)

		rec := serve(t, "Bearer "+token, notCalled(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unsigned token", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		rec := serve(t, "Bearer "+token, notCalled(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthMiddleware_Verify(t *testing.T) {
	t.Run("falls back to iat without auth_time", func(t *testing.T) {
		issued := time.Now().Add(-time.Minute).Truncate(time.Second)
		claims := IdentityClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		identity, err := NewAuthMiddleware(testSecret, "").Verify(token)
		require.NoError(t, err)
		assert.True(t, issued.Equal(identity.AuthTime))
	})

	t.Run("accepts any issuer when none is configured", func(t *testing.T) {
		token, err := SignIdentityToken(testSecret, "anyone", "user-1", time.Now(), time.Hour)
		require.NoError(t, err)

		identity, err := NewAuthMiddleware(testSecret, "").Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.UserID)
	})
}

func TestGetIdentity(t *testing.T) {
	t.Run("returns identity from context", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), &Identity{UserID: "test-id"})

		result := GetIdentity(ctx)

		require.NotNil(t, result)
		assert.Equal(t, "test-id", result.UserID)
		assert.Equal(t, "test-id", GetUserID(ctx))
	})

	t.Run("returns nil when no identity in context", func(t *testing.T) {
		assert.Nil(t, GetIdentity(context.Background()))
		assert.Empty(t, GetUserID(context.Background()))
	})
}
