package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/link-server-go/internal/service"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "user-1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "user-2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "user-2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks callers separately", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "user-a", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "user-b", 5)
		assert.True(t, allowed)
	})

	t.Run("returns reset time", func(t *testing.T) {
		limiter := NewRateLimiter()

		_, _, resetAt := limiter.Check(ctx, "user-3", 10)
		assert.Greater(t, resetAt, int64(0))
	})
}

func TestRedisRateLimiter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRedisRateLimiter(client)

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := limiter.Check(ctx, "user-1", 3)
		require.True(t, allowed)
		assert.Equal(t, 3-i-1, remaining)
	}

	allowed, _, _ := limiter.Check(ctx, "user-1", 3)
	assert.False(t, allowed)
	assert.True(t, mr.Exists("ratelimit:caller:user-1"))

	t.Run("allows when redis is down", func(t *testing.T) {
		mr.Close()

		allowed, _, _ := limiter.Check(ctx, "user-2", 3)
		assert.True(t, allowed)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	asUser := func(userID string) *http.Request {
		req := httptest.NewRequest("GET", "/test", nil)
		return req.WithContext(WithIdentity(req.Context(), &Identity{UserID: userID}))
	}

	t.Run("allows anonymous request", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 1).Handler(ok)

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("sets rate limit headers", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 100).Handler(ok)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("user-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 2).Handler(ok)

		for i := 0; i < 2; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), asUser("user-2"))
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("user-2"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	})

	t.Run("uses default limit when configured limit is zero", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 0).Handler(ok)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("user-3"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	limiter := service.NewLocalRateLimiter(nil)
	handler := NewIPRateLimitMiddleware(limiter, 2, time.Minute, "validate").Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, request("198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, request("198.51.100.1").Code)

	rec := request("198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, request("198.51.100.2").Code)
}
