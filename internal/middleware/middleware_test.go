package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/jwt"
	"peer_chat/pkg/logger"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(required bool) *gin.Engine {
	router := gin.New()
	auth := NewAuthMiddleware(testSecret, "", required, logger.Nop())
	router.GET("/who", auth.Authenticate(), func(c *gin.Context) {
		userID, ok := ActingUser(c, c.Query("userId"))
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.String(http.StatusOK, userID)
	})
	return router
}

func token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	signed, err := jwt.GenerateAccessToken(userID, "", testSecret, "", ttl)
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		header   string
		target   string
		status   int
		body     string
	}{
		{name: "required and missing", required: true, target: "/who?userId=alice", status: http.StatusUnauthorized},
		{name: "optional and missing", required: false, target: "/who?userId=alice", status: http.StatusOK, body: "alice"},
		{name: "optional without any id", required: false, target: "/who", status: http.StatusForbidden},
		{name: "token matches claimed id", required: true, header: "alice", target: "/who?userId=alice", status: http.StatusOK, body: "alice"},
		{name: "token fills missing id", required: true, header: "alice", target: "/who", status: http.StatusOK, body: "alice"},
		{name: "token disagrees with claimed id", required: true, header: "alice", target: "/who?userId=bob", status: http.StatusForbidden},
		{name: "garbage token", required: false, header: "!", target: "/who?userId=alice", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			switch tt.header {
			case "":
			case "!":
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			default:
				r.Header.Set("Authorization", "Bearer "+token(t, tt.header, time.Minute))
			}
			w := httptest.NewRecorder()

			newAuthRouter(tt.required).ServeHTTP(w, r)

			req.Equal(tt.status, w.Code)
			if tt.body != "" {
				req.Equal(tt.body, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_TokenQueryAndExpiry(t *testing.T) {
	req := require.New(t)
	router := newAuthRouter(true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who?token="+token(t, "carol", time.Minute), nil))
	req.Equal(http.StatusOK, w.Code)
	req.Equal("carol", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who?token="+token(t, "carol", -time.Minute), nil))
	req.Equal(http.StatusUnauthorized, w.Code)
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("message 9: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{apperrors.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{apperrors.ErrInvalidConversationPair, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := gin.New()
			router.Use(ErrorHandler(logger.Nop()))
			router.GET("/", func(c *gin.Context) { _ = c.Error(tt.err) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			require.Equal(t, tt.status, w.Code)
			require.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tt.err.Error()), w.Body.String())
		})
	}
}

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (l *countingLimiter) CheckLimit(_ context.Context, key string, limit int, _ int) (bool, error) {
	return l.counts[key] < int64(limit), l.err
}

func (l *countingLimiter) Increment(_ context.Context, key string, _ int) (int64, error) {
	l.counts[key]++
	return l.counts[key], nil
}

func (l *countingLimiter) AllowSend(context.Context, string) (bool, error) {
	return true, nil
}

func TestRateLimitMiddleware(t *testing.T) {
	req := require.New(t)
	limiter := &countingLimiter{counts: make(map[string]int64)}
	router := gin.New()
	router.Use(NewRateLimitMiddleware(limiter, 2, logger.Nop()).Limit())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		statuses = append(statuses, w.Code)
	}
	req.Equal([]int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, statuses)

	// An unreachable counter store lets traffic through.
	limiter.err = errors.New("redis down")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	req.Equal(http.StatusNoContent, w.Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	req := require.New(t)
	router := gin.New()
	router.Use(RequestLogger(logger.Nop()))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	req.NotEmpty(w.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "0b6f5c7e-3f0e-4a43-9a39-1f0d8e0f7c11")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	req.Equal("0b6f5c7e-3f0e-4a43-9a39-1f0d8e0f7c11", w.Header().Get(RequestIDHeader))
}
