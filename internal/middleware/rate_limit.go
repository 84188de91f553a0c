package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"peer_chat/internal/domain"
	"peer_chat/internal/service"
	"peer_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	rule             domain.RateLimitRule
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, requestsPerMinute int, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		rule: domain.RateLimitRule{
			Scope:  domain.RateLimitScopeIP,
			Limit:  requestsPerMinute,
			Window: time.Minute,
		},
		log: log,
	}
}

// Limit caps requests per client IP. When the counter store is unreachable
// requests are let through.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimitService == nil || m.rule.Limit <= 0 {
			c.Next()
			return
		}

		key := m.rule.Key(c.ClientIP())
		limit := m.rule.Limit
		window := int(m.rule.Window / time.Second)

		allowed, err := m.rateLimitService.CheckLimit(c.Request.Context(), key, limit, window)
		if err != nil {
			m.log.Warn("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		count, err := m.rateLimitService.Increment(c.Request.Context(), key, window)
		if err != nil {
			m.log.Warn("Rate limit increment failed", "error", err)
			c.Next()
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
