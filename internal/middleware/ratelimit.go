package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"seawatch/internal/limiter"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (*limiter.Result, error)
}

// RateLimit throttles mutating requests per actor, or per client IP for
// anonymous callers. It must run after Authenticate. When the limiter
// backend fails the request is let through.
func RateLimit(l Limiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if actor := ActorFrom(c); actor.Authenticated() {
			key = "actor:" + actor.ID.String()
		}

		result, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			rateLimitedTotal.Inc()
			retry := int(result.RetryAfter(time.Now()).Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
