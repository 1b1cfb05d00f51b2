package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware prints request/response metrics.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"dur", time.Since(start).String())
	}
}

// buckets idle longer than this are dropped on the next sweep.
const limiterIdleTTL = 3 * time.Minute

// RateLimitMiddleware applies a token bucket per client IP. Rejections are
// logged with the offending IP and path.
func RateLimitMiddleware(rps, burst int, log *zap.SugaredLogger) gin.HandlerFunc {
	type bucket struct {
		lim      *rate.Limiter
		lastSeen time.Time
	}
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	lastSweep := time.Now()
	return func(c *gin.Context) {
		ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
		now := time.Now()
		mu.Lock()
		if now.Sub(lastSweep) > limiterIdleTTL {
			for k, b := range buckets {
				if now.Sub(b.lastSeen) > limiterIdleTTL {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = now
		mu.Unlock()
		if !b.lim.Allow() {
			log.Warnw("rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
