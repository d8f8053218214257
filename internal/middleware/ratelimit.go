package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/user/moviereviews/internal/logging"
)

// RateLimiter 按客户端 IP 限流，最多记录 maxClients 个 IP
type RateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter perMinute<=0 时返回 nil（不限流）
func NewRateLimiter(perMinute, maxClients int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if maxClients <= 0 {
		maxClients = 10000
	}
	cache, _ := lru.New[string, *rate.Limiter](maxClients)
	burst := perMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: cache,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

// Allow 该 IP 当前是否放行
func (rl *RateLimiter) Allow(ip string) bool {
	limiter, ok := rl.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		if prev, found, _ := rl.limiters.PeekOrAdd(ip, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Middleware 只限制写请求（POST），超限返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if !rl.Allow(c.ClientIP()) {
			logging.Ctx(c.Request.Context()).Warn().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).
				Msg("[RateLimit] 请求过于频繁")
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			} else {
				c.String(http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
				c.Abort()
			}
			return
		}
		c.Next()
	}
}
