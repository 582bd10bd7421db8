package middleware

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yeisme/syncvault/pkg/configs"
)

// RateLimitMiddleware 令牌桶限流，超限返回 429 并带 Retry-After.
func RateLimitMiddleware(cfg configs.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	keyMode := strings.ToLower(strings.TrimSpace(cfg.Key))
	buckets := newBucketSet(cfg)

	retryAfter := strconv.Itoa(max(1, int(1/cfg.RPS)))

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		if !buckets.get(limitKey(c, keyMode)).Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RateLimited"})

			return
		}

		c.Next()
	}
}

// limitKey 按模式提取限流维度.user 模式在身份中间件之前执行，只能读取原始凭据.
func limitKey(c *gin.Context, mode string) string {
	switch {
	case mode == configs.RateLimitKeyGlobal || mode == "":
		return "*"
	case mode == configs.RateLimitKeyUser:
		if u := c.GetHeader("X-User-ID"); u != "" {
			return "u:" + u
		}

		if auth := c.GetHeader("Authorization"); auth != "" {
			sum := sha256.Sum256([]byte(auth))
			return "t:" + hex.EncodeToString(sum[:8])
		}
	case strings.HasPrefix(mode, "header:"):
		// gin 按规范化名称取头，配置中的大小写无关
		if v := c.GetHeader(strings.TrimPrefix(mode, "header:")); v != "" {
			return "h:" + v
		}
	}

	return "ip:" + c.ClientIP()
}

// bucketSet 按 LRU 淘汰的限流桶集合.
type bucketSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	maxKeys int
	order   *list.List
	items   map[string]*list.Element
}

type bucket struct {
	key     string
	limiter *rate.Limiter
}

func newBucketSet(cfg configs.RateLimitConfig) *bucketSet {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = configs.DefaultRateLimitMaxKeys
	}

	return &bucketSet{
		limit:   rate.Limit(cfg.RPS),
		burst:   max(cfg.Burst, 1),
		maxKeys: maxKeys,
		order:   list.New(),
		items:   map[string]*list.Element{},
	}
}

func (s *bucketSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*bucket).limiter
	}

	for s.order.Len() >= s.maxKeys {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*bucket).key)
	}

	b := &bucket{key: key, limiter: rate.NewLimiter(s.limit, s.burst)}
	s.items[key] = s.order.PushFront(b)

	return b.limiter
}
