package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/userhub/internal/http/response"
	"github.com/diagnosis/userhub/pkg/logger"
)

const CodeRateLimit = "RATE_LIMIT_EXCEEDED"

// Counter is a fixed-window hit counter.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Name     string        // keeps counters of different limiters apart
	Requests int           // Max requests per window
	Window   time.Duration // Time window duration
	KeyFunc  func(r *http.Request) []string

	// TrustProxyHeaders keys the default KeyFunc on X-Real-IP / X-Forwarded-For.
	// Only set it when a reverse proxy in front of the service overwrites them.
	TrustProxyHeaders bool
}

type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
}

func NewRateLimiter(counter Counter, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKey(config.TrustProxyHeaders)
	}
	return &RateLimiter{counter: counter, config: config}
}

// Middleware returns the rate limiting middleware. A non-positive limit disables it.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.config.Requests <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), key) {
					response.WriteError(w, http.StatusTooManyRequests, "Too many requests. Try again later.", CodeRateLimit)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Hash the key for privacy
	hashedKey := fmt.Sprintf("ratelimit:%s:%x", rl.config.Name, sha256.Sum256([]byte(key)))

	count, err := rl.counter.Incr(ctx, hashedKey, rl.config.Window)
	if err != nil {
		// fail open
		logger.WarnContext(ctx, "Rate limit check failed", "limiter", rl.config.Name, "error", err)
		return true
	}
	return count <= int64(rl.config.Requests)
}

// ClientIPKey keys requests on the peer address, or on the proxy headers when trustProxy is set.
func ClientIPKey(trustProxy bool) func(r *http.Request) []string {
	return func(r *http.Request) []string {
		if ip := clientIP(r, trustProxy); ip != "" {
			return []string{"ip:" + ip}
		}
		return nil
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		// The proxy appends the peer it saw; earlier hops came from the client.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
