package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Suhaibinator/routekit/pkg/common"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitStrategy selects how clients are identified for rate limiting.
type RateLimitStrategy string

const (
	// StrategyIP identifies clients by the IP resolved by the server
	StrategyIP RateLimitStrategy = "ip"
	// StrategyUser identifies clients by RateLimitConfig.UserKey, falling back to IP
	StrategyUser RateLimitStrategy = "user"
	// StrategyCustom identifies clients by RateLimitConfig.KeyExtractor
	StrategyCustom RateLimitStrategy = "custom"
)

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	// Unique identifier for this rate limit bucket
	// If multiple routes share the same BucketName, they share the same rate limit
	BucketName string

	// Maximum number of requests allowed in the time window
	Limit int

	// Time window for the rate limit (e.g., 1 minute, 1 hour)
	Window time.Duration

	// Strategy for identifying clients; StrategyIP if empty
	Strategy RateLimitStrategy

	// UserKey returns the authenticated user's identifier (used when Strategy is StrategyUser)
	UserKey func(*http.Request) string

	// Custom key extractor function (used when Strategy is StrategyCustom)
	KeyExtractor func(*http.Request) (string, error)

	// Response to send when rate limit is exceeded
	// If nil, a default 429 Too Many Requests response is sent
	ExceededHandler common.Handler
}

// RateLimiter defines the interface for rate limiting algorithms
type RateLimiter interface {
	// Allow reports whether a request for key is allowed under limit per window.
	// It also returns the number of remaining requests and the time until the next one is allowed.
	Allow(key string, limit int, window time.Duration) (bool, int, time.Duration)
}

// TokenBucketLimiter implements RateLimiter with one token bucket per key.
// Each bucket holds up to limit tokens and refills at limit per window.
type TokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
}

// NewTokenBucketLimiter creates a new token bucket rate limiter
func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{}
}

// Allow takes a token from the bucket for key if one is available.
func (l *TokenBucketLimiter) Allow(key string, limit int, window time.Duration) (bool, int, time.Duration) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	every := window / time.Duration(limit)
	if every <= 0 {
		every = time.Nanosecond
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit))
	limiter := v.(*rate.Limiter)

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	if allowed {
		return true, remaining, every
	}

	reservation := limiter.Reserve()
	reset := reservation.Delay()
	reservation.Cancel()
	return false, 0, reset
}

// RateLimit creates a middleware that enforces rate limits.
// Requests over the limit are answered with 429 and never reach the rest of the chain.
func RateLimit(config *RateLimitConfig, limiter RateLimiter) common.Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		if config == nil {
			return next()
		}

		var key string
		switch config.Strategy {
		case StrategyUser:
			if config.UserKey != nil {
				key = config.UserKey(r)
			}
			if key == "" {
				key = srv.ClientIP(r)
			}
		case StrategyCustom:
			if config.KeyExtractor == nil {
				key = srv.ClientIP(r)
				break
			}
			var err error
			key, err = config.KeyExtractor(r)
			if err != nil {
				srv.Logger().Error("Failed to extract rate limit key",
					zap.Error(err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				return common.Text(http.StatusInternalServerError, "Internal Server Error"), nil
			}
		default:
			key = srv.ClientIP(r)
		}

		allowed, remaining, reset := limiter.Allow(config.BucketName+":"+key, config.Limit, config.Window)

		setHeaders := func(resp *common.Response) {
			resp.SetHeader("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			resp.SetHeader("X-RateLimit-Remaining", strconv.Itoa(remaining))
			resp.SetHeader("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))
		}

		if !allowed {
			srv.Logger().Warn("Rate limit exceeded",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("key", key),
				zap.Int("limit", config.Limit),
			)

			var resp *common.Response
			if config.ExceededHandler != nil {
				var err error
				if resp, err = config.ExceededHandler(r, srv); err != nil {
					return nil, err
				}
			}
			if resp == nil {
				resp = common.Text(http.StatusTooManyRequests, "Too Many Requests")
			}
			setHeaders(resp)
			resp.SetHeader("Retry-After", strconv.FormatInt(int64(reset.Round(time.Second)/time.Second), 10))
			return resp, nil
		}

		resp, err := next()
		if err != nil {
			return resp, err
		}
		if resp == nil {
			resp = &common.Response{}
		}
		setHeaders(resp)
		return resp, nil
	}
}

// UberRateLimiter paces requests per key using Uber's leaky-bucket ratelimit library.
// Unlike RateLimiter implementations it never rejects: callers wait for their slot.
type UberRateLimiter struct {
	limiters sync.Map // map[string]ratelimit.Limiter
	rps      int
	opts     []ratelimit.Option
}

// NewUberRateLimiter creates a pacing limiter allowing rps requests per second per key.
func NewUberRateLimiter(rps int, opts ...ratelimit.Option) *UberRateLimiter {
	if rps < 1 {
		rps = 1
	}
	return &UberRateLimiter{rps: rps, opts: opts}
}

// Take blocks until key may proceed and returns the time at which it was released.
func (u *UberRateLimiter) Take(key string) time.Time {
	v, ok := u.limiters.Load(key)
	if !ok {
		v, _ = u.limiters.LoadOrStore(key, ratelimit.New(u.rps, u.opts...))
	}
	return v.(ratelimit.Limiter).Take()
}

// Throttle creates a middleware that delays requests so that each client IP
// proceeds at most at the limiter's rate. The wait is abandoned if the request
// context ends first, in which case 503 is returned.
func Throttle(limiter *UberRateLimiter) common.Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		key := srv.ClientIP(r)
		released := make(chan struct{})
		go func() {
			limiter.Take(key)
			close(released)
		}()

		select {
		case <-released:
			return next()
		case <-r.Context().Done():
			return common.Text(http.StatusServiceUnavailable, "Service Unavailable"), nil
		}
	}
}
