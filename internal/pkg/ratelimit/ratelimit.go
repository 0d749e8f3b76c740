// Package ratelimit 控制抓取页面的加载节奏。
//
// 配置了 Redis 时使用跨进程共享的令牌桶（多个爬虫进程共用同一店铺配额），
// 否则退化为进程内的 golang.org/x/time/rate 限流器。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"toytracker/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimitTimeout 等待令牌时上下文结束。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// DefaultKey Redis 令牌桶默认 key。
const DefaultKey = "toytracker:ratelimit:page"

// Limiter 页面加载前获取令牌。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// New 根据是否提供 Redis 客户端选择实现。rate 为每秒令牌数，burst 为桶容量。
func New(rdb *redis.Client, logger *slog.Logger, key string, ratePerSec, burst float64) Limiter {
	if rdb == nil {
		return NewLocalLimiter(ratePerSec, burst)
	}
	return NewRedisRateLimiter(rdb, logger, key, ratePerSec, burst)
}

// tokenBucketLua 在 Redis 中原子地补充并扣减令牌，返回 {是否允许, 需等待毫秒, 剩余令牌}。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = tokens >= requested
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tostring(tokens)}
`

// RateLimiter 基于 Redis 的令牌桶。
//
// Redis 不可用时退化到进程内限流并记录警告，抓取不会因为限流组件故障而中断。
type RateLimiter struct {
	rdb      *redis.Client
	key      string
	rate     float64
	burst    float64
	logger   *slog.Logger
	script   *redis.Script
	fallback *LocalLimiter
}

// NewRedisRateLimiter 创建 Redis 令牌桶。logger 可以为 nil。
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, ratePerSec float64, burst float64) *RateLimiter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rdb:      rdb,
		key:      key,
		rate:     ratePerSec,
		burst:    burst,
		logger:   logger,
		script:   redis.NewScript(tokenBucketLua),
		fallback: NewLocalLimiter(ratePerSec, burst),
	}
}

// Acquire 阻塞直到获得一个令牌，ctx 结束时返回 ErrRateLimitTimeout。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	for {
		allowed, waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				metrics.RateLimitTimeoutTotal.Inc()
				return ErrRateLimitTimeout
			}
			r.logger.Warn("redis rate limiter unavailable, using local limiter", slog.String("error", err.Error()))
			return r.fallback.Acquire(ctx)
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += time.Duration(rand.Int63n(int64(jitterMax)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// LocalLimiter 进程内令牌桶。
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter 创建进程内限流器；rate 或 burst 不大于 0 时不限流。
func NewLocalLimiter(ratePerSec, burst float64) *LocalLimiter {
	if ratePerSec <= 0 || burst <= 0 {
		return &LocalLimiter{}
	}
	b := int(burst)
	if b < 1 {
		b = 1
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), b)}
}

// Acquire 等待一个令牌。
func (l *LocalLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	start := time.Now()
	err := l.limiter.Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RateLimitTimeoutTotal.Inc()
		return fmt.Errorf("%w: %v", ErrRateLimitTimeout, err)
	}
	return nil
}
