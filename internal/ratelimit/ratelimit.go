// Package ratelimit enforces StoryFill's fixed-window rate limit
// buckets with ulule/limiter/v3: store selection between Redis and
// in-memory, gin middleware that reads the store, X-RateLimit-*
// response headers.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"storyfill/internal/httperr"
	"storyfill/internal/metrics"
)

// Bucket names one of the rate limiter's five buckets.
type Bucket string

const (
	BucketCreateRoom     Bucket = "ip:create_room"
	BucketJoinRoom       Bucket = "ip:join_room"
	BucketSubmitBurst    Bucket = "player:submit_prompt:burst"
	BucketSubmitWindow   Bucket = "player:submit_prompt:window"
	BucketRequestNarrate Bucket = "room:request_narration"
)

// Limiter holds one ulule/limiter instance per named bucket, all
// sharing a single store.
type Limiter struct {
	store    limiter.Store
	limiters map[Bucket]*limiter.Limiter
}

// Config carries the formatted rate strings ("10-M", "1-S", ...) for
// every bucket except BucketRequestNarrate, whose "3 per 10 minutes"
// rate has no formatted-string representation and is built as a
// literal limiter.Rate inside New.
type Config struct {
	CreateRoom   string
	JoinRoom     string
	SubmitBurst  string
	SubmitWindow string
}

// New builds a Limiter backed by Redis when redisClient is non-nil, or
// an in-memory store otherwise (single-instance deployments and tests).
func New(cfg Config, redisClient *redis.Client) (*Limiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "storyfill:ratelimit:"})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	rates := map[Bucket]string{
		BucketCreateRoom:   cfg.CreateRoom,
		BucketJoinRoom:     cfg.JoinRoom,
		BucketSubmitBurst:  cfg.SubmitBurst,
		BucketSubmitWindow: cfg.SubmitWindow,
	}

	limiters := make(map[Bucket]*limiter.Limiter, len(rates)+1)
	for bucket, formatted := range rates {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: bucket %s: invalid rate %q: %w", bucket, formatted, err)
		}
		limiters[bucket] = limiter.New(store, rate)
	}

	// "3 per 10 minutes" has no single-letter unit NewRateFromFormatted
	// accepts, so this bucket is built from a literal Rate instead of a
	// formatted string.
	limiters[BucketRequestNarrate] = limiter.New(store, limiter.Rate{
		Period: 10 * time.Minute,
		Limit:  3,
	})

	return &Limiter{store: store, limiters: limiters}, nil
}

// Allow checks whether key may proceed under bucket. It returns an error
// for an unknown bucket or a store failure; Middleware and CheckKey treat
// any such error as allowed (fail open) rather than blocking every
// request on a broker outage.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket, key string) (limiter.Context, error) {
	lim, ok := l.limiters[bucket]
	if !ok {
		return limiter.Context{}, fmt.Errorf("ratelimit: unknown bucket %q", bucket)
	}
	return lim.Get(ctx, fmt.Sprintf("%s:%s", bucket, key))
}

// Middleware returns gin middleware enforcing bucket against the
// caller's IP, writing the standard RateLimited error shape on rejection.
func (l *Limiter) Middleware(bucket Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		lctx, err := l.Allow(c.Request.Context(), bucket, c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		writeHeaders(c, lctx)
		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(string(bucket)).Inc()
			httperr.Write(c, httperr.RateLimited(retryAfter(lctx)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CheckKey enforces bucket against an arbitrary key (a room code, or a
// "room:player" pair) outside of gin middleware, for use inside the
// room command handlers that need player- or room-scoped limits rather
// than IP-scoped ones.
func (l *Limiter) CheckKey(ctx context.Context, bucket Bucket, key string) (bool, time.Duration) {
	lctx, err := l.Allow(ctx, bucket, key)
	if err != nil {
		return true, 0
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(bucket)).Inc()
		return false, retryAfter(lctx)
	}
	return true, 0
}

func writeHeaders(c *gin.Context, lctx limiter.Context) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
}

func retryAfter(lctx limiter.Context) time.Duration {
	d := time.Until(time.Unix(lctx.Reset, 0))
	if d < 0 {
		return 0
	}
	return d
}
