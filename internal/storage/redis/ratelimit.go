package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/pkg/httpmiddleware"
)

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window limiter shared by all API instances.
type RateLimiter struct {
	client redis.Cmdable
	prefix string
	max    int
	period time.Duration
}

// NewRateLimiter allows max requests per period for every key.
func NewRateLimiter(client redis.Cmdable, prefix string, max int, period time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, max: max, period: period}
}

// Allow increments the counter of the window containing now.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.period)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.period)
		return nil
	}); err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "incr window")
	}

	count := int(incr.Val())
	return httpmiddleware.Decision{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-count, 0),
		ResetAt:   start.Add(l.period),
	}, nil
}
