// Package redis implements the webhook replay guard, the settings
// invalidation bus and the shared request rate limiter on Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settings"
)

// NewClient connects to the Redis server at url and pings it.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

var _ order.ReplayGuard = (*ReplayGuard)(nil)

// ReplayGuard claims webhook deliveries with SET NX.
type ReplayGuard struct {
	client redis.Cmdable
	prefix string
}

// NewReplayGuard creates a ReplayGuard storing keys under prefix.
func NewReplayGuard(client redis.Cmdable, prefix string) *ReplayGuard {
	return &ReplayGuard{client: client, prefix: prefix}
}

// Claim reports true when key was not claimed within ttl.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

// Forget releases a claim.
func (g *ReplayGuard) Forget(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

var _ settings.Bus = (*SettingsBus)(nil)

// SettingsBus broadcasts settings invalidations over a pub/sub channel.
type SettingsBus struct {
	client  *redis.Client
	channel string
}

// NewSettingsBus creates a SettingsBus on channel.
func NewSettingsBus(client *redis.Client, channel string) *SettingsBus {
	return &SettingsBus{client: client, channel: channel}
}

// Publish announces that key changed.
func (b *SettingsBus) Publish(ctx context.Context, key settings.Key) error {
	if err := b.client.Publish(ctx, b.channel, string(key)).Err(); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// Subscribe calls fn for every published key until ctx is done.
func (b *SettingsBus) Subscribe(ctx context.Context, fn func(settings.Key)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	zctx.From(ctx).Info("Listening for settings invalidations", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			fn(settings.Key(msg.Payload))
		}
	}
}
