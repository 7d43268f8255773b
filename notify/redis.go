// Package notify carries relay wake-ups between processes over Redis pub/sub.
// It is an optimisation only: a relay that misses a message still finds the
// row on its next poll.
package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/config"
	"github.com/DaniloDobras/ois/logger"
)

const defaultChannel = "ois:outbox:wake"

type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisNotifier(cfg *config.RedisConfig, log *zap.Logger) *RedisNotifier {
	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisNotifier{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: channel,
		log:     logger.OrNop(log).With(zap.String("channel", channel)),
	}
}

func (n *RedisNotifier) Channel() string { return n.channel }

func (n *RedisNotifier) Ping(ctx context.Context) error {
	if n == nil {
		return errors.New("redis notifier not configured")
	}
	return n.client.Ping(ctx).Err()
}

// Notify announces a committed order. Nil notifiers are no-ops.
func (n *RedisNotifier) Notify(ctx context.Context, orderID int64) error {
	if n == nil {
		return nil
	}
	return n.client.Publish(ctx, n.channel, strconv.FormatInt(orderID, 10)).Err()
}

// Listen calls fn for every wake-up until ctx ends. The subscription is
// re-established after a dropped connection.
func (n *RedisNotifier) Listen(ctx context.Context, fn func()) {
	if n == nil {
		return
	}
	for ctx.Err() == nil {
		sub := n.client.Subscribe(ctx, n.channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			n.log.Warn("redis subscribe", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		n.log.Debug("listening for relay wake-ups")

		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break recv
				}
				fn()
			}
		}
		sub.Close()
	}
}

func (n *RedisNotifier) Close() error {
	if n == nil {
		return nil
	}
	return n.client.Close()
}
