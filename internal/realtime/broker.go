package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-service/pkg/circuitbreaker"
	"notification-service/pkg/metrics"
)

const (
	relayMinBackoff = 500 * time.Millisecond
	relayMaxBackoff = 30 * time.Second
)

var errRelayClosed = errors.New("relay channel closed")

type brokerMessage struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// subscription is the part of *redis.PubSub the relay uses.
type subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisBroker fans messages out to every instance through Redis pub/sub.
// Each instance runs Run to relay the channel into its own Hub. While Redis
// publishing fails or this instance's relay is down, messages are also
// delivered to local sessions directly. Nothing is stored.
type RedisBroker struct {
	channel   string
	local     *Hub
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	publish   func(ctx context.Context, channel string, msg []byte) error
	subscribe func(ctx context.Context, channel string) subscription

	relayUp    atomic.Bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRedisBroker(rdb *redis.Client, channel string, local *Hub, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *RedisBroker {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	return &RedisBroker{
		channel: channel,
		local:   local,
		breaker: breaker,
		logger:  logger,
		publish: func(ctx context.Context, channel string, msg []byte) error {
			return rdb.Publish(ctx, channel, msg).Err()
		},
		subscribe: func(ctx context.Context, channel string) subscription {
			return rdb.Subscribe(ctx, channel)
		},
		minBackoff: relayMinBackoff,
		maxBackoff: relayMaxBackoff,
	}
}

// RelayUp reports whether this instance currently receives the channel.
func (b *RedisBroker) RelayUp() bool {
	return b.relayUp.Load()
}

func (b *RedisBroker) Broadcast(ctx context.Context, userID string, payload []byte) error {
	msg, err := json.Marshal(brokerMessage{UserID: userID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode broker message: %w", err)
	}

	err = b.breaker.Execute(func() error {
		return b.publish(ctx, b.channel, msg)
	})
	switch {
	case err != nil:
		metrics.IncrementDeliveryFailure("redis_publish")
		b.logger.Warn("Redis publish failed, delivering locally",
			zap.String("user_id", userID),
			zap.String("breaker_state", b.breaker.GetState().String()),
			zap.Error(err),
		)
		b.local.Deliver(userID, payload)
	case !b.relayUp.Load():
		// Other instances got it through Redis; ours will not echo it back.
		b.local.Deliver(userID, payload)
	}
	return nil
}

// Run relays messages from the Redis channel to the local hub until ctx is
// cancelled. A failed or dropped subscription is retried with exponential
// backoff; Broadcast serves local sessions directly in the meantime.
func (b *RedisBroker) Run(ctx context.Context) error {
	backoff := b.minBackoff
	for {
		subscribed, err := b.relay(ctx)
		b.relayUp.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = b.minBackoff
		}

		metrics.IncrementDeliveryFailure("redis_subscribe")
		b.logger.Warn("Realtime relay down, retrying",
			zap.String("channel", b.channel),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, b.maxBackoff)
	}
}

// relay runs one subscription. subscribed reports whether Redis confirmed it.
func (b *RedisBroker) relay(ctx context.Context) (subscribed bool, err error) {
	sub := b.subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.relayUp.Store(true)
	b.logger.Info("Realtime relay subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return true, errRelayClosed
			}
			var msg brokerMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				metrics.IncrementDeliveryFailure("redis_decode")
				b.logger.Warn("Dropping malformed relay message", zap.Error(err))
				continue
			}
			b.local.Deliver(msg.UserID, msg.Payload)
		}
	}
}
