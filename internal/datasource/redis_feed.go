package datasource

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisChangeChannel is the pub/sub channel change events are published on.
const RedisChangeChannel = "leadsync:changes"

// RedisFeed is a change feed carried over Redis pub/sub. Producers publish
// ChangeEvent JSON on RedisChangeChannel.
type RedisFeed struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisFeed(dsn string, opts Options) (*RedisFeed, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, leadsync.ErrInvalidInput
	}
	redisOpts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &RedisFeed{
		client:  redis.NewClient(redisOpts),
		channel: RedisChangeChannel,
		log:     opts.logger("redis_feed"),
	}, nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, req leadsync.SubscribeRequest) (leadsync.Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	// Wait for the server to confirm so a bad URL fails here, not later.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(req, func() {
		cancel()
		_ = pubsub.Close()
	})
	go f.follow(runCtx, pubsub, sub)
	return sub, nil
}

// follow relays messages. go-redis resubscribes on its own after a dropped
// connection and reports it with a fresh subscription message.
func (f *RedisFeed) follow(ctx context.Context, pubsub *redis.PubSub, sub *subscription) {
	defer sub.drop()
	ch := pubsub.ChannelWithSubscriptions(ctx, subscriptionBuffer)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			f.relay(raw, sub)
		}
	}
}

func (f *RedisFeed) relay(raw interface{}, sub *subscription) {
	switch msg := raw.(type) {
	case *redis.Subscription:
		if msg.Kind == "subscribe" {
			f.log.Info().Str("channel", msg.Channel).Msg("pub/sub subscription re-established")
			sub.signalReconnect()
		}
	case *redis.Message:
		event, err := decodeChangeEvent([]byte(msg.Payload))
		if err != nil {
			f.log.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed change event")
			return
		}
		sub.deliver(event)
	}
}

// Publish announces a change to every subscriber of the channel.
func (f *RedisFeed) Publish(ctx context.Context, event leadsync.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
