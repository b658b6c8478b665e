package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
)

// DefaultChannel is the redis pub/sub channel shared by all instances.
const DefaultChannel = "esquisse:events"

type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// RedisRelay publishes events on the local bus and mirrors them through redis
// so that subscribers connected to other instances receive them too.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Bus
}

// NewRedisRelay connects to redisURL (redis://host:port/db).
func NewRedisRelay(redisURL, channel string, local *Bus) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Log.Infof("Connected to Redis at %s", opts.Addr)
	return newRedisRelay(client, channel, local), nil
}

func newRedisRelay(client *redis.Client, channel string, local *Bus) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event models.Event) {
	r.local.Publish(ctx, event)

	data, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		logger.Log.Errorf("Failed to encode %s event for redis: %v", event.Topic, err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		logger.Log.Warnf("Failed to relay %s event of session %s: %v", event.Topic, event.SessionID, err)
	}
}

// Run feeds events published by other instances into the local bus until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			r.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Log.Warnf("Dropping malformed relay message: %v", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(ctx, env.Event)
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
