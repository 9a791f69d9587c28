package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel shared by instances.
const DefaultChannel = "call-lead-pipeline:events"

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay shares events between instances. Local events go to the hub
// and to Redis; events from other instances are republished on the hub.
type RedisRelay struct {
	rdb      *redis.Client
	hub      *Hub
	channel  string
	instance string
	log      *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, channel, instanceID string, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{rdb: rdb, hub: hub, channel: channel, instance: instanceID, log: log}
}

func (r *RedisRelay) Publish(ev Event) {
	r.hub.Publish(ev)
	b, err := json.Marshal(envelope{Origin: r.instance, Event: ev})
	if err != nil {
		r.log.Warn("relay encode failed", "err", err)
		return
	}
	if err := r.rdb.Publish(context.Background(), r.channel, b).Err(); err != nil {
		r.log.Warn("relay publish failed", "call_id", ev.CallID, "err", err)
	}
}

// Run consumes remote events until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if ev, ok := r.decode(msg.Payload); ok {
				r.hub.Publish(ev)
			}
		}
	}
}

// decode returns the event carried by payload unless it is malformed or
// was published by this instance.
func (r *RedisRelay) decode(payload string) (Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("relay decode failed", "err", err)
		return Event{}, false
	}
	if env.Origin == r.instance {
		return Event{}, false
	}
	return env.Event, true
}
