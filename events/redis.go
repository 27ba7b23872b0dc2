package events

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBridge carries worker events between processes over a Redis channel.
// Events published through it reach the local bus directly and every other
// process's bus through Run.
type RedisBridge struct {
	client  *redis.Client
	channel string
	local   *Bus[WorkerEvent]
	origin  string

	reconnectDelay time.Duration
}

func NewRedisBridge(client *redis.Client, channel string, local *Bus[WorkerEvent]) *RedisBridge {
	if client == nil {
		panic("events.NewRedisBridge: redis client is nil")
	}
	return &RedisBridge{
		client:         client,
		channel:        channel,
		local:          local,
		origin:         uuid.NewString(),
		reconnectDelay: time.Second,
	}
}

// Publish delivers ev locally and to the Redis channel.
func (b *RedisBridge) Publish(ctx context.Context, ev WorkerEvent) error {
	ev.Origin = b.origin
	b.local.Publish(ev)
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Run re-broadcasts events from other processes to the local bus until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) {
	for {
		sub := b.client.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev WorkerEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					log.WithError(err).WithField("channel", b.channel).Error("unable to parse worker event")
					continue
				}
				if ev.Origin == b.origin {
					continue
				}
				b.local.Publish(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", b.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.reconnectDelay):
		}
	}
}
