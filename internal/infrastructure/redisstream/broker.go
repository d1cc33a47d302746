package redisstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/outbox"
)

// StreamKey returns the Redis stream for a topic: "events:{topic}".
func StreamKey(topic string) string {
	return "events:" + topic
}

// Broker publishes committed events to per-topic append-only streams and
// reads them back by consumer group. Message ids are broker-assigned and
// monotonic per stream; delivery is at-least-once so consumers dedupe on
// the envelope event_id.
type Broker struct {
	client *redis.Client
	lg     zerolog.Logger
}

func New(client *redis.Client, lg zerolog.Logger) *Broker {
	return &Broker{
		client: client,
		lg:     lg.With().Str("component", "stream_broker").Logger(),
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, rec outbox.Record) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(topic),
		Values: map[string]any{
			"event_id":   rec.EventID,
			"event_type": rec.EventType,
			"payload":    string(rec.Payload),
		},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Message is one delivered stream entry.
type Message struct {
	StreamID  string
	Topic     string
	EventID   string
	EventType string
	Payload   []byte
}

// Handler processes one message. A nil return acks; an error leaves the
// entry pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads a set of topics within one consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	topics   []string
	lg       zerolog.Logger

	block time.Duration
	count int64
}

func NewConsumer(client *redis.Client, group, consumer string, topics []string, lg zerolog.Logger) *Consumer {
	return &Consumer{
		client:   client,
		group:    group,
		consumer: consumer,
		topics:   topics,
		lg:       lg.With().Str("component", "stream_consumer").Str("group", group).Logger(),
		block:    2 * time.Second,
		count:    32,
	}
}

// EnsureGroups creates the consumer group on every topic stream, creating
// empty streams as needed. BUSYGROUP means another instance won the race.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, topic := range c.topics {
		err := c.client.XGroupCreateMkStream(ctx, StreamKey(topic), c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// Run blocks reading the group until ctx is cancelled. Handler failures are
// logged and the entry stays pending; stalled entries are reclaimed by the
// broker's pending-entry semantics, not by this loop.
func (c *Consumer) Run(ctx context.Context, handler Handler) {
	streams := make([]string, 0, len(c.topics)*2)
	for _, topic := range c.topics {
		streams = append(streams, StreamKey(topic))
	}
	for range c.topics {
		streams = append(streams, ">")
	}

	for {
		select {
		case <-ctx.Done():
			c.lg.Info().Msg("stopped")
			return
		default:
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  streams,
			Count:    c.count,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.lg.Warn().Err(err).Msg("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			topic := strings.TrimPrefix(stream.Stream, "events:")
			for _, entry := range stream.Messages {
				msg := Message{
					StreamID:  entry.ID,
					Topic:     topic,
					EventID:   stringField(entry.Values, "event_id"),
					EventType: stringField(entry.Values, "event_type"),
					Payload:   []byte(stringField(entry.Values, "payload")),
				}
				if err := handler(ctx, msg); err != nil {
					c.lg.Warn().
						Err(err).
						Str("stream_id", entry.ID).
						Str("event_id", msg.EventID).
						Str("topic", topic).
						Msg("handler failed, leaving pending")
					continue
				}
				if err := c.client.XAck(ctx, stream.Stream, c.group, entry.ID).Err(); err != nil {
					c.lg.Warn().Err(err).Str("stream_id", entry.ID).Msg("ack failed")
				}
			}
		}
	}
}

func stringField(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
