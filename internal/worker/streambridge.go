package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/infrastructure/redisstream"
)

// Deduper suppresses redelivered stream entries. Delivery is at-least-once,
// so consumers check Seen before acting and call Mark only once the work
// stuck. Marking first would turn a failed handler into a lost event.
type Deduper struct {
	client *redis.Client
	group  string
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, group string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{client: client, group: group, ttl: ttl}
}

func (d *Deduper) key(eventID string) string {
	return "dedupe:" + d.group + ":" + eventID
}

// Seen reports whether eventID was already processed.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records eventID as processed.
func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, d.key(eventID), 1, d.ttl).Err()
}

// SearchBridge turns committed catalog-affecting events into search-indexing
// jobs. It consumes the order and inventory streams so the index keeps up
// with demand without the write path knowing about search.
type SearchBridge struct {
	indexer *SearchIndexer
	dedupe  *Deduper
	lg      zerolog.Logger
}

func NewSearchBridge(indexer *SearchIndexer, dedupe *Deduper, lg zerolog.Logger) *SearchBridge {
	return &SearchBridge{
		indexer: indexer,
		dedupe:  dedupe,
		lg:      lg.With().Str("component", "search_bridge").Logger(),
	}
}

// Topics lists the streams the bridge subscribes to.
func (b *SearchBridge) Topics() []string {
	return []string{
		event.Topic(event.TypeOrderCreated),
		event.Topic(event.TypeInventoryCommitted),
		event.Topic(event.TypeInventoryExpired),
		event.Topic(event.TypeInventoryReleased),
	}
}

// Handle is the stream consumer callback. An error leaves the entry pending
// for redelivery, so the dedupe mark is only set after the enqueue sticks.
func (b *SearchBridge) Handle(ctx context.Context, msg redisstream.Message) error {
	seen, err := b.dedupe.Seen(ctx, msg.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	var productIDs []string
	switch msg.EventType {
	case event.TypeOrderCreated:
		var p event.OrderCreatedPayload
		env, err := event.Decode(msg.Payload)
		if err != nil {
			b.lg.Warn().Err(err).Str("event_id", msg.EventID).Msg("undecodable envelope, dropping")
			return nil
		}
		if err := env.DecodePayload(&p); err != nil {
			b.lg.Warn().Err(err).Str("event_id", msg.EventID).Msg("undecodable payload, dropping")
			return nil
		}
		for _, item := range p.Items {
			productIDs = append(productIDs, item.VariantID)
		}
	case event.TypeInventoryCommitted, event.TypeInventoryExpired, event.TypeInventoryReleased:
		var p event.InventoryPayload
		env, err := event.Decode(msg.Payload)
		if err != nil {
			b.lg.Warn().Err(err).Str("event_id", msg.EventID).Msg("undecodable envelope, dropping")
			return nil
		}
		if err := env.DecodePayload(&p); err != nil {
			b.lg.Warn().Err(err).Str("event_id", msg.EventID).Msg("undecodable payload, dropping")
			return nil
		}
		productIDs = append(productIDs, p.VariantID)
	default:
		return nil
	}

	for _, id := range productIDs {
		if _, err := b.indexer.Enqueue(ctx, id, SearchActionReindex); err != nil {
			return err
		}
	}
	return b.dedupe.Mark(ctx, msg.EventID)
}
