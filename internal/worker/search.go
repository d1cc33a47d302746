package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
	"github.com/shopstream/commerce-core/internal/outbox"
)

const QueueSearchIndexing = "search-indexing"

// Search job actions.
const (
	SearchActionIndex   = "index"
	SearchActionDelete  = "delete"
	SearchActionReindex = "reindex"
)

type SearchJob struct {
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
}

// SearchIndex is the downstream search engine the indexing worker feeds.
type SearchIndex interface {
	Index(ctx context.Context, productID string) error
	Delete(ctx context.Context, productID string) error
}

// MemorySearchIndex records indexed product ids in process. Stands in for
// the real search cluster in development and tests.
type MemorySearchIndex struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemorySearchIndex() *MemorySearchIndex {
	return &MemorySearchIndex{ids: make(map[string]struct{})}
}

func (m *MemorySearchIndex) Index(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[productID] = struct{}{}
	return nil
}

func (m *MemorySearchIndex) Delete(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, productID)
	return nil
}

func (m *MemorySearchIndex) Contains(productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[productID]
	return ok
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// SearchIndexer applies queued index mutations and records the outcome as
// search.* events through the outbox.
type SearchIndexer struct {
	queue  *taskqueue.Queue
	index  SearchIndex
	tx     txRunner
	events outbox.Appender
	opts   taskqueue.EnqueueOptions
	source string
	lg     zerolog.Logger
}

func NewSearchIndexer(queue *taskqueue.Queue, index SearchIndex, tx txRunner,
	events outbox.Appender, opts taskqueue.EnqueueOptions, source string, lg zerolog.Logger) *SearchIndexer {
	return &SearchIndexer{
		queue:  queue,
		index:  index,
		tx:     tx,
		events: events,
		opts:   opts,
		source: source,
		lg:     lg.With().Str("component", "search_indexer").Logger(),
	}
}

func (s *SearchIndexer) Enqueue(ctx context.Context, productID, action string) (*taskqueue.Job, error) {
	return s.queue.Enqueue(ctx, QueueSearchIndexing, action, SearchJob{
		ProductID: productID,
		Action:    action,
	}, s.opts)
}

func (s *SearchIndexer) Handler() taskqueue.HandlerFunc {
	return func(ctx context.Context, job *taskqueue.Job) error {
		var sj SearchJob
		if err := json.Unmarshal(job.Data, &sj); err != nil {
			job.AttemptsMade = job.MaxAttempts
			return domain.Wrap(domain.KindFatal, "malformed search job", err)
		}

		var eventType string
		switch sj.Action {
		case SearchActionIndex:
			if err := s.index.Index(ctx, sj.ProductID); err != nil {
				return domain.Wrap(domain.KindTransientUpstream, "search index", err)
			}
			eventType = event.TypeSearchIndexed
		case SearchActionReindex:
			// Drop the stale document first so removed fields do not linger.
			if err := s.index.Delete(ctx, sj.ProductID); err != nil {
				return domain.Wrap(domain.KindTransientUpstream, "search delete", err)
			}
			if err := s.index.Index(ctx, sj.ProductID); err != nil {
				return domain.Wrap(domain.KindTransientUpstream, "search index", err)
			}
			eventType = event.TypeSearchIndexed
		case SearchActionDelete:
			if err := s.index.Delete(ctx, sj.ProductID); err != nil {
				return domain.Wrap(domain.KindTransientUpstream, "search delete", err)
			}
			eventType = event.TypeSearchDeleted
		default:
			job.AttemptsMade = job.MaxAttempts
			return domain.Ef(domain.KindFatal, "unknown search action %q", sj.Action)
		}

		env, err := event.NewEnvelope(eventType, s.source, event.SearchPayload{
			ProductID: sj.ProductID,
			Action:    sj.Action,
		}, nil)
		if err != nil {
			return err
		}
		return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
			return outbox.WriteEvent(ctx, s.events, tx, env)
		})
	}
}
