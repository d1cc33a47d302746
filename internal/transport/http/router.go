package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
	"github.com/shopstream/commerce-core/internal/monitoring"
	"github.com/shopstream/commerce-core/internal/outbox"
)

// OutboxCounter is the slice of the outbox store the ops surface reads.
type OutboxCounter interface {
	CountUnsent(ctx context.Context, maxAttempts int) (int64, error)
	CountDead(ctx context.Context, maxAttempts int) (int64, error)
}

// Server is the ops surface: health, metrics, queue stats, and DLQ
// administration. Business traffic does not come through here.
type Server struct {
	health            *monitoring.HealthRegistry
	monitor           *monitoring.QueueMonitor
	dlq               *taskqueue.DLQ
	outboxStore       OutboxCounter
	outboxMaxAttempts int
	lg                zerolog.Logger
}

func NewServer(health *monitoring.HealthRegistry, monitor *monitoring.QueueMonitor,
	dlq *taskqueue.DLQ, outboxStore OutboxCounter, outboxMaxAttempts int, lg zerolog.Logger) *Server {
	return &Server{
		health:            health,
		monitor:           monitor,
		dlq:               dlq,
		outboxStore:       outboxStore,
		outboxMaxAttempts: outboxMaxAttempts,
		lg:                lg.With().Str("component", "ops_http").Logger(),
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", monitoring.MetricsHandler())

	r.Route("/ops", func(r chi.Router) {
		r.Get("/queues", s.handleQueueStats)
		r.Get("/outbox", s.handleOutboxStats)
		r.Get("/dlq", s.handleDLQCounts)
		r.Get("/dlq/{queue}", s.handleDLQList)
		r.Post("/dlq/{queue}/{id}/retry", s.handleDLQRetry)
		r.Delete("/dlq/{queue}/{id}", s.handleDLQRemove)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Check(r.Context())
	status := http.StatusOK
	if h.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	backlog, err := s.outboxStore.CountUnsent(ctx, s.outboxMaxAttempts)
	if err != nil {
		s.fail(w, err)
		return
	}
	dead, err := s.outboxStore.CountDead(ctx, s.outboxMaxAttempts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"backlog": backlog, "dead": dead})
}

func (s *Server) handleDLQCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.dlq.GetFailedJobCounts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleDLQList(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.dlq.GetFailedJobs(r.Context(), queue, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	id := chi.URLParam(r, "id")
	if err := s.dlq.RetryJob(r.Context(), queue, id); err != nil {
		s.fail(w, err)
		return
	}
	s.lg.Info().Str("queue", queue).Str("job_id", id).Msg("failed job requeued")
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": id})
}

func (s *Server) handleDLQRemove(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	id := chi.URLParam(r, "id")
	if err := s.dlq.RemoveFailedJob(r.Context(), queue, id); err != nil {
		s.fail(w, err)
		return
	}
	s.lg.Info().Str("queue", queue).Str("job_id", id).Msg("failed job removed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, taskqueue.ErrUnknownQueue) {
		status = http.StatusNotFound
	}
	s.lg.Warn().Err(err).Int("status", status).Msg("ops request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ OutboxCounter = (outbox.Store)(nil)
