package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job states.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var ErrUnknownQueue = errors.New("unknown queue")

// Job is one unit of queued work. Data is an opaque JSON document owned by
// the worker that registered the queue.
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Name          string          `json:"name"`
	Data          json.RawMessage `json:"data"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	BackoffBase   time.Duration   `json:"backoff_base"`
	BackoffCap    time.Duration   `json:"backoff_cap"`
	State         string          `json:"state"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NextBackoff computes the delay before attempt n+1:
// min(cap, base * 2^(attempts_made-1)).
func (j *Job) NextBackoff() time.Duration {
	if j.BackoffBase <= 0 {
		return 0
	}
	d := j.BackoffBase
	for i := 1; i < j.AttemptsMade; i++ {
		d *= 2
		if j.BackoffCap > 0 && d >= j.BackoffCap {
			return j.BackoffCap
		}
	}
	if j.BackoffCap > 0 && d > j.BackoffCap {
		d = j.BackoffCap
	}
	return d
}

// Counts mirrors the queue states for monitoring.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Queue is a Redis-backed task queue. Producers push JSON jobs; consumers
// fetch with an atomic waiting->active move, then mark complete or failed.
// Failed jobs with attempts left are parked in a delayed ZSET and promoted
// back to waiting when due; exhausted jobs land in the failed list (DLQ).
type Queue struct {
	client *redis.Client
	known  map[string]struct{}

	completedTTL time.Duration
	leaseTTL     time.Duration
}

func New(client *redis.Client, queues []string) *Queue {
	known := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		known[q] = struct{}{}
	}
	return &Queue{
		client:       client,
		known:        known,
		completedTTL: 24 * time.Hour,
		leaseTTL:     time.Minute,
	}
}

// SetLeaseTTL overrides how long a fetched job may stay active before the
// reclaimer treats its worker as dead.
func (q *Queue) SetLeaseTTL(d time.Duration) {
	if d > 0 {
		q.leaseTTL = d
	}
}

func (q *Queue) Known(queue string) bool {
	_, ok := q.known[queue]
	return ok
}

func (q *Queue) Queues() []string {
	out := make([]string, 0, len(q.known))
	for name := range q.known {
		out = append(out, name)
	}
	return out
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func waitingKey(queue string) string { return "tq:" + queue + ":waiting" }
func delayedKey(queue string) string { return "tq:" + queue + ":delayed" }
func activeKey(queue string) string  { return "tq:" + queue + ":active" }
func failedKey(queue string) string  { return "tq:" + queue + ":failed" }
func leaseKey(queue string) string   { return "tq:" + queue + ":leases" }
func doneKey(queue string) string    { return "tq:" + queue + ":completed" }
func jobKey(queue, id string) string { return "tq:" + queue + ":job:" + id }

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, jobKey(job.Queue, job.ID), body, 0).Err()
}

func (q *Queue) loadJob(ctx context.Context, queue, id string) (*Job, error) {
	body, err := q.client.Get(ctx, jobKey(queue, id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Enqueue adds a job. With a positive delay it starts in the delayed state.
func (q *Queue) Enqueue(ctx context.Context, queue, name string, data any, opts EnqueueOptions) (*Job, error) {
	if !q.Known(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Name:        name,
		Data:        body,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		BackoffCap:  opts.BackoffCap,
		State:       StateWaiting,
		CreatedAt:   time.Now().UTC(),
	}

	if opts.Delay > 0 {
		runAt := time.Now().UTC().Add(opts.Delay)
		job.State = StateDelayed
		job.NextRunAt = &runAt
		if err := q.saveJob(ctx, job); err != nil {
			return nil, err
		}
		if err := q.client.ZAdd(ctx, delayedKey(queue), redis.Z{
			Score:  float64(runAt.UnixMilli()),
			Member: job.ID,
		}).Err(); err != nil {
			return nil, err
		}
		return job, nil
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, waitingKey(queue), job.ID).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// PromoteDelayed moves due delayed jobs into the waiting list. Consumers
// call this on every fetch tick.
func (q *Queue) PromoteDelayed(ctx context.Context, queue string) error {
	now := float64(time.Now().UTC().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey(queue), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another promoter won
		}
		job, err := q.loadJob(ctx, queue, id)
		if err != nil {
			continue
		}
		job.State = StateWaiting
		job.NextRunAt = nil
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		if err := q.client.LPush(ctx, waitingKey(queue), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// ReclaimStalled fails active jobs whose lease expired, which sends them
// through the normal retry/DLQ path. A lease expires when the worker that
// fetched the job died before Complete or Fail.
func (q *Queue) ReclaimStalled(ctx context.Context, queue string) error {
	now := float64(time.Now().UTC().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, leaseKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, leaseKey(queue), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another reclaimer won
		}
		job, err := q.loadJob(ctx, queue, id)
		if err != nil {
			_ = q.client.LRem(ctx, activeKey(queue), 1, id).Err()
			continue
		}
		if err := q.Fail(ctx, job, errors.New("lease expired, worker presumed dead")); err != nil {
			return err
		}
	}
	return nil
}

// Fetch pops one waiting job into the active list under a lease. Returns
// nil when the queue is empty.
func (q *Queue) Fetch(ctx context.Context, queue string) (*Job, error) {
	if err := q.ReclaimStalled(ctx, queue); err != nil {
		return nil, err
	}
	if err := q.PromoteDelayed(ctx, queue); err != nil {
		return nil, err
	}

	id, err := q.client.LMove(ctx, waitingKey(queue), activeKey(queue), "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	job, err := q.loadJob(ctx, queue, id)
	if err != nil {
		// Orphaned id; drop it from active so it cannot wedge the list.
		_ = q.client.LRem(ctx, activeKey(queue), 1, id).Err()
		return nil, err
	}
	job.State = StateActive
	job.AttemptsMade++
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.ZAdd(ctx, leaseKey(queue), redis.Z{
		Score:  float64(time.Now().UTC().Add(q.leaseTTL).UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete acknowledges a job and retires it.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, activeKey(job.Queue), 1, job.ID).Err(); err != nil {
		return err
	}
	if err := q.client.ZRem(ctx, leaseKey(job.Queue), job.ID).Err(); err != nil {
		return err
	}
	job.State = StateCompleted
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, jobKey(job.Queue, job.ID), body, q.completedTTL).Err(); err != nil {
		return err
	}
	return q.client.Incr(ctx, doneKey(job.Queue)).Err()
}

// Fail records a failed attempt. With attempts remaining the job is parked
// delayed for its backoff; otherwise it moves to the failed list (DLQ).
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if err := q.client.LRem(ctx, activeKey(job.Queue), 1, job.ID).Err(); err != nil {
		return err
	}
	if err := q.client.ZRem(ctx, leaseKey(job.Queue), job.ID).Err(); err != nil {
		return err
	}
	if cause != nil {
		job.FailureReason = cause.Error()
	}

	if job.AttemptsMade < job.MaxAttempts {
		delay := job.NextBackoff()
		runAt := time.Now().UTC().Add(delay)
		job.State = StateDelayed
		job.NextRunAt = &runAt
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		return q.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(runAt.UnixMilli()),
			Member: job.ID,
		}).Err()
	}

	job.State = StateFailed
	job.NextRunAt = nil
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.LPush(ctx, failedKey(job.Queue), job.ID).Err()
}

// Stats returns the per-state depth of one queue.
func (q *Queue) Stats(ctx context.Context, queue string) (Counts, error) {
	if !q.Known(queue) {
		return Counts{}, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	var c Counts
	var err error
	if c.Waiting, err = q.client.LLen(ctx, waitingKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Active, err = q.client.LLen(ctx, activeKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Failed, err = q.client.LLen(ctx, failedKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Delayed, err = q.client.ZCard(ctx, delayedKey(queue)).Result(); err != nil {
		return c, err
	}
	done, err := q.client.Get(ctx, doneKey(queue)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return c, err
	}
	c.Completed = done
	return c, nil
}
