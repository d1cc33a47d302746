package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DLQ exposes the uniform failed-job administration surface over every
// registered queue.
type DLQ struct {
	queue *Queue
}

func NewDLQ(queue *Queue) *DLQ {
	return &DLQ{queue: queue}
}

// GetFailedJobs returns up to limit failed jobs, newest first.
func (d *DLQ) GetFailedJobs(ctx context.Context, queue string, limit int) ([]Job, error) {
	if !d.queue.Known(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if limit <= 0 {
		limit = 50
	}
	ids, err := d.queue.client.LRange(ctx, failedKey(queue), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := d.queue.loadJob(ctx, queue, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // payload expired; tolerate
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// RetryJob moves one failed job back to waiting with its retry counter
// reset, so it gets a fresh attempt budget.
func (d *DLQ) RetryJob(ctx context.Context, queue, id string) error {
	if !d.queue.Known(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	removed, err := d.queue.client.LRem(ctx, failedKey(queue), 1, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("failed job %s not found in queue %s", id, queue)
	}

	job, err := d.queue.loadJob(ctx, queue, id)
	if err != nil {
		return err
	}
	job.State = StateWaiting
	job.AttemptsMade = 0
	job.FailureReason = ""
	job.NextRunAt = nil
	if err := d.queue.saveJob(ctx, job); err != nil {
		return err
	}
	return d.queue.client.LPush(ctx, waitingKey(queue), id).Err()
}

// RemoveFailedJob drops one failed job and its payload.
func (d *DLQ) RemoveFailedJob(ctx context.Context, queue, id string) error {
	if !d.queue.Known(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	removed, err := d.queue.client.LRem(ctx, failedKey(queue), 1, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("failed job %s not found in queue %s", id, queue)
	}
	return d.queue.client.Del(ctx, jobKey(queue, id)).Err()
}

// GetFailedJobCounts returns the failed depth for every registered queue.
func (d *DLQ) GetFailedJobCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(d.queue.known))
	for queue := range d.queue.known {
		n, err := d.queue.client.LLen(ctx, failedKey(queue)).Result()
		if err != nil {
			return nil, err
		}
		out[queue] = n
	}
	return out, nil
}
