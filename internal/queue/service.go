package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a durable, priority-ordered job queue backed by Redis.
//
// Waiting jobs live in a sorted set scored by (priority band, enqueue time)
// so lower priorities dispatch first and equal priorities keep FIFO order.
// Delayed jobs wait in a second sorted set scored by their ready time and are
// promoted on every poll. Job bodies are stored in a hash keyed by job id, which
// doubles as the dedup index: a second enqueue of an id that is still
// pending is dropped rather than double-processed.
type Queue struct {
	rdb    *redis.Client
	config *Config
	logger Logger

	// now is swapped out in tests
	now func() time.Time
}

// NewQueue creates a queue bound to the given Redis client
func NewQueue(rdb *redis.Client, config *Config, logger Logger) *Queue {
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	return &Queue{
		rdb:    rdb,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (q *Queue) waitingKey() string   { return q.config.Name + ":waiting" }
func (q *Queue) delayedKey() string   { return q.config.Name + ":delayed" }
func (q *Queue) dataKey() string      { return q.config.Name + ":jobs" }
func (q *Queue) completedKey() string { return q.config.Name + ":completed" }
func (q *Queue) deadKey() string      { return q.config.Name + ":dead" }

// waitingScore orders by priority band first, enqueue time second
func (q *Queue) waitingScore(priority int, at time.Time) float64 {
	return float64(priority)*1e13 + float64(at.UnixMilli())
}

// Enqueue adds a job. If another job with the same id is still pending
// (waiting, delayed or active) the submission is deduplicated and Enqueue
// reports false.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.ID == "" {
		return false, fmt.Errorf("job id is required")
	}
	if job.Priority == 0 {
		job.Priority = PriorityNormal
	}
	job.State = StateWaiting
	job.CreatedAt = q.now()

	existing, err := q.getJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.State != StateCompleted && existing.State != StateDead {
		q.logger.LogDebug("Duplicate job submission ignored", map[string]interface{}{
			"jobId": job.ID,
			"kind":  job.Kind,
			"state": string(existing.State),
		})
		return false, nil
	}

	if err := q.putJob(ctx, job); err != nil {
		return false, err
	}
	score := q.waitingScore(job.Priority, job.CreatedAt)
	if err := q.rdb.ZAdd(ctx, q.waitingKey(), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %v", job.ID, err)
	}

	q.logger.LogInfo("Job enqueued", map[string]interface{}{
		"jobId":    job.ID,
		"kind":     job.Kind,
		"priority": job.Priority,
	})
	return true, nil
}

// RemoveByGroup deletes every waiting or delayed job belonging to the group.
// This is a point-in-time sweep; a job already running is not interrupted.
func (q *Queue) RemoveByGroup(ctx context.Context, groupID string) (int, error) {
	removed := 0
	for _, key := range []string{q.waitingKey(), q.delayedKey()} {
		ids, err := q.rdb.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list %s: %v", key, err)
		}
		for _, id := range ids {
			job, err := q.getJob(ctx, id)
			if err != nil || job == nil {
				continue
			}
			if job.GroupID != groupID {
				continue
			}
			if err := q.rdb.ZRem(ctx, key, id).Err(); err != nil {
				continue
			}
			q.rdb.HDel(ctx, q.dataKey(), id)
			removed++
			q.logger.LogInfo("Job removed", map[string]interface{}{
				"jobId":   id,
				"groupId": groupID,
			})
		}
	}
	return removed, nil
}

// DeadJobs returns jobs parked after exhausting their attempts, newest first
func (q *Queue) DeadJobs(ctx context.Context) ([]*Job, error) {
	ids, err := q.rdb.ZRevRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %v", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil || job == nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// promoteDelayed moves every delayed job whose ready time has passed back to
// the waiting set
func (q *Queue) promoteDelayed(ctx context.Context) error {
	nowMs := float64(q.now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", nowMs),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil || job == nil {
			q.rdb.ZRem(ctx, q.delayedKey(), id)
			continue
		}
		job.State = StateWaiting
		if err := q.putJob(ctx, job); err != nil {
			continue
		}
		score := q.waitingScore(job.Priority, q.now())
		if err := q.rdb.ZAdd(ctx, q.waitingKey(), redis.Z{Score: score, Member: id}).Err(); err != nil {
			continue
		}
		q.rdb.ZRem(ctx, q.delayedKey(), id)
	}
	return nil
}

// pop claims the next waiting job, or returns nil when the queue is idle
func (q *Queue) pop(ctx context.Context) (*Job, error) {
	res, err := q.rdb.ZPopMin(ctx, q.waitingKey(), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	id, _ := res[0].Member.(string)
	job, err := q.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	job.State = StateActive
	if err := q.putJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// retryOrBury reschedules a failed job with exponential backoff, or parks it
// in the dead set once its attempts are exhausted
func (q *Queue) retryOrBury(ctx context.Context, job *Job, jobErr error) {
	job.Attempts++
	job.LastError = jobErr.Error()

	if job.Attempts < q.config.MaxAttempts {
		backoff := q.config.BackoffBase * time.Duration(1<<(job.Attempts-1))
		readyAt := q.now().Add(backoff)
		job.State = StateDelayed
		if err := q.putJob(ctx, job); err != nil {
			q.logger.LogError(err, "Failed to persist delayed job")
			return
		}
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: job.ID,
		}).Err(); err != nil {
			q.logger.LogError(err, "Failed to delay job")
			return
		}
		q.logger.LogWarn("Job failed, retry scheduled", map[string]interface{}{
			"jobId":    job.ID,
			"kind":     job.Kind,
			"attempts": job.Attempts,
			"backoff":  backoff.String(),
			"error":    jobErr.Error(),
		})
		return
	}

	job.State = StateDead
	if err := q.putJob(ctx, job); err != nil {
		q.logger.LogError(err, "Failed to persist dead job")
		return
	}
	q.rdb.ZAdd(ctx, q.deadKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: job.ID})
	q.pruneSet(ctx, q.deadKey(), q.config.FailedRetained, q.config.FailedMaxAge)
	q.logger.LogError(jobErr, fmt.Sprintf("Job %s dead after %d attempts", job.ID, job.Attempts))
}

// markCompleted records success and prunes old completed jobs
func (q *Queue) markCompleted(ctx context.Context, job *Job) {
	job.State = StateCompleted
	if err := q.putJob(ctx, job); err != nil {
		q.logger.LogError(err, "Failed to persist completed job")
		return
	}
	q.rdb.ZAdd(ctx, q.completedKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: job.ID})
	q.pruneSet(ctx, q.completedKey(), q.config.CompletedRetained, q.config.CompletedMaxAge)
}

// pruneSet enforces the count and age bounds of a terminal-state set
func (q *Queue) pruneSet(ctx context.Context, key string, keep int, maxAge time.Duration) {
	if maxAge > 0 {
		cutoff := float64(q.now().Add(-maxAge).UnixMilli())
		old, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", cutoff)}).Result()
		if err == nil && len(old) > 0 {
			q.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))
			q.rdb.HDel(ctx, q.dataKey(), old...)
		}
	}
	if keep > 0 {
		count, err := q.rdb.ZCard(ctx, key).Result()
		if err != nil || count <= int64(keep) {
			return
		}
		excess, err := q.rdb.ZRange(ctx, key, 0, count-int64(keep)-1).Result()
		if err != nil || len(excess) == 0 {
			return
		}
		q.rdb.ZRemRangeByRank(ctx, key, 0, count-int64(keep)-1)
		q.rdb.HDel(ctx, q.dataKey(), excess...)
	}
}

func (q *Queue) getJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.HGet(ctx, q.dataKey(), id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %v", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %v", id, err)
	}
	return &job, nil
}

func (q *Queue) putJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %v", job.ID, err)
	}
	if err := q.rdb.HSet(ctx, q.dataKey(), job.ID, raw).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %v", job.ID, err)
	}
	return nil
}
