package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/backend/internal/logger"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &Config{
		Name:              "test-queue",
		Concurrency:       2,
		MaxAttempts:       3,
		BackoffBase:       5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		CompletedRetained: 2,
		CompletedMaxAge:   24 * time.Hour,
		FailedRetained:    3,
		FailedMaxAge:      7 * 24 * time.Hour,
	}
	return NewQueue(rdb, cfg, logger.NewNopLogger()), mr
}

func testJob(id, kind string, priority int) *Job {
	payload, _ := json.Marshal(map[string]string{"videoId": id})
	return &Job{ID: id, Kind: kind, GroupID: id, Payload: payload, Priority: priority}
}

func TestEnqueueDeduplicatesPendingJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	added, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	assert.False(t, added, "second submission of a pending id should be dropped")

	job, err := q.pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "video-1", job.ID)

	// still active, so the id remains deduplicated
	added, err = q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	assert.False(t, added)

	// after completion the id can be reused
	q.markCompleted(ctx, job)
	added, err = q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestPriorityOrderingWithFIFOWithinBand(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	base := time.Now()
	clock := base
	q.now = func() time.Time { return clock }

	_, err := q.Enqueue(ctx, testJob("normal-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	_, err = q.Enqueue(ctx, testJob("normal-2", "transcode", PriorityNormal))
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	_, err = q.Enqueue(ctx, testJob("low-1", "transcode", PriorityLow))
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	_, err = q.Enqueue(ctx, testJob("high-1", "transcode", PriorityHigh))
	require.NoError(t, err)

	var order []string
	for {
		job, err := q.pop(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"high-1", "normal-1", "normal-2", "low-1"}, order)
}

func TestRetryUsesExponentialBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	base := time.Now()
	clock := base
	q.now = func() time.Time { return clock }

	_, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	job, err := q.pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	q.retryOrBury(ctx, job, assert.AnError)
	stored, err := q.getJob(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, assert.AnError.Error(), stored.LastError)

	// not ready before the 5s backoff elapses
	require.NoError(t, q.promoteDelayed(ctx))
	promoted, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, promoted)

	clock = clock.Add(5*time.Second + time.Millisecond)
	require.NoError(t, q.promoteDelayed(ctx))
	promoted, err = q.pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "video-1", promoted.ID)

	// second failure doubles the delay to 10s
	q.retryOrBury(ctx, promoted, assert.AnError)
	clock = clock.Add(5 * time.Second)
	require.NoError(t, q.promoteDelayed(ctx))
	promoted, err = q.pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, promoted)

	clock = clock.Add(5*time.Second + time.Millisecond)
	require.NoError(t, q.promoteDelayed(ctx))
	promoted, err = q.pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, promoted)
}

func TestJobDiesAfterMaxAttempts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	clock := time.Now()
	q.now = func() time.Time { return clock }

	_, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, q.promoteDelayed(ctx))
		job, err := q.pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should find a runnable job", attempt)
		q.retryOrBury(ctx, job, assert.AnError)
		clock = clock.Add(time.Hour)
	}

	stored, err := q.getJob(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, StateDead, stored.State)
	assert.Equal(t, 3, stored.Attempts)

	dead, err := q.DeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "video-1", dead[0].ID)

	// a dead id no longer blocks resubmission
	added, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRemoveByGroupSweepsWaitingAndDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	validate := testJob("validate:video-1", "validate-checksums", PriorityLow)
	validate.GroupID = "video-1"
	_, err = q.Enqueue(ctx, validate)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testJob("video-2", "transcode", PriorityNormal))
	require.NoError(t, err)

	// park the transcode job in the delayed set
	job, err := q.pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	q.retryOrBury(ctx, job, assert.AnError)

	removed, err := q.RemoveByGroup(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// only the other video's job remains
	var order []string
	for {
		j, err := q.pop(ctx)
		require.NoError(t, err)
		if j == nil {
			break
		}
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"video-2"}, order)
}

func TestCompletedSetIsPruned(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	clock := time.Now()
	q.now = func() time.Time { return clock }

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, testJob(id, "transcode", PriorityNormal))
		require.NoError(t, err)
		job, err := q.pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		q.markCompleted(ctx, job)
		clock = clock.Add(time.Second)
	}

	// retention of 2 drops the oldest completed job and its body
	count, err := q.rdb.ZCard(ctx, q.completedKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	gone, err := q.getJob(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestWorkerPoolDispatchesByKind(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 4)
	pool := NewWorkerPool(q, logger.NewNopLogger())
	pool.Register("transcode", func(ctx context.Context, job *Job) error {
		handled <- job.ID
		return nil
	})

	_, err := q.Enqueue(ctx, testJob("video-1", "transcode", PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testJob("video-2", "unknown-kind", PriorityNormal))
	require.NoError(t, err)

	pool.Start(ctx)
	select {
	case id := <-handled:
		assert.Equal(t, "video-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never handled the job")
	}

	// the unknown kind goes through the failure path, not the handler
	require.Eventually(t, func() bool {
		stored, err := q.getJob(ctx, "video-2")
		return err == nil && stored != nil && stored.LastError != ""
	}, 2*time.Second, 10*time.Millisecond)
	pool.Stop()

	stored, err := q.getJob(ctx, "video-2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, StateCompleted, stored.State)
	assert.Contains(t, stored.LastError, "unknown job kind")
}
