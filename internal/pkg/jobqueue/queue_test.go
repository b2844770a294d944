package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.running)
		})
	}
}

func TestEnqueueWithoutClient(t *testing.T) {
	_, err := NewQueue(nil, 1).EnqueueJob(context.Background(), JobTypeWelcomeEmail, nil)
	assert.Error(t, err)

	var q *Queue
	_, err = q.EnqueueJob(context.Background(), JobTypeWelcomeEmail, nil)
	assert.Error(t, err)
}

func TestQueueProcessesRegisteredJob(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 2)
	var handled atomic.Int32
	q.Register(JobTypeWelcomeEmail, func(_ context.Context, job *Job) error {
		payload, err := WelcomeEmailJobPayloadFromMap(job.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint(9), payload.UserID)
		handled.Add(1)
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypeWelcomeEmail, WelcomeEmailJobPayload{UserID: 9}.ToMap())
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	require.True(t, waitFor(func() bool { return handled.Load() == 1 }, 5*time.Second))
	require.True(t, waitFor(func() bool {
		n, _ := q.GetProcessingSize(ctx)
		return n == 0
	}, 2*time.Second))

	_, err = q.GetJob(ctx, job.ID)
	assert.Error(t, err, "completed jobs are removed")

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueueRetriesThenDiscards(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	q.retryDelay = func(int) time.Duration { return 10 * time.Millisecond }
	q.promoteInt = 10 * time.Millisecond
	var attempts atomic.Int32
	q.Register(JobTypeWelcomeEmail, func(context.Context, *Job) error {
		attempts.Add(1)
		return errors.New("smtp unavailable")
	})

	job, err := q.EnqueueJob(ctx, JobTypeWelcomeEmail, WelcomeEmailJobPayload{UserID: 1}.ToMap())
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	require.True(t, waitFor(func() bool {
		stored, err := q.GetJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusFailed && !stored.IsRetryable()
	}, 5*time.Second))
	assert.Equal(t, int32(DefaultMaxRetries), attempts.Load())
}

func TestQueueDiscardSkipsRetries(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	job := &Job{ID: "discard-me", Type: JobTypeWelcomeEmail, MaxRetries: 3}
	q.Register(JobTypeWelcomeEmail, func(context.Context, *Job) error {
		return ErrDiscard
	})

	q.processJob(ctx, job)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.False(t, job.IsRetryable())
}

func TestRecoverStuckRequeuesOldJobs(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	started := time.Now().UTC().Add(-time.Hour)
	job := &Job{ID: "stuck", Type: JobTypeWelcomeEmail, Status: JobStatusProcessing, ProcessedAt: &started, UpdatedAt: started}
	q.updateJob(ctx, job)
	require.NoError(t, client.LPush(ctx, JobProcessingKey, job.ID).Err())

	q.recoverStuck(ctx, 10*time.Minute, time.Now().UTC())

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
	pending, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func TestRetryWaitsInRedisAcrossRestart(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	var attempts atomic.Int32
	handler := func(context.Context, *Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("smtp unavailable")
		}
		return nil
	}

	q := NewQueue(client, 1)
	q.retryDelay = func(int) time.Duration { return 300 * time.Millisecond }
	q.promoteInt = 10 * time.Millisecond
	q.Register(JobTypeWelcomeEmail, handler)

	job, err := q.EnqueueJob(ctx, JobTypeWelcomeEmail, WelcomeEmailJobPayload{UserID: 4}.ToMap())
	require.NoError(t, err)

	q.Start()
	require.True(t, waitFor(func() bool {
		n, _ := q.GetDelayedSize(ctx)
		return n == 1
	}, 5*time.Second))
	q.Stop()

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)

	// The retry comes due while no worker is running.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())

	next := NewQueue(client, 1)
	next.promoteInt = 10 * time.Millisecond
	next.Register(JobTypeWelcomeEmail, handler)
	next.Start()
	defer next.Stop()

	require.True(t, waitFor(func() bool { return attempts.Load() == 2 }, 5*time.Second))
	delayed, err := next.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestPromoteDueMovesOnlyDueJobs(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, 1)

	now := time.Now().UTC()
	require.NoError(t, client.ZAdd(ctx, JobDelayedKey,
		redis.Z{Score: float64(now.Add(-time.Second).UnixMilli()), Member: "due"},
		redis.Z{Score: float64(now.Add(time.Hour).UnixMilli()), Member: "later"},
	).Err())

	moved, err := q.promoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	pending, err := client.LRange(ctx, JobQueueKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, pending)
	delayed, err := q.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}
