package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "reflectcoach:job:"
	JobQueueKey      = "reflectcoach:job_queue"
	JobProcessingKey = "reflectcoach:job_processing"
	JobDelayedKey    = "reflectcoach:job_delayed"
	JobStatsKey      = "reflectcoach:job_stats"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour
)

// promoteScript moves delayed jobs whose due time has passed back onto the
// pending list.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// ErrDiscard marks a handler failure that retrying cannot fix.
var ErrDiscard = errors.New("jobqueue: discard job")

// Handler processes one job of a registered type.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	handlers   map[JobType]Handler
	hmu        sync.RWMutex
	retryDelay func(attempt int) time.Duration
	promoteInt time.Duration
	stopCh     chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	log        zerolog.Logger
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}

	return &Queue{
		client:     client,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		handlers:   make(map[JobType]Handler),
		retryDelay: func(attempt int) time.Duration { return time.Minute * time.Duration(attempt) },
		promoteInt: time.Second,
		stopCh:     make(chan struct{}),
		log:        logging.Component("jobqueue"),
	}
}

// Register sets the handler for a job type. Call before Start.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.handlers[jobType] = h
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.log.Info().Int("workers", q.workers).Msg("Starting job queue workers")

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	// Recovers jobs left in the processing list by a crashed worker
	q.wg.Add(1)
	go q.stuckSweeper(ctx, 10*time.Minute, time.Minute)

	q.wg.Add(1)
	go q.delayedPromoter(ctx, q.promoteInt)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	q.log.Info().Msg("Stopping job queue workers")
	close(q.stopCh)
	q.cancel()
	q.running = false
	q.wg.Wait()
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	q.log.Info().Msg("All job queue workers stopped")
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(ctx context.Context, maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.recoverStuck(ctx, maxAge, time.Now().UTC())
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration, now time.Time) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		q.log.Error().Err(err).Msg("Sweeper could not list processing jobs")
		return
	}
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.log.Error().Err(err).Str("job_id", id).Msg("Sweeper could not load job")
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) > maxAge {
			q.log.Warn().Str("job_id", job.ID).Str("type", string(job.Type)).Dur("age", now.Sub(started)).Msg("Recovering stuck job")
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			q.updateJob(ctx, job)
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			_ = q.client.RPush(ctx, JobQueueKey, id).Err()
		}
	}
}

// delayedPromoter periodically moves due retries back onto the pending list.
// Retries wait in Redis, so a stop or crash between attempts loses nothing.
func (q *Queue) delayedPromoter(ctx context.Context, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				q.log.Error().Err(err).Msg("Could not promote delayed jobs")
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int64, error) {
	return promoteScript.Run(ctx, q.client, []string{JobDelayedKey, JobQueueKey}, now.UnixMilli(), 100).Int64()
}

// worker processes jobs from the queue
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.log.With().Int("worker", id).Logger()
	logger.Debug().Msg("Worker started")

	for {
		select {
		case <-q.stopCh:
			logger.Debug().Msg("Worker stopping")
			return
		default:
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil {
				q.workerPool <- struct{}{}
				if ctx.Err() != nil {
					continue
				}
				if !errors.Is(err, redis.Nil) {
					logger.Error().Err(err).Msg("Error dequeuing job")
					time.Sleep(time.Second)
				}
				continue
			}

			if job != nil {
				logger.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Processing job")
				q.processJob(ctx, job)
			}

			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	if q == nil || q.client == nil {
		return nil, errors.New("job queue not configured")
	}
	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Enqueued job")
	return job, nil
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

// processJob runs the registered handler and applies the retry policy.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	q.hmu.RLock()
	handler, ok := q.handlers[job.Type]
	q.hmu.RUnlock()

	var err error
	if ok {
		err = handler(ctx, job)
	} else {
		err = fmt.Errorf("%w: unknown job type %s", ErrDiscard, job.Type)
	}

	// Bookkeeping outlives a Stop that cancels the handler.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		job.MarkAsFailed(err.Error())
		if errors.Is(err, ErrDiscard) {
			job.RetryCount = job.MaxRetries
		}

		if job.IsRetryable() {
			q.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", job.RetryCount).Int("max", job.MaxRetries).Msg("Job failed, retrying")
			job.MarkAsRetrying()
			q.updateJob(ctx, job)

			due := time.Now().UTC().Add(q.retryDelay(job.RetryCount))
			if err := q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID}).Err(); err != nil {
				q.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to schedule retry")
			}
		} else {
			q.log.Error().Err(err).Str("job_id", job.ID).Int("retries", job.RetryCount).Msg("Job permanently failed")
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
		}
	} else {
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
	}

	q.removeFromProcessing(ctx, job.ID)
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to marshal job")
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to update job")
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to remove job from processing list")
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to remove completed job")
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		q.log.Error().Err(err).Msg("Failed to update job stats")
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if n, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
