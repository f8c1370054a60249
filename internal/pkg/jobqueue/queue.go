package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Entitled/internal/pkg/cache"
	"github.com/ManuelReschke/Entitled/internal/pkg/metrics"
)

const (
	keyNamespace = "entitled:jobs:"

	// Redis keys
	JobKeyPrefix       = keyNamespace + "job:"
	JobQueueKey        = keyNamespace + "pending"
	JobProcessingKey   = keyNamespace + "processing"
	JobDelayedKey      = keyNamespace + "delayed" // sorted set scored by due unix time
	JobStatsKey        = keyNamespace + "stats"
	JobUniqueKeyPrefix = keyNamespace + "unique:"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	defaultWorkers = 3
	jobTimeout     = 5 * time.Minute
	stuckAfter     = 10 * time.Minute
	maintainEvery  = 15 * time.Second
	dequeueWait    = time.Second
)

// ErrJobAlreadyQueued is returned by EnqueueUniqueJob while a job of the same type is pending.
var ErrJobAlreadyQueued = errors.New("job of this type is already queued")

// Queue is a Redis list backed job queue. Workers move ids from the pending list to the
// processing list atomically; failed jobs wait in a delayed set until their retry is due.
type Queue struct {
	client     *redis.Client
	processors Processors
	workers    int
	retryDelay func(attempt int) time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue builds a queue on the shared cache client.
func NewQueue(workers int, p Processors) *Queue {
	return NewQueueWithClient(cache.GetClient(), workers, p)
}

func NewQueueWithClient(client *redis.Client, workers int, p Processors) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Queue{
		client:     client,
		processors: p,
		workers:    workers,
		retryDelay: linearBackoff,
	}
}

// linearBackoff waits one minute per attempt already made.
func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Minute
}

// Start launches the workers and the maintenance loop. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.maintain(ctx)
}

// Stop cancels the workers and waits for jobs in flight to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.wg.Wait()
	q.running = false
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log.Debugf("[JobQueue] Worker %d started", id)

	for {
		job, err := q.dequeueJob(ctx)
		if err == nil {
			// In-flight jobs are not cut short by Stop.
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
			q.processJob(jobCtx, job)
			cancel()
			continue
		}
		if ctx.Err() != nil {
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		log.Errorf("[JobQueue] Worker %d: %v", id, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (q *Queue) maintain(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := q.promoteDue(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promoting delayed jobs: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue] Requeued %d delayed jobs", n)
			}
			if n, err := q.recoverStuck(ctx, now, stuckAfter); err != nil {
				log.Errorf("[JobQueue] Recovering stuck jobs: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck jobs", n)
			}
		}
	}
}

// EnqueueJob stores a new pending job and pushes it onto the queue.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
		pipe.LPush(ctx, JobQueueKey, job.ID)
		pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// EnqueueUniqueJob enqueues a job unless one of the same type is still pending or running.
// The guard expires after ttl so a crashed worker cannot block the type forever.
func (q *Queue) EnqueueUniqueJob(ctx context.Context, jobType JobType, payload map[string]interface{}, ttl time.Duration) (*Job, error) {
	key := JobUniqueKeyPrefix + string(jobType)
	ok, err := q.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire unique guard for %s: %w", jobType, err)
	}
	if !ok {
		return nil, ErrJobAlreadyQueued
	}

	job, err := q.EnqueueJob(ctx, jobType, payload)
	if err != nil {
		q.client.Del(ctx, key)
		return nil, err
	}
	return job, nil
}

// dequeueJob returns redis.Nil when nothing arrived within dequeueWait.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, dequeueWait).Result()
	if err != nil {
		return nil, err
	}

	// The id is already on the processing list; finish loading it even during Stop.
	ctx = context.WithoutCancel(ctx)
	job, err := q.GetJob(ctx, id)
	if err != nil {
		// Expired or corrupt entries cannot be processed.
		q.removeFromProcessing(ctx, id)
		return nil, fmt.Errorf("load job %s: %v", id, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	err := q.handle(ctx, job)
	if err == nil {
		log.Infof("[JobQueue] Job %s completed", job.ID)
		job.MarkAsCompleted()
		q.finish(ctx, job)
		q.client.Del(ctx, JobKeyPrefix+job.ID)
		q.releaseUnique(ctx, job.Type)
		return
	}

	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s permanently failed after %d attempts: %v", job.ID, job.RetryCount, err)
		q.updateJob(ctx, job)
		q.finish(ctx, job)
		q.releaseUnique(ctx, job.Type)
		return
	}

	job.MarkAsRetrying()
	delay := q.retryDelay(job.RetryCount)
	log.Warnf("[JobQueue] Job %s failed, retry %d/%d in %s: %v", job.ID, job.RetryCount, job.MaxRetries, delay, err)
	q.updateJob(ctx, job)
	due := float64(time.Now().Add(delay).Unix())
	if zerr := q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: due, Member: job.ID}).Err(); zerr != nil {
		log.Errorf("[JobQueue] Scheduling retry for job %s: %v", job.ID, zerr)
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), string(JobStatusRetrying)).Inc()
	q.removeFromProcessing(ctx, job.ID)
}

// finish records a terminal status and takes the job off the processing list.
func (q *Queue) finish(ctx context.Context, job *Job) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(job.Status), 1).Err(); err != nil {
		log.Errorf("[JobQueue] Updating job stats: %v", err)
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), string(job.Status)).Inc()
	q.removeFromProcessing(ctx, job.ID)
}

func (q *Queue) handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeSendNotification:
		return q.processNotificationJob(ctx, job)
	case JobTypeExpireSubscriptions:
		return q.processExpiryJob(ctx, job)
	case JobTypePruneLedger:
		return q.processPruneLedgerJob(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// releaseUnique drops the guard taken by EnqueueUniqueJob. Notifications never take one.
func (q *Queue) releaseUnique(ctx context.Context, jobType JobType) {
	if jobType == JobTypeSendNotification {
		return
	}
	if err := q.client.Del(ctx, JobUniqueKeyPrefix+string(jobType)).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to release unique guard for %s: %v", jobType, err)
	}
}

// promoteDue moves delayed jobs whose retry time has passed back onto the pending list.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		// Only the caller that removed the member requeues it.
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// recoverStuck requeues jobs that have sat on the processing list longer than maxAge,
// which happens when a worker dies between dequeue and completion.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil || job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
			q.removeFromProcessing(ctx, id)
			continue
		}
		// MarkAsProcessing refreshes UpdatedAt, so this is the time since the last attempt began.
		age := now.Sub(job.UpdatedAt)
		if age <= maxAge {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, age)
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker stall"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		q.removeFromProcessing(ctx, id)
		if err := q.client.RPush(ctx, JobQueueKey, id).Err(); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing list: %v", jobID, err)
	}
}

// GetJob loads a job by id. Completed jobs are deleted and return redis.Nil.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// GetJobStats returns the counters kept per status. Pending counts every enqueue.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	raw, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := make(map[JobStatus]int64, len(raw))
	for status, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats[JobStatus(status)] = n
		}
	}
	return stats, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry.
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
