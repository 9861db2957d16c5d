// =============================================================================
// Merchant Analytics - Sync Job Queue
// =============================================================================
//
// JOB LIFECYCLE:
//
//   pending ──Next──> running ──Complete──> completed
//      │                 │
//      │                 └──Fail──> retrying ──(due)──Next──> running ...
//      │                              │
//      │                              └──(retries exhausted)──> failed
//      └──Cancel──> cancelled      (retrying jobs can be cancelled too)
//
// Next picks the due job with the highest priority, oldest first. A failed
// job waits RetryBaseDelay * 2^retry_count before it becomes due again.
//
// Completed, failed and cancelled jobs stay visible for the retention window
// (DefaultJobRetention) after their last update, then Enqueue prunes them.
//
// =============================================================================

package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
)

// JobType is the kind of sync a job runs.
type JobType string

const (
	JobMerchants JobType = "merchants"
	JobResiduals JobType = "residuals"
	JobVolumes   JobType = "volumes"
)

// ParseJobType validates a job type.
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(s); t {
	case JobMerchants, JobResiduals, JobVolumes:
		return t, nil
	}
	return "", fmt.Errorf("unknown sync job type %q", s)
}

// JobStatus is a job's lifecycle state.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusRetrying  JobStatus = "retrying"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

const (
	// DefaultMaxRetries is how often a failing job is retried.
	DefaultMaxRetries = 3

	// RetryBaseDelay is the first retry delay.
	RetryBaseDelay = 5 * time.Second

	// DefaultJobRetention is how long finished jobs are kept.
	DefaultJobRetention = 24 * time.Hour
)

var (
	ErrJobNotFound       = errors.New("sync job not found")
	ErrJobNotCancellable = errors.New("sync job cannot be cancelled")
)

// Job is one queued sync.
type Job struct {
	ID          string      `json:"id"`
	Type        JobType     `json:"type"`
	Year        int         `json:"year,omitempty"`
	Month       int         `json:"month,omitempty"`
	Priority    int         `json:"priority"`
	Status      JobStatus   `json:"status"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	LastError   string      `json:"last_error,omitempty"`
	Result      *SyncResult `json:"result,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	NextAttempt time.Time   `json:"next_attempt_at"`
}

// Handler runs one job.
type Handler func(ctx context.Context, job Job) (*SyncResult, error)

// Queue is an in-memory priority queue of sync jobs.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewQueue creates an empty queue. m may be nil.
func NewQueue(m *metrics.Metrics, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		jobs:      make(map[string]*Job),
		retention: DefaultJobRetention,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With("component", "sync_queue"),
	}
}

// SetRetention changes how long finished jobs are kept. d <= 0 keeps the
// current window.
func (q *Queue) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retention = d
}

// Prune drops completed, failed and cancelled jobs whose last update is
// older than the retention window. It returns how many were dropped.
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneLocked(q.now())
}

func (q *Queue) pruneLocked(now time.Time) int {
	cutoff := now.Add(-q.retention)
	pruned := 0
	for id, job := range q.jobs {
		switch job.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			if job.UpdatedAt.Before(cutoff) {
				delete(q.jobs, id)
				pruned++
			}
		}
	}
	if pruned > 0 {
		q.logger.Debug("pruned finished jobs", slog.Int("count", pruned))
	}
	return pruned
}

// Enqueue adds a pending job. Residual and volume jobs need a valid year
// and month.
func (q *Queue) Enqueue(jobType JobType, year, month, priority int) (Job, error) {
	if _, err := ParseJobType(string(jobType)); err != nil {
		return Job{}, err
	}
	if jobType != JobMerchants {
		if _, err := periodKey(year, month); err != nil {
			return Job{}, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.pruneLocked(now)

	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Year:        year,
		Month:       month,
		Priority:    priority,
		Status:      StatusPending,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextAttempt: now,
	}
	q.jobs[job.ID] = job
	q.metrics.ObserveSyncJob(string(jobType), string(StatusPending))
	q.logger.Info("job queued", slog.String("job_id", job.ID), slog.String("type", string(jobType)), slog.Int("priority", priority))
	return *job, nil
}

// Next claims the next due job and marks it running.
func (q *Queue) Next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*Job
	for _, j := range q.jobs {
		if (j.Status == StatusPending || j.Status == StatusRetrying) && !j.NextAttempt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return Job{}, false
	}

	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		if !due[i].CreatedAt.Equal(due[k].CreatedAt) {
			return due[i].CreatedAt.Before(due[k].CreatedAt)
		}
		return due[i].ID < due[k].ID
	})

	job := due[0]
	job.Status = StatusRunning
	job.UpdatedAt = now
	q.metrics.ObserveSyncJob(string(job.Type), string(StatusRunning))
	return *job, true
}

// Complete marks a running job completed.
func (q *Queue) Complete(id string, result *SyncResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusCompleted
	job.Result = result
	job.LastError = ""
	job.UpdatedAt = q.now()
	q.metrics.ObserveSyncJob(string(job.Type), string(StatusCompleted))
	return nil
}

// Fail records a failure. The job is retried after a backoff until
// MaxRetries is reached, then it is failed.
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	now := q.now()
	job.LastError = cause.Error()
	job.UpdatedAt = now

	if job.RetryCount < job.MaxRetries {
		delay := RetryBaseDelay << job.RetryCount
		job.RetryCount++
		job.Status = StatusRetrying
		job.NextAttempt = now.Add(delay)
		q.logger.Warn("job failed, will retry",
			slog.String("job_id", id),
			slog.Int("retry", job.RetryCount),
			slog.Duration("delay", delay),
			slog.String("error", job.LastError),
		)
	} else {
		job.Status = StatusFailed
		q.logger.Error("job failed", slog.String("job_id", id), slog.String("error", job.LastError))
	}
	q.metrics.ObserveSyncJob(string(job.Type), string(job.Status))
	return nil
}

// Cancel cancels a pending or retrying job.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusPending && job.Status != StatusRetrying {
		return fmt.Errorf("%w: status is %s", ErrJobNotCancellable, job.Status)
	}
	job.Status = StatusCancelled
	job.UpdatedAt = q.now()
	q.metrics.ObserveSyncJob(string(job.Type), string(StatusCancelled))
	return nil
}

// Get returns a snapshot of a job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Stats counts jobs by status. Every status is present.
func (q *Queue) Stats() map[JobStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[JobStatus]int{
		StatusPending: 0, StatusRunning: 0, StatusRetrying: 0,
		StatusCompleted: 0, StatusFailed: 0, StatusCancelled: 0,
	}
	for _, j := range q.jobs {
		stats[j.Status]++
	}
	return stats
}

// Process runs due jobs one at a time until none are due or ctx is done.
// It returns the number of jobs run.
func (q *Queue) Process(ctx context.Context, handle Handler) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, ok := q.Next()
		if !ok {
			return processed, nil
		}
		processed++

		result, err := handle(ctx, job)
		if err != nil {
			if ferr := q.Fail(job.ID, err); ferr != nil {
				return processed, ferr
			}
			continue
		}
		if err := q.Complete(job.ID, result); err != nil {
			return processed, err
		}
	}
}
