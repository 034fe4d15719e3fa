// Package queue is the durable background job scheduler: a single FIFO
// worker over a crash-safe JSONL log, with deduplication, backpressure,
// cooperative cancellation, and lock-free status snapshots.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

const (
	// DefaultMaxQueueLength is the pending-job cap before backpressure.
	DefaultMaxQueueLength = 100

	// DefaultMaxRetries bounds crash-recovery requeues per job.
	DefaultMaxRetries = 3

	// DefaultJobTimeout is the wall-clock budget for one job.
	DefaultJobTimeout = 2 * time.Hour

	// pollInterval is the worker's idle wakeup period, a safety net behind
	// the explicit wake signal.
	pollInterval = time.Second
)

// RunResult is what a job runner reports back for post-condition checks.
type RunResult struct {
	FilesProcessed int
	ChunkCount     int // total chunks in the backend after the run
}

// Runner executes one job. onProgress must be called at checkpoints; the
// worker persists the checkpoint and delivers cancellation through ctx.
type Runner func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error)

// Config tunes a Queue.
type Config struct {
	// Dir is the jobs directory (log, snapshot, lock).
	Dir string

	// ProjectRoot constrains enqueue paths unless a job sets AllowExternal.
	// Empty disables the check.
	ProjectRoot string

	MaxQueueLength int
	MaxRetries     int
	JobTimeout     time.Duration
}

// EnqueueRequest is a client enqueue call.
type EnqueueRequest struct {
	Path    string
	Options model.JobOptions
}

// EnqueueResult reports the outcome of an enqueue.
type EnqueueResult struct {
	JobID       string `json:"job_id"`
	DedupeHit   bool   `json:"dedupe_hit"`
	Position    int    `json:"position"`
	QueueLength int    `json:"queue_length"`
}

// StatusSnapshot is the lock-free view served to status endpoints.
type StatusSnapshot struct {
	Pending    int              `json:"pending"`
	Running    int              `json:"running"`
	Done       int              `json:"done"`
	Failed     int              `json:"failed"`
	Cancelled  int              `json:"cancelled"`
	CurrentJob *model.JobRecord `json:"current_job,omitempty"`
}

// Queue is the durable single-worker job queue.
type Queue struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	mu     sync.Mutex
	log    *jobLog
	jobs   map[string]*model.JobRecord
	order  []string // job IDs in enqueue order
	closed bool

	status atomic.Pointer[StatusSnapshot]

	wake chan struct{}
	done chan struct{}
}

// Open loads the queue from dir and performs crash recovery: every job
// found in running state goes back to pending with an incremented retry
// count, or to failed once retries are exhausted.
func Open(cfg Config, runner Runner, logger *slog.Logger) (*Queue, error) {
	if runner == nil {
		return nil, braerr.New(braerr.ErrCodeInvalidInput, "queue requires a runner", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = DefaultMaxQueueLength
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	log, err := openJobLog(cfg.Dir)
	if err != nil {
		return nil, err
	}
	records, err := log.Load()
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	q := &Queue{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		log:    log,
		jobs:   make(map[string]*model.JobRecord, len(records)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	for _, rec := range records {
		if rec.Status == model.JobStatusRunning {
			rec.RetryCount++
			rec.StartedAt = nil
			if rec.RetryCount > cfg.MaxRetries {
				rec.Status = model.JobStatusFailed
				rec.Error = "retry limit exceeded after crash recovery"
				now := time.Now().UTC()
				rec.FinishedAt = &now
				logger.Warn("job failed permanently during recovery", "job_id", rec.ID)
			} else {
				rec.Status = model.JobStatusPending
				logger.Info("requeued interrupted job", "job_id", rec.ID, "retry", rec.RetryCount)
			}
			if err := log.Append(rec); err != nil {
				_ = log.Close()
				return nil, err
			}
		}
		q.jobs[rec.ID] = rec
		q.order = append(q.order, rec.ID)
	}

	q.refreshStatus()
	return q, nil
}

// Start launches the worker. It runs until ctx is cancelled or Close is
// called.
func (q *Queue) Start(ctx context.Context) {
	go q.workerLoop(ctx)
}

// Close stops accepting work and releases the log. It does not wait for a
// running job; callers cancel the worker context first. Safe to call more
// than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return q.log.Close()
}

// Enqueue validates, deduplicates, and persists a new job.
func (q *Queue) Enqueue(req EnqueueRequest) (*EnqueueResult, error) {
	normalized, err := q.normalizePath(req.Path, req.Options.AllowExternal)
	if err != nil {
		return nil, err
	}

	keyPath := normalized
	if caseInsensitiveFS(normalized) {
		keyPath = strings.ToLower(keyPath)
	}
	key := model.JobDedupKey(keyPath, model.JobOperationIndex,
		req.Options.IncludeCode, req.Options.Patterns)

	q.mu.Lock()
	defer q.mu.Unlock()

	if !req.Options.Force {
		for _, id := range q.order {
			job := q.jobs[id]
			if job.DedupKey == key && job.Status.Active() {
				return &EnqueueResult{
					JobID:       job.ID,
					DedupeHit:   true,
					Position:    q.positionLocked(job.ID),
					QueueLength: q.countLocked(model.JobStatusPending),
				}, nil
			}
		}
	}

	pending := q.countLocked(model.JobStatusPending)
	if pending >= q.cfg.MaxQueueLength {
		return nil, braerr.QueueFull(pending, q.cfg.MaxQueueLength)
	}

	job := &model.JobRecord{
		ID:         uuid.NewString(),
		DedupKey:   key,
		Operation:  model.JobOperationIndex,
		Path:       normalized,
		Options:    req.Options,
		Status:     model.JobStatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.persistLocked(job); err != nil {
		return nil, err
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.refreshStatus()
	q.signal()

	return &EnqueueResult{
		JobID:       job.ID,
		Position:    q.positionLocked(job.ID),
		QueueLength: pending + 1,
	}, nil
}

// Cancel cancels a job. Pending jobs finish immediately; running jobs get
// cancel_requested and unwind at the worker's next checkpoint.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return braerr.New(braerr.ErrCodeJobNotFound, "no job "+jobID, nil)
	}

	switch job.Status {
	case model.JobStatusPending:
		job.Status = model.JobStatusCancelled
		now := time.Now().UTC()
		job.FinishedAt = &now
		if err := q.persistLocked(job); err != nil {
			return err
		}
		q.refreshStatus()
		return nil
	case model.JobStatusRunning:
		// Cooperative: the flag is delivered at the worker's next
		// checkpoint, never mid-file, so the current file completes.
		job.CancelRequested = true
		if err := q.persistLocked(job); err != nil {
			return err
		}
		q.refreshStatus()
		return nil
	default:
		return braerr.New(braerr.ErrCodeInvalidInput,
			fmt.Sprintf("job %s is %s and cannot be cancelled", jobID, job.Status), nil)
	}
}

// Get returns a copy of one job record.
func (q *Queue) Get(jobID string) (*model.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, braerr.New(braerr.ErrCodeJobNotFound, "no job "+jobID, nil)
	}
	copied := *job
	return &copied, nil
}

// List returns copies of all jobs in enqueue order.
func (q *Queue) List() []model.JobRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]model.JobRecord, 0, len(q.order))
	for _, id := range q.order {
		jobs = append(jobs, *q.jobs[id])
	}
	return jobs
}

// Status returns the latest snapshot without taking the worker lock.
func (q *Queue) Status() StatusSnapshot {
	if snap := q.status.Load(); snap != nil {
		return *snap
	}
	return StatusSnapshot{}
}

// workerLoop drains pending jobs one at a time, FIFO.
func (q *Queue) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			job := q.takeNext()
			if job == nil {
				break
			}
			q.runJob(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// takeNext promotes the oldest pending job to running, or returns nil.
func (q *Queue) takeNext() *model.JobRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	default:
	}

	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != model.JobStatusPending {
			continue
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		if err := q.persistLocked(job); err != nil {
			q.logger.Error("persist job start", "job_id", job.ID, "error", err)
		}
		q.refreshStatus()
		copied := *job
		return &copied
	}
	return nil
}

// runJob executes one job with the wall-clock timeout and persists the
// terminal state.
func (q *Queue) runJob(ctx context.Context, job *model.JobRecord) {
	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	q.logger.Info("job started", "job_id", job.ID, "path", job.Path)

	onProgress := func(p model.JobProgress) {
		q.checkpoint(job.ID, p, cancel)
	}
	result, err := q.runner(jobCtx, *job, onProgress)

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := q.jobs[job.ID]
	now := time.Now().UTC()
	stored.FinishedAt = &now

	switch {
	case stored.CancelRequested:
		stored.Status = model.JobStatusCancelled
		q.logger.Info("job cancelled", "job_id", job.ID)
	case err != nil && jobCtx.Err() == context.DeadlineExceeded:
		stored.Status = model.JobStatusFailed
		stored.Error = braerr.New(braerr.ErrCodeJobTimeout,
			fmt.Sprintf("job exceeded %s", q.cfg.JobTimeout), nil).Error()
		q.logger.Warn("job timed out", "job_id", job.ID)
	case err != nil:
		stored.Status = model.JobStatusFailed
		stored.Error = err.Error()
		q.logger.Warn("job failed", "job_id", job.ID, "error", err)
	case result.FilesProcessed > 0 && result.ChunkCount == 0:
		stored.Status = model.JobStatusFailed
		stored.Error = "post-condition failed: files were processed but the index holds no chunks"
		q.logger.Warn("job post-condition failed", "job_id", job.ID)
	default:
		stored.Status = model.JobStatusDone
		q.logger.Info("job done", "job_id", job.ID,
			"files", result.FilesProcessed, "chunks", result.ChunkCount)
	}

	if err := q.persistLocked(stored); err != nil {
		q.logger.Error("persist job result", "job_id", job.ID, "error", err)
	}
	q.refreshStatus()
}

// checkpoint persists a progress update and delivers a pending cancel
// request to the running job.
func (q *Queue) checkpoint(jobID string, p model.JobProgress, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	job.Progress = p
	if err := q.persistLocked(job); err != nil {
		q.logger.Error("persist job progress", "job_id", jobID, "error", err)
	}
	q.refreshStatus()

	if job.CancelRequested {
		cancel()
	}
}

// normalizePath resolves the enqueue path to an absolute, symlink-free form
// and enforces project-root containment.
func (q *Queue) normalizePath(path string, allowExternal bool) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", braerr.New(braerr.ErrCodeInvalidPath, "empty path", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", braerr.New(braerr.ErrCodeInvalidPath, fmt.Sprintf("resolve %s: %v", path, err), err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", braerr.New(braerr.ErrCodeFileNotFound, fmt.Sprintf("%s does not exist", abs), err)
		}
		return "", braerr.New(braerr.ErrCodeInvalidPath, fmt.Sprintf("resolve %s: %v", abs, err), err)
	}

	if !allowExternal && q.cfg.ProjectRoot != "" {
		root, err := filepath.EvalSymlinks(q.cfg.ProjectRoot)
		if err != nil {
			root = q.cfg.ProjectRoot
		}
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return "", braerr.New(braerr.ErrCodeInvalidPath,
				fmt.Sprintf("%s is outside the project root", resolved), nil)
		}
	}
	return resolved, nil
}

// caseInsensitiveFS reports whether the filesystem holding path ignores
// case, by statting a case-flipped spelling of the final element and
// checking it reaches the same file.
func caseInsensitiveFS(path string) bool {
	base := filepath.Base(path)
	flipped := flipCase(base)
	if flipped == base {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	flippedInfo, err := os.Stat(filepath.Join(filepath.Dir(path), flipped))
	if err != nil {
		return false
	}
	return os.SameFile(info, flippedInfo)
}

func flipCase(s string) string {
	if upper := strings.ToUpper(s); upper != s {
		return upper
	}
	return strings.ToLower(s)
}

// persistLocked appends the record and compacts when due. Caller holds mu.
func (q *Queue) persistLocked(job *model.JobRecord) error {
	if err := q.log.Append(job); err != nil {
		return err
	}
	if q.log.ShouldCompact() {
		all := make([]*model.JobRecord, 0, len(q.order))
		for _, id := range q.order {
			all = append(all, q.jobs[id])
		}
		if err := q.log.Compact(all); err != nil {
			q.logger.Warn("queue compaction failed", "error", err)
		}
	}
	return nil
}

// refreshStatus publishes a new snapshot. Caller holds mu.
func (q *Queue) refreshStatus() {
	snap := &StatusSnapshot{}
	for _, id := range q.order {
		job := q.jobs[id]
		switch job.Status {
		case model.JobStatusPending:
			snap.Pending++
		case model.JobStatusRunning:
			snap.Running++
			copied := *job
			snap.CurrentJob = &copied
		case model.JobStatusDone:
			snap.Done++
		case model.JobStatusFailed:
			snap.Failed++
		case model.JobStatusCancelled:
			snap.Cancelled++
		}
	}
	q.status.Store(snap)
}

// positionLocked is the job's 1-based place among pending jobs, 0 when
// running. Caller holds mu.
func (q *Queue) positionLocked(jobID string) int {
	pos := 0
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != model.JobStatusPending {
			continue
		}
		pos++
		if id == jobID {
			return pos
		}
	}
	return 0
}

// countLocked counts jobs in a status. Caller holds mu.
func (q *Queue) countLocked(status model.JobStatus) int {
	n := 0
	for _, id := range q.order {
		if q.jobs[id].Status == status {
			n++
		}
	}
	return n
}

// signal wakes the worker without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
