package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

func okRunner(result RunResult) Runner {
	return func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error) {
		onProgress(model.JobProgress{FilesProcessed: result.FilesProcessed, FilesTotal: result.FilesProcessed, Percent: 100})
		return result, nil
	}
}

func openTestQueue(t *testing.T, cfg Config, runner Runner) *Queue {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "jobs")
	}
	q, err := Open(cfg, runner, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func waitForStatus(t *testing.T, q *Queue, jobID string, want model.JobStatus) *model.JobRecord {
	t.Helper()
	var job *model.JobRecord
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached %s", want)
	return job
}

func TestEnqueueAndDedup(t *testing.T) {
	q := openTestQueue(t, Config{}, okRunner(RunResult{}))
	root := t.TempDir()

	first, err := q.Enqueue(EnqueueRequest{Path: root, Options: model.JobOptions{IncludeCode: true}})
	require.NoError(t, err)
	assert.NotEmpty(t, first.JobID)
	assert.False(t, first.DedupeHit)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 1, first.QueueLength)

	dup, err := q.Enqueue(EnqueueRequest{Path: root, Options: model.JobOptions{IncludeCode: true}})
	require.NoError(t, err)
	assert.True(t, dup.DedupeHit)
	assert.Equal(t, first.JobID, dup.JobID)
	assert.Equal(t, 1, dup.QueueLength, "queue length unchanged on dedupe hit")

	// Different options produce a different dedup key.
	other, err := q.Enqueue(EnqueueRequest{Path: root, Options: model.JobOptions{IncludeCode: false}})
	require.NoError(t, err)
	assert.False(t, other.DedupeHit)
	assert.NotEqual(t, first.JobID, other.JobID)

	forced, err := q.Enqueue(EnqueueRequest{
		Path:    root,
		Options: model.JobOptions{IncludeCode: true, Force: true},
	})
	require.NoError(t, err)
	assert.False(t, forced.DedupeHit)
	assert.NotEqual(t, first.JobID, forced.JobID)
}

func TestEnqueueBackpressure(t *testing.T) {
	q := openTestQueue(t, Config{MaxQueueLength: 2}, okRunner(RunResult{}))

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
		require.NoError(t, err)
	}

	_, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeQueueFull))
}

func TestEnqueuePathValidation(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	q := openTestQueue(t, Config{ProjectRoot: root}, okRunner(RunResult{}))

	_, err := q.Enqueue(EnqueueRequest{Path: ""})
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeInvalidPath))

	_, err = q.Enqueue(EnqueueRequest{Path: filepath.Join(root, "missing")})
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeFileNotFound))

	_, err = q.Enqueue(EnqueueRequest{Path: outside})
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeInvalidPath))

	res, err := q.Enqueue(EnqueueRequest{
		Path:    outside,
		Options: model.JobOptions{AllowExternal: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
}

func TestWorkerRunsJobToDone(t *testing.T) {
	q := openTestQueue(t, Config{}, okRunner(RunResult{FilesProcessed: 3, ChunkCount: 7}))
	q.Start(context.Background())

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	job := waitForStatus(t, q, res.JobID, model.JobStatusDone)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 3, job.Progress.FilesProcessed)
	assert.InDelta(t, 100.0, job.Progress.Percent, 1e-9)

	snap := q.Status()
	assert.Equal(t, 1, snap.Done)
	assert.Equal(t, 0, snap.Running)
}

func TestWorkerPersistsFailure(t *testing.T) {
	runner := func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error) {
		return RunResult{}, errors.New("provider exploded")
	}
	q := openTestQueue(t, Config{}, runner)
	q.Start(context.Background())

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	job := waitForStatus(t, q, res.JobID, model.JobStatusFailed)
	assert.Contains(t, job.Error, "provider exploded")
}

func TestWorkerPostConditionFailure(t *testing.T) {
	q := openTestQueue(t, Config{}, okRunner(RunResult{FilesProcessed: 5, ChunkCount: 0}))
	q.Start(context.Background())

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	job := waitForStatus(t, q, res.JobID, model.JobStatusFailed)
	assert.Contains(t, job.Error, "post-condition")
}

func TestWorkerTimeout(t *testing.T) {
	runner := func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error) {
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}
	q := openTestQueue(t, Config{JobTimeout: 50 * time.Millisecond}, runner)
	q.Start(context.Background())

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	job := waitForStatus(t, q, res.JobID, model.JobStatusFailed)
	assert.Contains(t, job.Error, braerr.ErrCodeJobTimeout)
}

func TestCancelPendingJob(t *testing.T) {
	// No worker started, so the job stays pending.
	q := openTestQueue(t, Config{}, okRunner(RunResult{}))

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(res.JobID))
	job, err := q.Get(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)

	// Terminal jobs cannot be cancelled again.
	require.Error(t, q.Cancel(res.JobID))

	assert.True(t, braerr.HasCode(q.Cancel("nope"), braerr.ErrCodeJobNotFound))
}

func TestCancelRunningJobWaitsForCheckpoint(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	midFile := make(chan error, 1)
	runner := func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error) {
		close(started)
		<-proceed
		// A cancel request must not interrupt the file in flight; it is
		// delivered through ctx at the next checkpoint.
		midFile <- ctx.Err()
		onProgress(model.JobProgress{FilesProcessed: 1, FilesTotal: 2, Percent: 50})
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}
	q := openTestQueue(t, Config{}, runner)
	q.Start(context.Background())

	res, err := q.Enqueue(EnqueueRequest{Path: t.TempDir()})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, q.Cancel(res.JobID))
	close(proceed)

	assert.NoError(t, <-midFile, "context cancelled before the checkpoint")
	job := waitForStatus(t, q, res.JobID, model.JobStatusCancelled)
	assert.True(t, job.CancelRequested)
	assert.Equal(t, 1, job.Progress.FilesProcessed, "checkpoint persisted before unwinding")
}

func TestCloseIsIdempotent(t *testing.T) {
	q, err := Open(Config{Dir: filepath.Join(t.TempDir(), "jobs")}, okRunner(RunResult{}), nil)
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}

func TestFIFOOrderAndSingleRunner(t *testing.T) {
	ran := make(chan string, 10)
	runner := func(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (RunResult, error) {
		ran <- job.Path
		return RunResult{}, nil
	}
	q := openTestQueue(t, Config{}, runner)

	dirA, dirB, dirC := t.TempDir(), t.TempDir(), t.TempDir()
	for _, dir := range []string{dirA, dirB, dirC} {
		_, err := q.Enqueue(EnqueueRequest{Path: dir})
		require.NoError(t, err)
	}
	q.Start(context.Background())

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case p := <-ran:
			got = append(got, p)
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not all run")
		}
	}
	resolve := func(p string) string {
		r, err := filepath.EvalSymlinks(p)
		require.NoError(t, err)
		return r
	}
	assert.Equal(t, []string{resolve(dirA), resolve(dirB), resolve(dirC)}, got)
}

func TestCrashRecovery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	now := time.Now().UTC()
	running := model.JobRecord{
		ID:         "job-1",
		DedupKey:   "key-1",
		Operation:  model.JobOperationIndex,
		Path:       "/tmp/project",
		Status:     model.JobStatusRunning,
		EnqueuedAt: now,
		StartedAt:  &now,
	}
	line, err := json.Marshal(running)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, logFileName), append(line, '\n'), 0o644))

	q := openTestQueue(t, Config{Dir: dir}, okRunner(RunResult{}))

	job, err := q.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.StartedAt)
}

func TestCrashRecoveryExhaustsRetries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	now := time.Now().UTC()
	running := model.JobRecord{
		ID:         "job-1",
		Operation:  model.JobOperationIndex,
		Path:       "/tmp/project",
		Status:     model.JobStatusRunning,
		EnqueuedAt: now,
		StartedAt:  &now,
		RetryCount: 3,
	}
	line, err := json.Marshal(running)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, logFileName), append(line, '\n'), 0o644))

	q := openTestQueue(t, Config{Dir: dir, MaxRetries: 3}, okRunner(RunResult{}))

	job, err := q.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "retry limit")
}

func TestQueueReloadAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	root := t.TempDir()

	q, err := Open(Config{Dir: dir}, okRunner(RunResult{}), nil)
	require.NoError(t, err)
	res, err := q.Enqueue(EnqueueRequest{Path: root})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q2 := openTestQueue(t, Config{Dir: dir}, okRunner(RunResult{}))
	job, err := q2.Get(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestLogCompaction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	log, err := openJobLog(dir)
	require.NoError(t, err)
	defer log.Close()

	rec := &model.JobRecord{
		ID: "a", Operation: model.JobOperationIndex,
		Status: model.JobStatusDone, EnqueuedAt: time.Now().UTC(),
	}
	require.NoError(t, log.Append(rec))
	require.NoError(t, log.Compact([]*model.JobRecord{rec}))

	info, err := os.Stat(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "log truncated after compaction")

	loaded, err := log.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)
}

func TestSecondProcessCannotOpenQueue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	q := openTestQueue(t, Config{Dir: dir}, okRunner(RunResult{}))
	_ = q

	_, err := Open(Config{Dir: dir}, okRunner(RunResult{}), nil)
	require.Error(t, err)
}

func TestCaseInsensitiveFSDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Project")
	require.NoError(t, os.Mkdir(path, 0o755))

	// On a case-insensitive filesystem the flipped spelling resolves to the
	// same directory; on a case-sensitive one it does not exist.
	_, err := os.Stat(filepath.Join(dir, "pROJECT"))
	assert.Equal(t, err == nil, caseInsensitiveFS(path))
}

func TestEnqueueDedupFoldsCaseOnInsensitiveFS(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "Docs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	if !caseInsensitiveFS(sub) {
		t.Skip("filesystem is case sensitive")
	}

	q := openTestQueue(t, Config{ProjectRoot: root}, okRunner(RunResult{}))

	first, err := q.Enqueue(EnqueueRequest{Path: sub})
	require.NoError(t, err)
	dup, err := q.Enqueue(EnqueueRequest{Path: filepath.Join(root, "docs")})
	require.NoError(t, err)
	assert.True(t, dup.DedupeHit)
	assert.Equal(t, first.JobID, dup.JobID)
}

func TestJobDedupKeyIgnoresPatternOrder(t *testing.T) {
	a := model.JobDedupKey("/p", model.JobOperationIndex, true, []string{"*.go", "*.py"})
	b := model.JobDedupKey("/p", model.JobOperationIndex, true, []string{"*.py", "*.go"})
	c := model.JobDedupKey("/p", model.JobOperationIndex, false, []string{"*.go", "*.py"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
