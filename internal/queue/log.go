package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

const (
	logFileName      = "index_queue.jsonl"
	snapshotFileName = "index_queue.snapshot"
	lockFileName     = ".queue.lock"

	// compactEvery is how many log appends pass between snapshot
	// compactions.
	compactEvery = 256
)

// jobLog is the durable job store: an append-only JSONL log of full
// JobRecord snapshots plus a compacted snapshot file. Callers serialize
// access with the queue mutex; the flock guards against a second process.
type jobLog struct {
	dir          string
	logPath      string
	snapshotPath string
	flock        *flock.Flock
	file         *os.File
	appends      int
}

// openJobLog acquires the OS lock and opens the log for appending.
func openJobLog(dir string) (*jobLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("create queue dir: %v", err), err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("queue lock: %v", err), err)
	}
	if !locked {
		return nil, braerr.New(braerr.ErrCodeStorage,
			"queue is locked by another process", nil)
	}

	logPath := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = fl.Unlock()
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("open queue log: %v", err), err)
	}

	return &jobLog{
		dir:          dir,
		logPath:      logPath,
		snapshotPath: filepath.Join(dir, snapshotFileName),
		flock:        fl,
		file:         file,
	}, nil
}

// Load replays the snapshot then the log. Later records for the same job ID
// supersede earlier ones. Jobs come back in enqueue order.
func (l *jobLog) Load() ([]*model.JobRecord, error) {
	byID := make(map[string]*model.JobRecord)
	var order []string

	for _, path := range []string{l.snapshotPath, l.logPath} {
		records, err := readRecords(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if _, known := byID[rec.ID]; !known {
				order = append(order, rec.ID)
			}
			byID[rec.ID] = rec
		}
	}

	jobs := make([]*model.JobRecord, 0, len(byID))
	for _, id := range order {
		jobs = append(jobs, byID[id])
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

// Append writes one full record snapshot, flushed and fsynced.
func (l *jobLog) Append(rec *model.JobRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("encode job %s: %v", rec.ID, err), err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("append job log: %v", err), err)
	}
	if err := l.file.Sync(); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("sync job log: %v", err), err)
	}

	l.appends++
	return nil
}

// ShouldCompact reports whether enough appends accumulated to compact.
func (l *jobLog) ShouldCompact() bool {
	return l.appends >= compactEvery
}

// Compact writes the current state to the snapshot atomically, then
// truncates the log.
func (l *jobLog) Compact(jobs []*model.JobRecord) error {
	var buf bytes.Buffer
	for _, rec := range jobs {
		line, err := json.Marshal(rec)
		if err != nil {
			return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("encode job %s: %v", rec.ID, err), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := renameio.WriteFile(l.snapshotPath, buf.Bytes(), 0o644); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("write queue snapshot: %v", err), err)
	}

	if err := l.file.Truncate(0); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("truncate queue log: %v", err), err)
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("rewind queue log: %v", err), err)
	}
	if err := l.file.Sync(); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("sync queue log: %v", err), err)
	}

	l.appends = 0
	return nil
}

// Close releases the log file and the OS lock.
func (l *jobLog) Close() error {
	err := l.file.Close()
	if unlockErr := l.flock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// ReadJobs loads job records from a queue directory without taking the OS
// lock, for read-only inspection while another process owns the queue.
func ReadJobs(dir string) ([]*model.JobRecord, error) {
	l := &jobLog{
		logPath:      filepath.Join(dir, logFileName),
		snapshotPath: filepath.Join(dir, snapshotFileName),
	}
	return l.Load()
}

// readRecords parses one JSONL file of job records. Missing files yield
// nothing; malformed lines are dropped.
func readRecords(path string) ([]*model.JobRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("open %s: %v", path, err), err)
	}
	defer f.Close()

	var records []*model.JobRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec model.JobRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, braerr.New(braerr.ErrCodeCorruptState, fmt.Sprintf("read %s: %v", path, err), err)
	}
	return records, nil
}
