package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Active reports whether the job still occupies the queue for dedup
// purposes.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobOperation is the kind of work a job performs.
type JobOperation string

const (
	JobOperationIndex JobOperation = "index"
)

// JobOptions are the caller-supplied indexing options carried by a job.
type JobOptions struct {
	IncludeCode   bool     `json:"include_code"`
	Patterns      []string `json:"patterns,omitempty"`
	Force         bool     `json:"force,omitempty"`
	AllowExternal bool     `json:"allow_external,omitempty"`
}

// JobProgress is the worker's last progress checkpoint.
type JobProgress struct {
	FilesProcessed int     `json:"files_processed"`
	FilesTotal     int     `json:"files_total"`
	ChunksCreated  int     `json:"chunks_created"`
	CurrentFile    string  `json:"current_file,omitempty"`
	Percent        float64 `json:"percent"`
}

// JobRecord is one job's full durable state. Every write to the job log is
// a complete snapshot of this record.
type JobRecord struct {
	ID              string       `json:"id"`
	DedupKey        string       `json:"dedup_key"`
	Operation       JobOperation `json:"operation"`
	Path            string       `json:"path"`
	Options         JobOptions   `json:"options"`
	Status          JobStatus    `json:"status"`
	EnqueuedAt      time.Time    `json:"enqueued_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
	RetryCount      int          `json:"retry_count"`
	Progress        JobProgress  `json:"progress"`
	Error           string       `json:"error,omitempty"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
}

// JobDedupKey collapses equivalent enqueue requests. Patterns are sorted so
// order does not defeat deduplication.
func JobDedupKey(normalizedPath string, op JobOperation, includeCode bool, patterns []string) string {
	sorted := append([]string(nil), patterns...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(normalizedPath))
	h.Write([]byte(op))
	h.Write([]byte(strconv.FormatBool(includeCode)))
	for _, p := range sorted {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
