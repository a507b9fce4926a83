package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one bundle import submitted to the queue.
type Job struct {
	// JobID is a UUID correlating the job with its result.
	JobID string `json:"job_id"`

	// BundleJSON is the serialized STIX bundle.
	BundleJSON string `json:"bundle_json"`

	// UpdateExisting selects upsert semantics for objects already stored.
	UpdateExisting bool `json:"update_existing"`

	// Source names the producer, for logging.
	Source string `json:"source,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when the job was pushed.
	SubmittedAt int64 `json:"submitted_at"`
}

// NewJob creates a Job with a fresh id. bundle must be valid JSON.
func NewJob(bundle []byte, update bool) (Job, error) {
	if !json.Valid(bundle) {
		return Job{}, fmt.Errorf("bundle is not valid JSON")
	}
	return Job{
		JobID:          uuid.NewString(),
		BundleJSON:     string(bundle),
		UpdateExisting: update,
		SubmittedAt:    time.Now().UnixMilli(),
	}, nil
}

// JobResult is the outcome of a Job, published when the import ends.
type JobResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`

	Created     int `json:"created"`
	Updated     int `json:"updated"`
	SkippedRefs int `json:"skipped_refs"`

	// Failures lists "<stix id>: <reason>" for every object that failed.
	Failures []string `json:"failures,omitempty"`

	// Error is set when the import did not run to completion.
	Error string `json:"error,omitempty"`

	WorkerID    string `json:"worker_id"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt int64  `json:"completed_at"`
}

// IsValid checks that the Job has all required fields.
func (j *Job) IsValid() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if j.BundleJSON == "" {
		return fmt.Errorf("bundle_json is required")
	}
	if j.SubmittedAt <= 0 {
		return fmt.Errorf("submitted_at must be positive, got %d", j.SubmittedAt)
	}
	return nil
}

// Age returns the time since the job was submitted.
func (j *Job) Age() time.Duration {
	if j.SubmittedAt <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixMilli()-j.SubmittedAt) * time.Millisecond
}

// HasError reports whether the import failed to run to completion.
func (r *JobResult) HasError() bool {
	return r.Error != ""
}

// Duration returns the time the worker spent on the job.
func (r *JobResult) Duration() time.Duration {
	if r.StartedAt <= 0 || r.CompletedAt <= 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.StartedAt) * time.Millisecond
}

// IsValid checks that the JobResult has all required fields.
func (r *JobResult) IsValid() error {
	if r.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}
	if r.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if r.StartedAt <= 0 {
		return fmt.Errorf("started_at must be positive, got %d", r.StartedAt)
	}
	if r.CompletedAt < r.StartedAt {
		return fmt.Errorf("completed_at (%d) cannot be before started_at (%d)", r.CompletedAt, r.StartedAt)
	}
	return nil
}
