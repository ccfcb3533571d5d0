package bqloader

import (
	"context"
	"time"
)

// Warehouse is the data warehouse client the loader drives.
// Credential acquisition is entirely up to the implementation.
// Implementations must be safe for concurrent use when the loader runs with more than one worker.
type Warehouse interface {
	// SubmitLoadJob inserts a load job and returns its identifier. It must not wait for the job to finish.
	SubmitLoadJob(ctx context.Context, spec LoadJobSpec) (string, error)
	// JobStatus returns the current state of a previously submitted job.
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
}

// JobState is the lifecycle state of a submitted load job.
type JobState string

const (
	// JobRunning covers both queued and executing jobs.
	JobRunning JobState = "RUNNING"
	// JobDone indicates the job completed without error.
	JobDone JobState = "DONE"
	// JobFailed indicates the job completed with an error.
	JobFailed JobState = "FAILED"
)

// Terminal returns true for DONE and FAILED.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// JobStatus is a snapshot of a job's state. Detail carries the error reported by the warehouse for FAILED jobs.
type JobStatus struct {
	State  JobState `json:"state"`
	Detail string   `json:"detail,omitempty"`
}

// JobHandle identifies a submitted job.
type JobHandle struct {
	JobID      string    `json:"job_id"`
	SubmitTime time.Time `json:"submit_time"`
}
