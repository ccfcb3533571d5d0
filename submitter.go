package bqloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the pause between two status requests for the same job.
const DefaultPollInterval = time.Second

// Submitter submits load jobs to a Warehouse and waits for them to finish.
type Submitter struct {
	warehouse Warehouse
	now       func() time.Time
}

// NewSubmitter creates a Submitter backed by warehouse.
func NewSubmitter(warehouse Warehouse) *Submitter {
	return &Submitter{
		warehouse: warehouse,
		now:       time.Now,
	}
}

// Submit inserts the load job described by spec. Any error from the warehouse is returned as a *SubmissionError.
// There is no retry and no timeout beyond the one carried by ctx.
func (s *Submitter) Submit(ctx context.Context, spec LoadJobSpec) (JobHandle, error) {
	submitTime := s.now()
	jobID, err := s.warehouse.SubmitLoadJob(ctx, spec)
	if err != nil {
		return JobHandle{}, &SubmissionError{Destination: spec.Destination, Err: err}
	}

	log.Info().
		Str("job_id", jobID).
		Str("destination", spec.Destination.String()).
		Strs("source_uris", spec.SourceURIs).
		Msg("load job submitted")

	return JobHandle{JobID: jobID, SubmitTime: submitTime}, nil
}

// AwaitCompletion polls the job status immediately and then every pollInterval until the job is DONE or FAILED.
// A non-positive pollInterval means DefaultPollInterval; a non-positive timeout waits until ctx is done.
// When timeout elapses first a *PollTimeoutError is returned; the job keeps running remotely.
func (s *Submitter) AwaitCompletion(ctx context.Context, handle JobHandle, pollInterval, timeout time.Duration) (JobStatus, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	start := s.now()
	last := JobRunning
	for {
		status, err := s.warehouse.JobStatus(ctx, handle.JobID)
		if err != nil {
			return JobStatus{State: last}, fmt.Errorf("failed to get status of job %s: %w", handle.JobID, err)
		}

		log.Info().
			Str("job_id", handle.JobID).
			Dur("elapsed", s.now().Sub(start)).
			Str("state", string(status.State)).
			Msg("job status")

		if status.State.Terminal() {
			return status, nil
		}
		last = status.State

		select {
		case <-ticker.C:
		case <-deadline:
			return JobStatus{State: last}, &PollTimeoutError{JobID: handle.JobID, Timeout: timeout, LastState: last}
		case <-ctx.Done():
			return JobStatus{State: last}, ctx.Err()
		}
	}
}
