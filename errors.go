package bqloader

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPartition is matched by every *InvalidPartitionError.
	ErrInvalidPartition = errors.New("invalid partition")
	// ErrInvalidSchema is matched by every *InvalidSchemaError.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrInvalidLoadSpec is returned when sources, destination or load options cannot form a load job.
	ErrInvalidLoadSpec = errors.New("invalid load job spec")
	// ErrSubmission is matched by every *SubmissionError.
	ErrSubmission = errors.New("load job submission failed")
	// ErrPollTimeout is matched by every *PollTimeoutError.
	ErrPollTimeout = errors.New("timed out waiting for load job")
	// ErrJobFailed is recorded when a polled job finished in the FAILED state.
	ErrJobFailed = errors.New("load job failed")
	// ErrSourceMissing is recorded when a source object could not be found before submission.
	ErrSourceMissing = errors.New("source object not found")
)

// InvalidPartitionError reports a partition key outside the domain declared by a scheme.
type InvalidPartitionError struct {
	Scheme string
	Key    PartitionKey
	Reason string
}

func (e *InvalidPartitionError) Error() string {
	return fmt.Sprintf("invalid partition %s for scheme %s: %s", e.Key, e.Scheme, e.Reason)
}

func (e *InvalidPartitionError) Is(target error) bool {
	return target == ErrInvalidPartition
}

// InvalidSchemaError reports an empty schema, an unknown field type or a repeated field name.
type InvalidSchemaError struct {
	Field  string
	Reason string
}

func (e *InvalidSchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid schema: %s", e.Reason)
	}
	return fmt.Sprintf("invalid schema field %q: %s", e.Field, e.Reason)
}

func (e *InvalidSchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// SubmissionError wraps the error returned by the warehouse when a load job could not be inserted.
type SubmissionError struct {
	Destination TableRef
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit load job for %s: %v", e.Destination, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

// PollTimeoutError is returned by AwaitCompletion when the job did not reach a terminal state in time.
// The job itself keeps running remotely.
type PollTimeoutError struct {
	JobID     string
	Timeout   time.Duration
	LastState JobState
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s still %s after %s", e.JobID, e.LastState, e.Timeout)
}

func (e *PollTimeoutError) Is(target error) bool {
	return target == ErrPollTimeout
}
