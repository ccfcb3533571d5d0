package bqloader

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage names the step of a partition's pipeline that failed.
type Stage string

const (
	StageName   Stage = "name"
	StageLedger Stage = "ledger"
	StageVerify Stage = "verify"
	StageBuild  Stage = "build"
	StageSubmit Stage = "submit"
	StageAwait  Stage = "await"
)

// Outcome is the result of processing one partition.
type Outcome struct {
	Key         PartitionKey `json:"key"`
	Destination string       `json:"destination,omitempty"`
	JobID       string       `json:"job_id,omitempty"`
	State       JobState     `json:"state,omitempty"`
	Skipped     bool         `json:"skipped,omitempty"`
	Stage       Stage        `json:"failed_stage,omitempty"`
	Error       string       `json:"error,omitempty"`

	err error
}

// Err returns the error that stopped the partition, or nil.
func (o Outcome) Err() error {
	return o.err
}

// Submitted returns true if a job was inserted for the partition during this run.
func (o Outcome) Submitted() bool {
	return o.JobID != "" && !o.Skipped
}

// Failure records why a partition was not loaded.
type Failure struct {
	Key   PartitionKey
	Stage Stage
	Err   error

	seq int
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Key, f.Stage, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// BatchReport aggregates the outcome of a batch.
// Attempted counts every partition the driver started, skipped ones included.
type BatchReport struct {
	Attempted int
	Submitted int
	Completed int
	Skipped   int
	Failures  []Failure
	Canceled  bool
}

// OK returns true if every partition was either submitted or skipped and the batch ran to the end.
func (r *BatchReport) OK() bool {
	return len(r.Failures) == 0 && !r.Canceled
}

// Err joins every failure into one error, or returns nil for a clean batch.
func (r *BatchReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Summary returns a one-line description of the batch.
func (r *BatchReport) Summary() string {
	var b strings.Builder
	if len(r.Failures) == 0 {
		fmt.Fprintf(&b, "all %d partitions submitted", r.Attempted-r.Skipped)
	} else {
		fmt.Fprintf(&b, "%d of %d partitions failed", len(r.Failures), r.Attempted)
	}
	fmt.Fprintf(&b, " (submitted=%d completed=%d skipped=%d)", r.Submitted, r.Completed, r.Skipped)
	if r.Canceled {
		b.WriteString(", canceled before all partitions were started")
	}
	return b.String()
}

func (r *BatchReport) add(seq int, o Outcome) {
	r.Attempted++
	switch {
	case o.Skipped:
		r.Skipped++
	case o.Submitted():
		r.Submitted++
	}
	if o.State == JobDone && !o.Skipped {
		r.Completed++
	}
	if o.err != nil {
		r.Failures = append(r.Failures, Failure{Key: o.Key, Stage: o.Stage, Err: o.err, seq: seq})
	}
}

// sortFailures restores enumeration order after partitions finished out of order.
func (r *BatchReport) sortFailures() {
	sort.SliceStable(r.Failures, func(i, j int) bool { return r.Failures[i].seq < r.Failures[j].seq })
}
