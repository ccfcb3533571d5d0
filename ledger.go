package bqloader

import (
	"context"
	"time"
)

// LoadRecord is the ledger entry of one destination table.
type LoadRecord struct {
	Destination string     `spanner:"Destination" json:"destination"`
	JobID       string     `spanner:"JobID" json:"job_id"`
	Scheme      string     `spanner:"Scheme" json:"scheme"`
	Year        int64      `spanner:"Year" json:"year"`
	Month       int64      `spanner:"Month" json:"month"`
	Gram        int64      `spanner:"Gram" json:"gram"`
	Shard       int64      `spanner:"Shard" json:"shard"`
	State       JobState   `spanner:"State" json:"state"`
	Detail      string     `spanner:"Detail" json:"detail,omitempty"`
	SubmittedAt time.Time  `spanner:"SubmittedAt" json:"submitted_at"`
	FinishedAt  *time.Time `spanner:"FinishedAt" json:"finished_at,omitempty"`
}

// Key returns the partition key the record was written for.
func (r *LoadRecord) Key() PartitionKey {
	return PartitionKey{Year: int(r.Year), Month: int(r.Month), Gram: int(r.Gram), Shard: int(r.Shard)}
}

// Loaded returns true if the destination does not need to be submitted again.
func (r *LoadRecord) Loaded() bool {
	return r.State == JobRunning || r.State == JobDone
}

// Ledger defines the interface for remembering which destinations have been loaded.
// Implementations must be concurrency-safe.
type Ledger interface {
	// Get returns the record for destination, or nil if none exists.
	Get(ctx context.Context, destination string) (*LoadRecord, error)
	// RecordSubmitted creates or replaces the record for record.Destination in the RUNNING state.
	RecordSubmitted(ctx context.Context, record *LoadRecord) error
	// UpdateState stores the terminal status of the job recorded for destination.
	UpdateState(ctx context.Context, destination string, status JobStatus) error
}
