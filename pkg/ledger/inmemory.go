package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anicoll/bqloader"
)

// InmemoryLedger implements Ledger that stores LoadRecords in memory.
// Records do not survive the process, so it only deduplicates within one run.
type InmemoryLedger struct {
	mu  sync.Mutex
	m   map[string]*bqloader.LoadRecord
	now func() time.Time
}

// NewInmemory creates new instance of InmemoryLedger
func NewInmemory() *InmemoryLedger {
	return &InmemoryLedger{
		m:   make(map[string]*bqloader.LoadRecord),
		now: time.Now,
	}
}

// Get returns a copy of the record for destination, or nil.
func (l *InmemoryLedger) Get(ctx context.Context, destination string) (*bqloader.LoadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.m[destination]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (l *InmemoryLedger) RecordSubmitted(ctx context.Context, record *bqloader.LoadRecord) error {
	if record == nil || record.Destination == "" {
		return ErrMissingDestination
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := copyRecord(record)
	r.State = bqloader.JobRunning
	r.Detail = ""
	r.FinishedAt = nil
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = l.now()
	}
	l.m[r.Destination] = r

	return nil
}

func (l *InmemoryLedger) UpdateState(ctx context.Context, destination string, status bqloader.JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.m[destination]
	if !ok {
		return ErrNotFound
	}
	r.State = status.State
	r.Detail = status.Detail
	if status.State.Terminal() {
		now := l.now()
		r.FinishedAt = &now
	}

	return nil
}

// Records returns every record ordered by destination.
func (l *InmemoryLedger) Records() []*bqloader.LoadRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := make([]*bqloader.LoadRecord, 0, len(l.m))
	for _, r := range l.m {
		records = append(records, copyRecord(r))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Destination < records[j].Destination })
	return records
}

func copyRecord(r *bqloader.LoadRecord) *bqloader.LoadRecord {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Assert that InmemoryLedger implements Ledger.
var _ bqloader.Ledger = (*InmemoryLedger)(nil)
