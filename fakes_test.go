package bqloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeWarehouse records every submission and answers status requests from statusFn.
type fakeWarehouse struct {
	mu          sync.Mutex
	submitted   []LoadJobSpec
	statusCalls map[string]int

	submitFn func(ctx context.Context, spec LoadJobSpec) (string, error)
	statusFn func(ctx context.Context, jobID string, call int) (JobStatus, error)
}

func (w *fakeWarehouse) SubmitLoadJob(ctx context.Context, spec LoadJobSpec) (string, error) {
	if w.submitFn != nil {
		id, err := w.submitFn(ctx, spec)
		if err != nil {
			return "", err
		}
		w.record(spec)
		return id, nil
	}
	w.record(spec)
	return "job_" + spec.Destination.Table, nil
}

func (w *fakeWarehouse) record(spec LoadJobSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitted = append(w.submitted, spec)
}

func (w *fakeWarehouse) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	w.mu.Lock()
	if w.statusCalls == nil {
		w.statusCalls = make(map[string]int)
	}
	w.statusCalls[jobID]++
	call := w.statusCalls[jobID]
	w.mu.Unlock()

	if w.statusFn != nil {
		return w.statusFn(ctx, jobID, call)
	}
	return JobStatus{State: JobDone}, nil
}

func (w *fakeWarehouse) destinations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.submitted))
	for _, s := range w.submitted {
		out = append(out, s.Destination.String())
	}
	return out
}

func (w *fakeWarehouse) calls(jobID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCalls[jobID]
}

// fakeLedger is a minimal map-backed Ledger.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]LoadRecord
	getErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]LoadRecord)}
}

func (l *fakeLedger) Get(_ context.Context, destination string) (*LoadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return nil, l.getErr
	}
	r, ok := l.records[destination]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (l *fakeLedger) RecordSubmitted(_ context.Context, record *LoadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[record.Destination] = *record
	return nil
}

func (l *fakeLedger) UpdateState(_ context.Context, destination string, status JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[destination]
	if !ok {
		return fmt.Errorf("no record for %s", destination)
	}
	r.State = status.State
	r.Detail = status.Detail
	now := time.Now()
	r.FinishedAt = &now
	l.records[destination] = r
	return nil
}

func (l *fakeLedger) get(destination string) (LoadRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[destination]
	return r, ok
}

// fakeChecker reports every uri in missing as absent.
type fakeChecker struct {
	missing map[string]bool
	err     error
}

func (c fakeChecker) Exists(_ context.Context, uri string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return !c.missing[uri], nil
}

var errQuota = errors.New("quota exceeded")
