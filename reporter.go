package bqloader

import "context"

// Reporter is the interface to receive the outcome of each partition of a batch.
//
// Report might be called from multiple goroutines and must be re-entrant safe,
// unless the loader is created with WithSerializedReporter(true).
type Reporter interface {
	// Report processes the outcome of one partition.
	Report(outcome Outcome) error
}

// ReporterFunc type is an adapter to allow the use of ordinary functions as Reporter.
type ReporterFunc func(Outcome) error

// Report calls f(outcome).
func (f ReporterFunc) Report(outcome Outcome) error {
	return f(outcome)
}

// SourceChecker reports whether a source object exists.
type SourceChecker interface {
	Exists(ctx context.Context, uri string) (bool, error)
}
