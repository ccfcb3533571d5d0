package bqloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Loader drives a batch of load jobs: one job per partition key.
type Loader struct {
	scheme      Scheme
	schema      Schema
	submitter   *Submitter
	loadOptions LoadOptions

	poll         bool
	pollInterval time.Duration
	pollTimeout  time.Duration
	workers      int

	ledger        Ledger
	skipLoaded    bool
	sourceChecker SourceChecker

	reporter           Reporter
	serializedReporter bool
	reporterMu         sync.Mutex

	metrics *loaderMetrics

	mu      sync.Mutex
	running bool
}

var errAlreadyRunning = errors.New("loader is already running a batch")

// NewLoader creates a new batch loader for scheme.
// Every job is loaded with schema; the returned Loader is ready to start with RunBatch.
func NewLoader(warehouse Warehouse, scheme Scheme, schema Schema, options ...Option) *Loader {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	c := &config{
		pollInterval: DefaultPollInterval,
		workers:      1,
		loadOptions:  DefaultLoadOptions(),
		logLevel:     zerolog.InfoLevel,
	}
	for _, o := range options {
		o.Apply(c)
	}
	zerolog.SetGlobalLevel(c.logLevel)

	if c.workers < 1 {
		c.workers = 1
	}

	return &Loader{
		scheme:             scheme,
		schema:             schema,
		submitter:          NewSubmitter(warehouse),
		loadOptions:        c.loadOptions,
		poll:               c.poll,
		pollInterval:       c.pollInterval,
		pollTimeout:        c.pollTimeout,
		workers:            c.workers,
		ledger:             c.ledger,
		skipLoaded:         c.skipLoaded,
		sourceChecker:      c.sourceChecker,
		reporter:           c.reporter,
		serializedReporter: c.serializedReporter,
		metrics:            newLoaderMetrics(c.registerer, scheme.Name()),
	}
}

// RunBatch processes every key enumerated from ranges: name, build, submit and, when polling is enabled, wait.
// A failing partition is recorded in the report and the batch moves on.
// Cancellation of ctx is checked before each partition starts; on cancellation the partial report
// is returned together with ctx.Err().
func (l *Loader) RunBatch(ctx context.Context, ranges []PartitionRange) (*BatchReport, error) {
	if err := l.start(); err != nil {
		return nil, err
	}
	defer l.stop()

	log.Info().
		Str("scheme", l.scheme.Name()).
		Int("partitions", CountKeys(ranges)).
		Int("workers", l.workers).
		Bool("poll", l.poll).
		Msg("starting batch")

	report := &BatchReport{}
	var reportMu sync.Mutex
	// Written by the enumeration loop and by workers that find ctx done before starting.
	var canceled atomic.Bool

	eg := new(errgroup.Group)
	eg.SetLimit(l.workers)

	seq := 0
	for key := range Enumerate(ranges) {
		if ctx.Err() != nil {
			canceled.Store(true)
			break
		}
		i := seq
		seq++
		eg.Go(func() error {
			if ctx.Err() != nil {
				canceled.Store(true)
				return nil
			}
			outcome := l.process(ctx, key)
			l.metrics.observe(outcome)
			l.report(outcome)

			reportMu.Lock()
			report.add(i, outcome)
			reportMu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	report.Canceled = canceled.Load()
	report.sortFailures()

	event := log.Info()
	if !report.OK() {
		event = log.Warn()
	}
	event.
		Str("scheme", l.scheme.Name()).
		Int("attempted", report.Attempted).
		Int("submitted", report.Submitted).
		Int("completed", report.Completed).
		Int("skipped", report.Skipped).
		Int("failed", len(report.Failures)).
		Bool("canceled", report.Canceled).
		Msg(report.Summary())

	if report.Canceled {
		return report, ctx.Err()
	}
	return report, nil
}

func (l *Loader) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errAlreadyRunning
	}
	l.running = true
	return nil
}

func (l *Loader) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
}

// process runs one partition through name, ledger check, source check, build, submit and optional await.
func (l *Loader) process(ctx context.Context, key PartitionKey) Outcome {
	out := Outcome{Key: key}
	fail := func(stage Stage, err error) Outcome {
		out.Stage = stage
		out.err = err
		out.Error = err.Error()
		log.Error().
			Err(err).
			Str("partition", key.String()).
			Str("destination", out.Destination).
			Str("stage", string(stage)).
			Msg("partition failed")
		return out
	}

	naming, err := l.scheme.NamePartition(key)
	if err != nil {
		return fail(StageName, err)
	}
	out.Destination = naming.Destination.String()

	if l.ledger != nil && l.skipLoaded {
		record, err := l.ledger.Get(ctx, out.Destination)
		if err != nil {
			return fail(StageLedger, fmt.Errorf("failed to read ledger: %w", err))
		}
		if record != nil && record.Loaded() {
			log.Debug().
				Str("destination", out.Destination).
				Str("job_id", record.JobID).
				Str("state", string(record.State)).
				Msg("skipping partition already in ledger")
			out.Skipped = true
			out.JobID = record.JobID
			out.State = record.State
			return out
		}
	}

	if l.sourceChecker != nil {
		for _, uri := range naming.SourceURIs {
			exists, err := l.sourceChecker.Exists(ctx, uri)
			if err != nil {
				return fail(StageVerify, fmt.Errorf("failed to check source %s: %w", uri, err))
			}
			if !exists {
				return fail(StageVerify, fmt.Errorf("%w: %s", ErrSourceMissing, uri))
			}
		}
	}

	spec, err := BuildLoadSpec(naming.SourceURIs, naming.Destination, l.schema, l.loadOptions)
	if err != nil {
		return fail(StageBuild, err)
	}

	submitStart := time.Now()
	handle, err := l.submitter.Submit(ctx, spec)
	l.metrics.submitDurationSeconds.WithLabelValues().Observe(time.Since(submitStart).Seconds())
	if err != nil {
		return fail(StageSubmit, err)
	}
	out.JobID = handle.JobID
	out.State = JobRunning

	if l.ledger != nil {
		record := &LoadRecord{
			Destination: out.Destination,
			JobID:       handle.JobID,
			Scheme:      l.scheme.Name(),
			Year:        int64(key.Year),
			Month:       int64(key.Month),
			Gram:        int64(key.Gram),
			Shard:       int64(key.Shard),
			State:       JobRunning,
			SubmittedAt: handle.SubmitTime,
		}
		if err := l.ledger.RecordSubmitted(ctx, record); err != nil {
			log.Error().Err(err).Str("destination", out.Destination).Str("job_id", handle.JobID).Msg("failed to record submitted job")
		}
	}

	if !l.poll {
		return out
	}

	awaitStart := time.Now()
	status, err := l.submitter.AwaitCompletion(ctx, handle, l.pollInterval, l.pollTimeout)
	l.metrics.awaitDurationSeconds.WithLabelValues().Observe(time.Since(awaitStart).Seconds())
	out.State = status.State
	if err != nil {
		return fail(StageAwait, err)
	}

	if l.ledger != nil {
		if err := l.ledger.UpdateState(ctx, out.Destination, status); err != nil {
			log.Error().Err(err).Str("destination", out.Destination).Str("job_id", handle.JobID).Msg("failed to record job state")
		}
	}

	if status.State == JobFailed {
		return fail(StageAwait, fmt.Errorf("%w: %s", ErrJobFailed, status.Detail))
	}
	return out
}

func (l *Loader) report(outcome Outcome) {
	if l.reporter == nil {
		return
	}
	if l.serializedReporter {
		l.reporterMu.Lock()
		defer l.reporterMu.Unlock()
	}
	if err := l.reporter.Report(outcome); err != nil {
		log.Warn().Err(err).Str("destination", outcome.Destination).Msg("failed to report outcome")
	}
}
