package bqloader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option configures a Loader via functional options.
type Option interface {
	Apply(*config)
}

type config struct {
	poll               bool
	pollInterval       time.Duration
	pollTimeout        time.Duration
	workers            int
	loadOptions        LoadOptions
	ledger             Ledger
	skipLoaded         bool
	sourceChecker      SourceChecker
	reporter           Reporter
	serializedReporter bool
	registerer         prometheus.Registerer
	logLevel           zerolog.Level
}

type (
	withPoll               bool
	withPollInterval       time.Duration
	withPollTimeout        time.Duration
	withWorkers            int
	withLoadOptions        LoadOptions
	withSourceChecker      struct{ SourceChecker }
	withReporter           struct{ Reporter }
	withSerializedReporter bool
	withMetrics            struct{ prometheus.Registerer }
	withLogLevel           zerolog.Level
	withLedger             struct {
		ledger     Ledger
		skipLoaded bool
	}
)

func (o withPoll) Apply(c *config) {
	c.poll = bool(o)
}

// WithPoll makes the loader wait for every submitted job to finish before moving on.
// Default is false: jobs are submitted and left running.
func WithPoll(poll bool) Option {
	return withPoll(poll)
}

func (o withPollInterval) Apply(c *config) {
	c.pollInterval = time.Duration(o)
}

// WithPollInterval sets the pause between two status requests while polling.
// Default value is 1 second.
func WithPollInterval(interval time.Duration) Option {
	return withPollInterval(interval)
}

func (o withPollTimeout) Apply(c *config) {
	c.pollTimeout = time.Duration(o)
}

// WithPollTimeout bounds how long a single job is polled. Zero waits indefinitely.
func WithPollTimeout(timeout time.Duration) Option {
	return withPollTimeout(timeout)
}

func (o withWorkers) Apply(c *config) {
	c.workers = int(o)
}

// WithWorkers sets how many partitions are processed concurrently.
// Default is 1, which submits strictly in enumeration order.
func WithWorkers(n int) Option {
	return withWorkers(n)
}

func (o withLoadOptions) Apply(c *config) {
	c.loadOptions = LoadOptions(o)
}

// WithLoadOptions sets the parsing and write options of every load job.
// Default value is DefaultLoadOptions().
func WithLoadOptions(opts LoadOptions) Option {
	return withLoadOptions(opts)
}

func (o withLedger) Apply(c *config) {
	c.ledger = o.ledger
	c.skipLoaded = o.skipLoaded
}

// WithLedger records every submitted job in ledger. When skipLoaded is true, partitions whose
// destination already has a RUNNING or DONE record are skipped.
func WithLedger(ledger Ledger, skipLoaded bool) Option {
	return withLedger{ledger: ledger, skipLoaded: skipLoaded}
}

func (o withSourceChecker) Apply(c *config) {
	c.sourceChecker = o.SourceChecker
}

// WithSourceChecker verifies that every source object exists before its job is submitted.
func WithSourceChecker(checker SourceChecker) Option {
	return withSourceChecker{checker}
}

func (o withReporter) Apply(c *config) {
	c.reporter = o.Reporter
}

// WithReporter receives the outcome of every partition.
func WithReporter(reporter Reporter) Option {
	return withReporter{reporter}
}

func (o withSerializedReporter) Apply(c *config) {
	c.serializedReporter = bool(o)
}

// WithSerializedReporter enables or disables serialized calls to the Reporter.
// When true, a mutex ensures that Report is never called concurrently, simplifying
// Reporter implementations that are not re-entrant safe.
// Default is false.
func WithSerializedReporter(serialized bool) Option {
	return withSerializedReporter(serialized)
}

func (o withMetrics) Apply(c *config) {
	c.registerer = o.Registerer
}

// WithMetrics registers the loader's collectors with reg.
// If not set, collectors are kept on a private registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return withMetrics{reg}
}

// WithLogLevel sets the log level for the loader.
func WithLogLevel(logLevel string) Option {
	ll, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Warn().Err(err).Msgf("Invalid log level %s, using default level info", logLevel)
		ll = zerolog.InfoLevel
	}
	return withLogLevel(ll)
}

func (o withLogLevel) Apply(c *config) {
	c.logLevel = zerolog.Level(o)
}
