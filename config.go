package bqloader

import "time"

// Config is the resolved command-line configuration of one batch run.
// Pointer fields are optional; nil means the flag was not set.
type Config struct {
	Project          string
	PlanFile         *string
	Scheme           string
	Location         *string
	Poll             bool
	PollInterval     *time.Duration
	PollTimeout      *time.Duration
	Workers          int
	WriteDisposition *WriteDisposition
	LedgerDSN        *string
	LedgerTable      *string
	SkipLoaded       bool
	VerifySources    bool
	DryRun           bool
	MetricsPort      *int
	LogLevel         string
	LogPretty        bool
}
