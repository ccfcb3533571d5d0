package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/anicoll/bqloader"
	"github.com/anicoll/bqloader/pkg/interceptor"
	"github.com/anicoll/bqloader/pkg/ledger"
	"github.com/anicoll/bqloader/pkg/plan"
	"github.com/anicoll/bqloader/pkg/signal"
	"github.com/anicoll/bqloader/pkg/sources"
	"github.com/anicoll/bqloader/pkg/utils"
	"github.com/anicoll/bqloader/pkg/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

var (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 30 * time.Minute
)

// stdout receives one JSON line per partition outcome.
var stdout io.Writer = os.Stdout

// ErrBatchFailed is returned when at least one partition of the batch failed.
var ErrBatchFailed = errors.New("batch finished with failures")

func LoadCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "project",
			Sources:  cli.EnvVars("PROJECT"),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "plan",
			Sources: cli.EnvVars("PLAN"),
			Usage:   "YAML plan file; overrides --scheme",
		},
		&cli.StringFlag{
			Name:    "scheme",
			Sources: cli.EnvVars("SCHEME"),
			Value:   bqloader.SchemeMonthlyCorpus,
			Usage:   "built-in plan to run when no plan file is given: monthly or webngram",
		},
		&cli.StringFlag{
			Name:    "location",
			Sources: cli.EnvVars("LOCATION"),
		},
		&cli.BoolFlag{
			Name:    "poll",
			Sources: cli.EnvVars("POLL"),
			Usage:   "wait for every job to finish before moving on",
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Sources: cli.EnvVars("POLL_INTERVAL"),
			Value:   defaultPollInterval,
		},
		&cli.DurationFlag{
			Name:    "poll-timeout",
			Sources: cli.EnvVars("POLL_TIMEOUT"),
			Value:   defaultPollTimeout,
		},
		&cli.IntFlag{
			Name:    "workers",
			Sources: cli.EnvVars("WORKERS"),
			Value:   1,
		},
		&cli.StringFlag{
			Name:    "write-disposition",
			Sources: cli.EnvVars("WRITE_DISPOSITION"),
			Usage:   "APPEND, OVERWRITE or EMPTY_ONLY; defaults to the plan's setting",
		},
		&cli.StringFlag{
			Name:    "ledger-dsn",
			Sources: cli.EnvVars("LEDGER_DSN"),
			Usage:   "Spanner database recording submitted jobs, projects/P/instances/I/databases/D",
		},
		&cli.StringFlag{
			Name:    "ledger-table",
			Sources: cli.EnvVars("LEDGER_TABLE"),
			Value:   ledger.DefaultTableName,
		},
		&cli.BoolFlag{
			Name:    "skip-loaded",
			Sources: cli.EnvVars("SKIP_LOADED"),
			Usage:   "skip partitions whose destination the ledger already holds as RUNNING or DONE",
		},
		&cli.BoolFlag{
			Name:    "verify-sources",
			Sources: cli.EnvVars("VERIFY_SOURCES"),
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Sources: cli.EnvVars("DRY_RUN"),
			Usage:   "submit to an in-memory warehouse instead of BigQuery",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Sources: cli.EnvVars("METRICS_PORT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
		},
		&cli.BoolFlag{
			Name:    "log-pretty",
			Sources: cli.EnvVars("LOG_PRETTY"),
		},
	}
	return &cli.Command{
		Name:  "load",
		Usage: "submit one BigQuery load job per partition",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			eg, ctx := errgroup.WithContext(ctx)
			runCtx, stopAux := context.WithCancel(ctx)
			defer stopAux()

			eg.Go(func() error {
				return signal.SignalHandler(runCtx)
			})

			if cfg.MetricsPort != nil {
				srv := newMetricsServer(*cfg.MetricsPort, reg)
				eg.Go(func() error {
					return serveMetrics(runCtx, srv)
				})
			}

			eg.Go(func() error {
				defer stopAux()
				return run(ctx, cfg, reg)
			})

			if err := eg.Wait(); err != nil {
				if errors.Is(err, signal.ErrSignal) {
					return nil
				}
				return err
			}
			return nil
		},
	}
}

func buildConfig(cmd *cli.Command) (*bqloader.Config, error) {
	cfg := &bqloader.Config{
		Project:       cmd.String("project"),
		Scheme:        cmd.String("scheme"),
		Poll:          cmd.Bool("poll"),
		Workers:       int(cmd.Int("workers")),
		SkipLoaded:    cmd.Bool("skip-loaded"),
		VerifySources: cmd.Bool("verify-sources"),
		DryRun:        cmd.Bool("dry-run"),
		LogLevel:      cmd.String("log-level"),
		LogPretty:     cmd.Bool("log-pretty"),
		PollInterval:  utils.ToPtr(cmd.Duration("poll-interval")),
		PollTimeout:   utils.ToPtr(cmd.Duration("poll-timeout")),
		LedgerTable:   utils.ToPtr(cmd.String("ledger-table")),
	}

	cfg.PlanFile = nillableString(cmd, "plan")
	cfg.Location = nillableString(cmd, "location")
	cfg.LedgerDSN = nillableString(cmd, "ledger-dsn")

	if d := nillableString(cmd, "write-disposition"); d != nil {
		disposition, err := bqloader.ParseWriteDisposition(*d)
		if err != nil {
			return nil, err
		}
		cfg.WriteDisposition = &disposition
	}

	if cmd.IsSet("metrics-port") {
		port := int(cmd.Int("metrics-port"))
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("metrics port %d out of range", port)
		}
		cfg.MetricsPort = &port
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.SkipLoaded && cfg.LedgerDSN == nil {
		log.Warn().Msg("--skip-loaded without --ledger-dsn only skips partitions loaded earlier in this run")
	}

	return cfg, nil
}

func nillableString(cmd *cli.Command, name string) *string {
	s := cmd.String(name)
	if cmd.IsSet(name) && s != "" {
		return &s
	}
	return nil
}

func setupLogging(cfg *bqloader.Config) {
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func newMetricsServer(port int, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveMetrics(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve metrics: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// jsonOutputReporter writes every outcome as one JSON line.
type jsonOutputReporter struct {
	enc *json.Encoder
	mu  sync.Mutex
}

func newJSONOutputReporter(out io.Writer) *jsonOutputReporter {
	return &jsonOutputReporter{enc: json.NewEncoder(out)}
}

func (r *jsonOutputReporter) Report(outcome bqloader.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(outcome)
}

func run(ctx context.Context, cfg *bqloader.Config, reg prometheus.Registerer) error {
	p, err := loadPlan(cfg)
	if err != nil {
		return err
	}
	scheme, schema, loadOptions, ranges, err := p.Build()
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}
	if cfg.WriteDisposition != nil {
		loadOptions.WriteDisposition = *cfg.WriteDisposition
	}

	var wh bqloader.Warehouse
	if cfg.DryRun {
		wh = warehouse.NewInmemory()
	} else {
		bq, err := warehouse.NewBigQuery(ctx, p.Project, utils.ValueOr(cfg.Location, ""))
		if err != nil {
			return err
		}
		defer bq.Close()
		wh = bq
	}
	if cfg.Workers > 1 {
		wh = interceptor.NewQueueWarehouse(wh, cfg.Workers)
	}

	options := []bqloader.Option{
		bqloader.WithLogLevel(cfg.LogLevel),
		bqloader.WithWorkers(cfg.Workers),
		bqloader.WithLoadOptions(loadOptions),
		bqloader.WithPoll(cfg.Poll),
		bqloader.WithPollInterval(utils.ValueOr(cfg.PollInterval, defaultPollInterval)),
		bqloader.WithPollTimeout(utils.ValueOr(cfg.PollTimeout, defaultPollTimeout)),
		bqloader.WithReporter(newJSONOutputReporter(stdout)),
		bqloader.WithMetrics(reg),
	}

	l, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()
	if l != nil {
		options = append(options, bqloader.WithLedger(l, cfg.SkipLoaded))
	}

	if cfg.VerifySources {
		checker := sources.NewChecker()
		defer checker.Close()
		options = append(options, bqloader.WithSourceChecker(checker))
	}

	loader := bqloader.NewLoader(wh, scheme, schema, options...)
	report, err := loader.RunBatch(ctx, ranges)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %s", ErrBatchFailed, report.Summary())
	}
	return nil
}

func loadPlan(cfg *bqloader.Config) (*plan.Plan, error) {
	if cfg.PlanFile != nil {
		return plan.LoadFile(*cfg.PlanFile, cfg.Project)
	}
	return plan.Default(cfg.Scheme, cfg.Project)
}

// openLedger returns the Spanner ledger when a DSN is configured, an in-memory ledger when only
// --skip-loaded is set, and nil otherwise.
func openLedger(ctx context.Context, cfg *bqloader.Config) (bqloader.Ledger, func(), error) {
	if cfg.LedgerDSN == nil {
		if cfg.SkipLoaded {
			return ledger.NewInmemory(), func() {}, nil
		}
		return nil, func() {}, nil
	}

	qi := interceptor.NewQueueInterceptor(cfg.Workers)
	client, err := spanner.NewClient(ctx, *cfg.LedgerDSN,
		option.WithGRPCDialOption(grpc.WithChainUnaryInterceptor(qi.UnaryInterceptor)),
		option.WithGRPCDialOption(grpc.WithChainStreamInterceptor(qi.StreamInterceptor)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	sl := ledger.NewSpanner(client, utils.ValueOr(cfg.LedgerTable, ledger.DefaultTableName))
	if err := sl.RunMigrations(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return sl, client.Close, nil
}
