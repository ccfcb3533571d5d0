package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anicoll/bqloader"
	"github.com/anicoll/bqloader/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

const smallPlan = `
scheme: monthly
monthly:
  bucket: test-corpus
ranges:
  - years: {from: 2013, to: 2013}
    months: {from: 1, to: 2}
    grams: {from: 1, to: 3}
`

func writePlan(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func configFromArgs(t *testing.T, args ...string) (*bqloader.Config, error) {
	t.Helper()
	var cfg *bqloader.Config
	cmd := LoadCommand()
	cmd.Action = func(_ context.Context, c *cli.Command) error {
		var err error
		cfg, err = buildConfig(c)
		return err
	}
	err := cmd.Run(context.Background(), append([]string{"load"}, args...))
	return cfg, err
}

func TestBuildConfig_Defaults(t *testing.T) {
	cfg, err := configFromArgs(t, "--project", "corpus-project")
	require.NoError(t, err)

	assert.Equal(t, "corpus-project", cfg.Project)
	assert.Equal(t, bqloader.SchemeMonthlyCorpus, cfg.Scheme)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, time.Second, *cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, *cfg.PollTimeout)
	assert.Equal(t, "LoadJobs", *cfg.LedgerTable)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Nil(t, cfg.PlanFile)
	assert.Nil(t, cfg.Location)
	assert.Nil(t, cfg.LedgerDSN)
	assert.Nil(t, cfg.WriteDisposition)
	assert.Nil(t, cfg.MetricsPort)
	assert.False(t, cfg.Poll)
	assert.False(t, cfg.DryRun)
}

func TestBuildConfig_Flags(t *testing.T) {
	cfg, err := configFromArgs(t,
		"--project", "p",
		"--plan", "plan.yaml",
		"--location", "US",
		"--poll",
		"--poll-interval", "5s",
		"--poll-timeout", "1h",
		"--workers", "4",
		"--write-disposition", "overwrite",
		"--ledger-dsn", "projects/p/instances/i/databases/d",
		"--skip-loaded",
		"--verify-sources",
		"--dry-run",
		"--metrics-port", "9090",
		"--log-level", "debug",
	)
	require.NoError(t, err)

	assert.Equal(t, "plan.yaml", *cfg.PlanFile)
	assert.Equal(t, "US", *cfg.Location)
	assert.True(t, cfg.Poll)
	assert.Equal(t, 5*time.Second, *cfg.PollInterval)
	assert.Equal(t, time.Hour, *cfg.PollTimeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, bqloader.WriteOverwrite, *cfg.WriteDisposition)
	assert.Equal(t, "projects/p/instances/i/databases/d", *cfg.LedgerDSN)
	assert.True(t, cfg.SkipLoaded)
	assert.True(t, cfg.VerifySources)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 9090, *cfg.MetricsPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestBuildConfig_EnvVars(t *testing.T) {
	t.Setenv("PROJECT", "env-project")
	t.Setenv("SCHEME", "webngram")
	t.Setenv("WORKERS", "3")

	cfg, err := configFromArgs(t)
	require.NoError(t, err)
	assert.Equal(t, "env-project", cfg.Project)
	assert.Equal(t, bqloader.SchemeWebNGram, cfg.Scheme)
	assert.Equal(t, 3, cfg.Workers)
}

func TestBuildConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing project", args: nil},
		{name: "unknown disposition", args: []string{"--project", "p", "--write-disposition", "truncate"}},
		{name: "zero workers", args: []string{"--project", "p", "--workers", "0"}},
		{name: "metrics port out of range", args: []string{"--project", "p", "--metrics-port", "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := configFromArgs(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestLoadCommand_DryRun(t *testing.T) {
	out := captureStdout(t)
	path := writePlan(t, smallPlan)

	err := LoadCommand().Run(context.Background(), []string{"load", "--project", "p", "--plan", path, "--dry-run", "--workers", "2", "--poll", "--poll-interval", "10ms"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)

	destinations := make(map[string]bool)
	for _, line := range lines {
		var o bqloader.Outcome
		require.NoError(t, json.Unmarshal([]byte(line), &o))
		assert.Equal(t, bqloader.JobDone, o.State)
		assert.NotEmpty(t, o.JobID)
		destinations[o.Destination] = true
	}
	assert.True(t, destinations["p.NGram.GRAM_2013_01_1"])
	assert.True(t, destinations["p.NGram.GRAM_2013_02_3"])
}

func TestLoadCommand_FailedPartitionExitsWithError(t *testing.T) {
	captureStdout(t)
	path := writePlan(t, `
scheme: monthly
ranges:
  - years: {from: 2013, to: 2013}
    months: {from: 12, to: 13}
    grams: {from: 1, to: 1}
`)

	err := LoadCommand().Run(context.Background(), []string{"load", "--project", "p", "--plan", path, "--dry-run"})
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.Contains(t, err.Error(), "1 of 2 partitions failed")
}

func TestLoadCommand_UnknownScheme(t *testing.T) {
	captureStdout(t)
	err := LoadCommand().Run(context.Background(), []string{"load", "--project", "p", "--scheme", "daily", "--dry-run"})
	assert.Error(t, err)
}

func TestRun_SkipLoadedWithoutLedgerDSN(t *testing.T) {
	out := captureStdout(t)
	cfg := &bqloader.Config{
		Project:    "p",
		PlanFile:   utils.ToPtr(writePlan(t, smallPlan)),
		Workers:    1,
		DryRun:     true,
		SkipLoaded: true,
		LogLevel:   "warn",
	}

	require.NoError(t, run(context.Background(), cfg, prometheus.NewRegistry()))
	assert.Equal(t, 6, strings.Count(out.String(), "\n"))
}

func TestMetricsServer(t *testing.T) {
	captureStdout(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	cfg := &bqloader.Config{
		Project:  "p",
		PlanFile: utils.ToPtr(writePlan(t, smallPlan)),
		Workers:  1,
		DryRun:   true,
		LogLevel: "info",
	}
	require.NoError(t, run(context.Background(), cfg, reg))

	srv := httptest.NewServer(newMetricsServer(0, reg).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bqloader_partitions_total{scheme="monthly"} 6`)
	assert.Contains(t, string(body), "go_gc_duration_seconds")
}

func TestServeMetrics_ShutsDownWithContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveMetrics(ctx, newMetricsServer(port, prometheus.NewRegistry()))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}
