package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/benchrun/connection"
	"github.com/weiihann/benchrun/history"
	"github.com/weiihann/benchrun/report"
	"github.com/weiihann/benchrun/target"
)

// helperEnv makes the test binary act as a benchmark executable.
const helperEnv = "BENCHRUN_CLI_HELPER"

func TestMain(m *testing.M) {
	if scenario := os.Getenv(helperEnv); scenario != "" {
		os.Exit(runHelper(scenario))
	}
	os.Exit(m.Run())
}

func runHelper(scenario string) int {
	switch scenario {
	case "exit0":
		return 0
	case "exit7":
		return 7
	case "bench":
		return runOneBenchmark()
	default:
		return 100
	}
}

func runOneBenchmark() int {
	port, err := connection.PortFromEnv()
	if err != nil {
		return 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := connection.Dial(ctx, net.JoinHostPort("localhost", strconv.Itoa(port)), connection.DefaultHello())
	if err != nil {
		return 21
	}

	id := connection.NewBenchmarkID("cli", "noop", "")
	if client.Send(connection.BeginningBenchmark{ID: id}) != nil {
		return 22
	}
	if _, err := client.Receive(); err != nil {
		return 23
	}
	if client.Send(connection.MeasurementComplete{ID: id, Iters: []float64{10}, Times: []float64{2500}}) != nil {
		return 24
	}

	client.Close()
	time.Sleep(500 * time.Millisecond)
	return 0
}

func testConfig(t *testing.T, scenario string) (runConfig, *bytes.Buffer) {
	t.Helper()
	t.Setenv(helperEnv, scenario)

	var out bytes.Buffer
	dir := t.TempDir()

	return runConfig{
		targets:      []string{"suite=" + os.Args[0]},
		home:         filepath.Join(dir, "criterion"),
		historyPath:  filepath.Join(dir, "history.db"),
		timeout:      30 * time.Second,
		pollInterval: time.Millisecond,
		out:          &out,
	}, &out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listHistory(t *testing.T, path string) []*history.Record {
	t.Helper()

	store, err := history.Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()

	records, err := store.List(context.Background(), 0)
	require.NoError(t, err)

	return records
}

func TestRunRecordsSuccess(t *testing.T) {
	cfg, out := testConfig(t, "exit0")

	require.NoError(t, runBenchmarks(context.Background(), discardLogger(), cfg))
	assert.Empty(t, out.String())
	assert.DirExists(t, cfg.home)

	records := listHistory(t, cfg.historyPath)
	require.Len(t, records, 1)
	assert.Equal(t, "suite", records[0].Target)
	assert.Equal(t, history.OutcomeSucceeded, records[0].Outcome)
}

func TestRunRecordsFailure(t *testing.T) {
	cfg, _ := testConfig(t, "exit7")
	cfg.targets = append(cfg.targets, "never="+os.Args[0])

	err := runBenchmarks(context.Background(), discardLogger(), cfg)

	var targetErr *target.Error
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, 7, targetErr.ExitCode)

	records := listHistory(t, cfg.historyPath)
	require.Len(t, records, 1, "the run stops at the first failing target")
	assert.Equal(t, history.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, "target-failed", records[0].ErrorKind)
	assert.Equal(t, 7, records[0].ExitCode)
}

func TestRunReportsJSON(t *testing.T) {
	cfg, out := testConfig(t, "bench")
	cfg.outputJSON = true

	require.NoError(t, runBenchmarks(context.Background(), discardLogger(), cfg))

	var summaries []report.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "cli/noop", summaries[0].ID)
	assert.Equal(t, report.StatusMeasured, summaries[0].Status)
	assert.Equal(t, 2500.0, summaries[0].MeasuredNs)

	records := listHistory(t, cfg.historyPath)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Benchmarks)
}

func TestRunWithoutHistory(t *testing.T) {
	cfg, _ := testConfig(t, "exit0")
	cfg.historyPath = ""

	require.NoError(t, runBenchmarks(context.Background(), discardLogger(), cfg))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfg.home), "history.db"))
}

func TestRunRejectsBadTarget(t *testing.T) {
	cfg, _ := testConfig(t, "exit0")
	cfg.targets = []string{"name="}

	err := runBenchmarks(context.Background(), discardLogger(), cfg)
	assert.ErrorContains(t, err, "want name=path")
}

func TestRunRejectsNegativePollInterval(t *testing.T) {
	cfg, _ := testConfig(t, "exit0")
	cfg.pollInterval = -time.Millisecond

	err := runBenchmarks(context.Background(), discardLogger(), cfg)
	assert.ErrorContains(t, err, "--poll-interval")
	assert.NoFileExists(t, cfg.historyPath)
}

func TestRunZeroPollInterval(t *testing.T) {
	cfg, out := testConfig(t, "bench")
	cfg.pollInterval = 0
	cfg.outputJSON = true

	require.NoError(t, runBenchmarks(context.Background(), discardLogger(), cfg))

	var summaries []report.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summaries))
	assert.Len(t, summaries, 1)
}

func TestDefaultHome(t *testing.T) {
	t.Setenv(target.EnvHome, "/data/criterion")
	assert.Equal(t, "/data/criterion", defaultHome())

	t.Setenv(target.EnvHome, "")
	assert.Equal(t, filepath.Join("target", "criterion"), defaultHome())
}

func TestWriteHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []*history.Record{
		{
			ID:         uuid.MustParse("6f1c2a4e-0000-4000-8000-000000000001"),
			Target:     "parse",
			StartedAt:  now.Add(-2 * time.Hour),
			FinishedAt: now.Add(-2*time.Hour + 1500*time.Millisecond),
			Outcome:    history.OutcomeFailed,
			ErrorKind:  "target-failed",
			ExitCode:   101,
		},
		{
			ID:         uuid.MustParse("0a9b8c7d-0000-4000-8000-000000000002"),
			Target:     "encode",
			StartedAt:  now.Add(-time.Hour),
			FinishedAt: now.Add(-time.Hour + time.Second),
			Outcome:    history.OutcomeSucceeded,
			Benchmarks: 3,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, records, now))

	output := buf.String()
	assert.Contains(t, output, "6f1c2a4e")
	assert.Contains(t, output, "target-failed (exit 101)")
	assert.Contains(t, output, "2 hours ago")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "encode")
}

func TestWriteHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, nil, time.Now()))
	assert.Equal(t, "no runs recorded\n", buf.String())
}
