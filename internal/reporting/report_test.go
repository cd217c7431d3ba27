// internal/reporting/report_test.go
package reporting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/FairForge/microperf/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func finished(t *testing.T, name string, started time.Time, req *config.Requirements, latencies ...time.Duration) *evaluation.Context {
	t.Helper()
	ectx := evaluation.NewContext(name, "suite").WithEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, ectx.LoadConfiguration(config.DefaultEvaluation()))
	require.NoError(t, ectx.LoadRequirements(req))
	ectx.MarkStarted(started)
	ectx.MarkFinished(started.Add(time.Second))

	acc := stats.NewAccumulator()
	for _, l := range latencies {
		acc.RecordLatency(l)
		acc.IncrementEvaluationCount()
	}
	ectx.SetStatistics(acc.Snapshot())
	require.NoError(t, ectx.Validate())
	return ectx
}

func passing(t *testing.T, name string, started time.Time) *evaluation.Context {
	req := config.DefaultRequirements()
	req.Percentiles = map[int]float64{90: 50}
	return finished(t, name, started, &req, 10*time.Millisecond, 20*time.Millisecond)
}

func failing(t *testing.T, name string, started time.Time) *evaluation.Context {
	req := config.DefaultRequirements()
	req.ExecutionsPerSec = 100
	req.MaxLatencyMs = 5
	return finished(t, name, started, &req, 10*time.Millisecond)
}

func aborted(t *testing.T, name string, started time.Time) *evaluation.Context {
	ectx := evaluation.NewContext(name, "suite").WithEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, ectx.LoadConfiguration(config.DefaultEvaluation()))
	ectx.MarkStarted(started)
	ectx.Abort(errors.New("evaluation skipped: no credentials"))
	return ectx
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusPass, Status(passing(t, "a", base)))
	assert.Equal(t, StatusFail, Status(failing(t, "b", base)))
	assert.Equal(t, StatusAborted, Status(aborted(t, "c", base)))

	ectx := evaluation.NewContext("d", "")
	assert.Equal(t, StatusNotValidated, Status(ectx))
}

func TestNewRecord(t *testing.T) {
	t.Run("validated evaluation", func(t *testing.T) {
		rec := NewRecord(failing(t, "upload", base))
		assert.Equal(t, "upload", rec.Name)
		assert.Equal(t, "suite", rec.Group)
		assert.Equal(t, StatusFail, rec.Status)
		assert.Equal(t, int64(1000), rec.DurationMs)
		assert.Equal(t, 1, rec.Threads)
		assert.Equal(t, int64(1), rec.EvaluationCount)
		assert.Equal(t, int64(1), rec.ThroughputQps)
		assert.Equal(t, 10.0, rec.MaxLatencyMs)
		assert.Equal(t, []string{
			"throughput threshold not achieved",
			"max latency threshold not achieved",
		}, rec.Failures)
	})

	t.Run("percentiles", func(t *testing.T) {
		rec := NewRecord(passing(t, "download", base))
		require.Contains(t, rec.Percentiles, 90)
		assert.True(t, rec.Percentiles[90].Achieved)
		assert.Equal(t, 50.0, rec.Percentiles[90].CeilingMs)
		assert.InDelta(t, 19.0, rec.Percentiles[90].ActualMs, 1e-6)
	})

	t.Run("aborted evaluation", func(t *testing.T) {
		rec := NewRecord(aborted(t, "list", base))
		assert.Equal(t, StatusAborted, rec.Status)
		assert.Equal(t, "evaluation skipped: no credentials", rec.AbortCause)
		assert.Zero(t, rec.EvaluationCount)
		assert.Nil(t, rec.Percentiles)
	})
}

func TestBuildReport(t *testing.T) {
	report := BuildReport([]*evaluation.Context{
		passing(t, "a", base),
		failing(t, "b", base),
		aborted(t, "c", base),
		passing(t, "d", base),
	})

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Aborted)
	require.Len(t, report.Evaluations, 4)
	assert.Equal(t, "c", report.Evaluations[2].Name)
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	err := NewJSONReporter(&buf).GenerateReport([]*evaluation.Context{passing(t, "a", base)})
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Passed)
	require.Len(t, decoded.Evaluations, 1)
	assert.Equal(t, "a", decoded.Evaluations[0].Name)
	assert.True(t, decoded.Evaluations[0].Percentiles[90].Achieved)
	assert.Contains(t, buf.String(), `"throughput_qps": 2`)
}

func TestCSVReporter(t *testing.T) {
	var buf bytes.Buffer
	err := NewCSVReporter(&buf).GenerateReport([]*evaluation.Context{
		passing(t, "a", base),
		failing(t, "b", base),
		aborted(t, "c", base),
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])

	col := func(name string) int {
		for i, h := range csvHeader {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}

	assert.Equal(t, "pass", rows[1][col("status")])
	assert.Equal(t, "90:19", rows[1][col("percentiles")])
	assert.Equal(t, "2026-03-01T12:00:00Z", rows[1][col("started_at")])
	assert.Equal(t, "fail", rows[2][col("status")])
	assert.Equal(t, "throughput threshold not achieved; max latency threshold not achieved", rows[2][col("failures")])
	assert.Equal(t, "10.000", rows[2][col("max_latency_ms")])
	assert.Equal(t, "aborted", rows[3][col("status")])
	assert.Equal(t, "evaluation skipped: no credentials", rows[3][col("failures")])
	assert.Equal(t, "", rows[3][col("finished_at")])
}

func TestLogReporter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewLogReporter(zap.New(core))

	require.NoError(t, r.GenerateReport([]*evaluation.Context{
		passing(t, "a", base),
		failing(t, "b", base),
	}))

	entries := logs.FilterMessage("evaluation report").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "b", entries[1].ContextMap()["evaluation"])

	summary := logs.FilterMessage("report summary").All()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(1), summary[0].ContextMap()["failed"])

	assert.NotNil(t, NewLogReporter(nil))
}

type failingReporter struct{ err error }

func (f failingReporter) GenerateReport([]*evaluation.Context) error { return f.err }

func TestGenerate(t *testing.T) {
	errA := errors.New("disk full")
	errB := errors.New("pipe closed")
	var buf bytes.Buffer

	err := Generate([]*evaluation.Context{passing(t, "a", base)},
		failingReporter{errA}, NewJSONReporter(&buf), failingReporter{errB})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.NotEmpty(t, buf.String(), "later reporters still run")
}
