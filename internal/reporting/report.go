// internal/reporting/report.go
package reporting

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Evaluation statuses
const (
	StatusPass         = "pass"
	StatusFail         = "fail"
	StatusAborted      = "aborted"
	StatusNotValidated = "not_validated"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatLog  = "log"
)

// Reporter renders a set of finished evaluations.
type Reporter interface {
	GenerateReport(evaluations []*evaluation.Context) error
}

// PercentileRecord is one percentile outcome.
type PercentileRecord struct {
	ActualMs  float64 `json:"actual_ms"`
	CeilingMs float64 `json:"ceiling_ms"`
	Achieved  bool    `json:"achieved"`
}

// Record is the flattened outcome of one evaluation
type Record struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Group           string                   `json:"group,omitempty"`
	Status          string                   `json:"status"`
	AbortCause      string                   `json:"abort_cause,omitempty"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
	Threads         int                      `json:"threads"`
	DurationMs      int64                    `json:"duration_ms"`
	WarmUpMs        int64                    `json:"warm_up_ms"`
	RateLimit       int                      `json:"rate_limit"`
	EvaluationCount int64                    `json:"evaluation_count"`
	ErrorCount      int64                    `json:"error_count"`
	ErrorPercentage float64                  `json:"error_percentage"`
	ThroughputQps   int64                    `json:"throughput_qps"`
	MinLatencyMs    float64                  `json:"min_latency_ms"`
	MeanLatencyMs   float64                  `json:"mean_latency_ms"`
	MaxLatencyMs    float64                  `json:"max_latency_ms"`
	Percentiles     map[int]PercentileRecord `json:"percentiles,omitempty"`
	Failures        []string                 `json:"failures,omitempty"`
}

// Status classifies a finished evaluation context.
func Status(ectx *evaluation.Context) string {
	switch {
	case ectx.Aborted():
		return StatusAborted
	case !ectx.Validated():
		return StatusNotValidated
	case ectx.IsSuccessful():
		return StatusPass
	default:
		return StatusFail
	}
}

// NewRecord flattens an evaluation context.
func NewRecord(ectx *evaluation.Context) Record {
	cfg := ectx.Config()
	rec := Record{
		ID:         ectx.ID,
		Name:       ectx.Name,
		Group:      ectx.Group,
		Status:     Status(ectx),
		StartedAt:  ectx.StartedAt,
		FinishedAt: ectx.FinishedAt,
		Threads:    cfg.Threads,
		DurationMs: cfg.Duration.Milliseconds(),
		WarmUpMs:   cfg.WarmUp.Milliseconds(),
		RateLimit:  cfg.RateLimit,
	}
	if cause := ectx.AbortCause(); cause != nil {
		rec.AbortCause = cause.Error()
	}
	if !ectx.Validated() {
		return rec
	}

	r := ectx.Results()
	rec.EvaluationCount = r.EvaluationCount
	rec.ErrorCount = r.ErrorCount
	rec.ErrorPercentage = r.ErrorPercentage
	rec.ThroughputQps = r.ThroughputQps
	rec.MinLatencyMs = r.MinLatencyMs
	rec.MeanLatencyMs = r.MeanLatencyMs
	rec.MaxLatencyMs = r.MaxLatencyMs
	rec.Failures = ectx.Failures()
	if len(r.Percentiles) > 0 {
		rec.Percentiles = make(map[int]PercentileRecord, len(r.Percentiles))
		for p, pr := range r.Percentiles {
			rec.Percentiles[p] = PercentileRecord{ActualMs: pr.ActualMs, CeilingMs: pr.CeilingMs, Achieved: pr.Achieved}
		}
	}
	return rec
}

// Report represents a generated report
type Report struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Aborted     int       `json:"aborted"`
	Evaluations []Record  `json:"evaluations"`
}

// BuildReport summarizes evaluations in the order given.
func BuildReport(evaluations []*evaluation.Context) *Report {
	report := &Report{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Total:       len(evaluations),
		Evaluations: make([]Record, 0, len(evaluations)),
	}
	for _, ectx := range evaluations {
		rec := NewRecord(ectx)
		switch rec.Status {
		case StatusPass:
			report.Passed++
		case StatusFail:
			report.Failed++
		case StatusAborted:
			report.Aborted++
		}
		report.Evaluations = append(report.Evaluations, rec)
	}
	return report
}

// JSONReporter writes the report as one JSON document.
type JSONReporter struct {
	w io.Writer
}

// NewJSONReporter creates a JSON reporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{w: w}
}

func (r *JSONReporter) GenerateReport(evaluations []*evaluation.Context) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(BuildReport(evaluations)); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "name", "group", "status", "started_at", "finished_at",
	"threads", "duration_ms", "warm_up_ms", "rate_limit",
	"evaluation_count", "error_count", "error_percentage", "throughput_qps",
	"min_latency_ms", "mean_latency_ms", "max_latency_ms",
	"percentiles", "failures",
}

// CSVReporter writes one row per evaluation.
type CSVReporter struct {
	w io.Writer
}

// NewCSVReporter creates a CSV reporter writing to w.
func NewCSVReporter(w io.Writer) *CSVReporter {
	return &CSVReporter{w: w}
}

func (r *CSVReporter) GenerateReport(evaluations []*evaluation.Context) error {
	w := csv.NewWriter(r.w)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, ectx := range evaluations {
		rec := NewRecord(ectx)
		actual := make(map[int]float64, len(rec.Percentiles))
		for p, pr := range rec.Percentiles {
			actual[p] = pr.ActualMs
		}
		failures := rec.Failures
		if rec.AbortCause != "" {
			failures = append([]string{rec.AbortCause}, failures...)
		}

		row := []string{
			rec.ID,
			rec.Name,
			rec.Group,
			rec.Status,
			formatTime(rec.StartedAt),
			formatTime(rec.FinishedAt),
			strconv.Itoa(rec.Threads),
			strconv.FormatInt(rec.DurationMs, 10),
			strconv.FormatInt(rec.WarmUpMs, 10),
			strconv.Itoa(rec.RateLimit),
			strconv.FormatInt(rec.EvaluationCount, 10),
			strconv.FormatInt(rec.ErrorCount, 10),
			formatFloat(rec.ErrorPercentage),
			strconv.FormatInt(rec.ThroughputQps, 10),
			formatFloat(rec.MinLatencyMs),
			formatFloat(rec.MeanLatencyMs),
			formatFloat(rec.MaxLatencyMs),
			config.FormatPercentiles(actual),
			strings.Join(failures, "; "),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// LogReporter logs one structured entry per evaluation.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging through logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) GenerateReport(evaluations []*evaluation.Context) error {
	report := BuildReport(evaluations)
	for _, rec := range report.Evaluations {
		fields := []zap.Field{
			zap.String("evaluation", rec.Name),
			zap.String("group", rec.Group),
			zap.String("status", rec.Status),
			zap.Int64("count", rec.EvaluationCount),
			zap.Int64("errors", rec.ErrorCount),
			zap.Int64("throughput_qps", rec.ThroughputQps),
			zap.Float64("mean_latency_ms", rec.MeanLatencyMs),
			zap.Float64("max_latency_ms", rec.MaxLatencyMs),
		}
		switch rec.Status {
		case StatusPass:
			r.logger.Info("evaluation report", fields...)
		case StatusAborted:
			r.logger.Warn("evaluation report", append(fields, zap.String("abort_cause", rec.AbortCause))...)
		default:
			r.logger.Warn("evaluation report", append(fields, zap.Strings("failures", rec.Failures))...)
		}
	}
	r.logger.Info("report summary",
		zap.String("report_id", report.ID),
		zap.Int("total", report.Total),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Int("aborted", report.Aborted),
	)
	return nil
}

// Generate runs every reporter and joins their errors.
func Generate(evaluations []*evaluation.Context, reporters ...Reporter) error {
	var errs []error
	for _, r := range reporters {
		if err := r.GenerateReport(evaluations); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
