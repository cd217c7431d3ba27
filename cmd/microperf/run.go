// cmd/microperf/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/FairForge/microperf/internal/faults"
	"github.com/FairForge/microperf/internal/loadtest"
	"github.com/FairForge/microperf/internal/metrics"
	"github.com/FairForge/microperf/internal/reporting"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	jsonPath    string
	csvPath     string
	metricsAddr string
	only        []string
	failFast    bool
	serve       bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run every evaluation in a suite and report the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := global.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runSuite(cmd.Context(), args[0], opts, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.jsonPath, "json", "", "write a JSON report to this path (- for stdout)")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "write a CSV report to this path (- for stdout)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "run only the named evaluations")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "stop after the first failed evaluation")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "keep serving metrics after the suite finishes until interrupted")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <suite.yaml>",
		Short: "Check a suite file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := config.LoadSuite(args[0])
			if err != nil {
				return err
			}
			for _, spec := range suite.Evaluations {
				if _, err := buildOperation(spec.Operation, nil); err != nil {
					return fmt.Errorf("evaluation %q: %w", spec.Name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d evaluations OK\n", args[0], len(suite.Evaluations))
			return nil
		},
	}
}

func runSuite(ctx context.Context, path string, opts *runOptions, stdout io.Writer, logger *zap.Logger) error {
	suite, err := config.LoadSuite(path)
	if err != nil {
		return err
	}

	exporter := metrics.NewExporter()
	if opts.metricsAddr != "" {
		srv := newMetricsServer(opts.metricsAddr, exporter, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer shutdown(srv, logger)
		logger.Info("serving metrics", zap.String("addr", opts.metricsAddr))
	}

	selected := selectEvaluations(suite.Evaluations, opts.only)
	if len(selected) == 0 {
		return fmt.Errorf("%w: no evaluations selected", config.ErrInvalidConfig)
	}

	collector := reporting.NewCollector()
	client := &http.Client{}
	failed := 0
	for _, spec := range selected {
		if ctx.Err() != nil {
			break
		}
		ectx, err := runEvaluation(ctx, spec, client, collector, logger)
		exporter.Observe(ectx)
		if err != nil {
			failed++
			if opts.failFast {
				break
			}
		}
	}

	reporters := []reporting.Reporter{reporting.NewLogReporter(logger)}
	closers := make([]io.Closer, 0, 2)
	for _, out := range []struct {
		path string
		mk   func(io.Writer) reporting.Reporter
	}{
		{opts.jsonPath, func(w io.Writer) reporting.Reporter { return reporting.NewJSONReporter(w) }},
		{opts.csvPath, func(w io.Writer) reporting.Reporter { return reporting.NewCSVReporter(w) }},
	} {
		if out.path == "" {
			continue
		}
		w, closer, err := openOutput(out.path, stdout)
		if err != nil {
			return err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		reporters = append(reporters, out.mk(w))
	}
	reportErr := collector.Report(reporters...)
	for _, c := range closers {
		if err := c.Close(); err != nil && reportErr == nil {
			reportErr = err
		}
	}
	if reportErr != nil {
		return reportErr
	}

	if opts.serve && opts.metricsAddr != "" {
		logger.Info("suite finished, serving metrics until interrupted")
		<-ctx.Done()
	}

	if failed > 0 {
		logger.Warn("suite failed", zap.Int("failed", failed), zap.Int("total", collector.Len()))
		return errEvaluationsFailed
	}
	if err := ctx.Err(); err != nil && !opts.serve {
		return err
	}
	return nil
}

// runEvaluation runs one declared evaluation. A declaration that cannot be
// loaded still yields a context, aborted with the load error, so every
// evaluation shows up in the reports.
func runEvaluation(ctx context.Context, spec config.EvaluationSpec, client *http.Client, collector *reporting.Collector, logger *zap.Logger) (*evaluation.Context, error) {
	log := logger.With(zap.String("evaluation", spec.Name))
	ectx := evaluation.NewContext(spec.Name, spec.Group)

	rejected := func(msg string, err error) (*evaluation.Context, error) {
		log.Error(msg, zap.Error(err))
		now := time.Now()
		ectx.MarkStarted(now)
		ectx.MarkFinished(now)
		ectx.Abort(err)
		collector.Add(ectx)
		return ectx, err
	}

	op, err := buildOperation(spec.Operation, client)
	if err != nil {
		return rejected("invalid operation", err)
	}
	if err := ectx.LoadConfiguration(spec.Config); err != nil {
		return rejected("invalid configuration", err)
	}
	if err := ectx.LoadRequirements(spec.Requirements); err != nil {
		return rejected("invalid requirements", err)
	}

	stmt, err := loadtest.NewStatement(ectx, op,
		loadtest.WithLogger(logger),
		loadtest.WithPolicy(faults.DefaultPolicy()),
		loadtest.WithListener(collector.Listener(ectx)),
	)
	if err != nil {
		return rejected("cannot build evaluation", err)
	}
	return ectx, stmt.Run(ctx)
}

func selectEvaluations(specs []config.EvaluationSpec, only []string) []config.EvaluationSpec {
	if len(only) == 0 {
		return specs
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	out := make([]config.EvaluationSpec, 0, len(only))
	for _, spec := range specs {
		if wanted[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}

func openOutput(path string, stdout io.Writer) (io.Writer, io.Closer, error) {
	if path == "-" {
		return stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open report output: %w", err)
	}
	return f, f, nil
}
