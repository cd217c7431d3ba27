// cmd/microperf/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/FairForge/microperf/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errEvaluationsFailed makes the process exit 1 without printing usage.
var errEvaluationsFailed = errors.New("one or more evaluations failed")

type globalFlags struct {
	logLevel  string
	logFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errEvaluationsFailed) {
			fmt.Fprintln(os.Stderr, "microperf:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	env := logging.FromEnv()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "microperf",
		Short:         "Run micro load tests against operations declared in a suite file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", env.Level, "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", env.Format, "log format: json or console")

	root.AddCommand(newRunCmd(flags), newValidateCmd())
	return root
}

func (f *globalFlags) logger(w io.Writer) (*zap.Logger, error) {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  f.logLevel,
		Format: f.logFormat,
		Output: w,
	})
}
