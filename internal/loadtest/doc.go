// Package loadtest drives a single operation from several goroutines for a
// bounded time or invocation count and validates the collected statistics
// against an evaluation's requirements.
//
// # Overview
//
// A Statement owns one evaluation run. It starts Threads workers, each of
// which loops:
//
//   - acquire a permit from the rate limiter (Unlimited when RateLimit < 0)
//   - during warm-up, call the operation and discard the outcome
//   - afterwards, call Setup, Evaluate and Teardown and record the latency of
//     Evaluate, counting a failure when it returns an ordinary error
//
// Errors are classified by a faults.Policy. Ignorable errors skip the
// iteration without recording anything. Abort errors stop every worker and
// make Run return an *AbortError.
//
// # Quick Start
//
//	ectx := evaluation.NewContext("get-object", "s3")
//	if err := ectx.LoadConfiguration(cfg); err != nil {
//	    return err
//	}
//	if err := ectx.LoadRequirements(&req); err != nil {
//	    return err
//	}
//
//	stmt, err := loadtest.NewStatement(ectx, loadtest.Func(func(ctx context.Context) error {
//	    _, err := client.GetObject(ctx, input)
//	    return err
//	}), loadtest.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	err = stmt.Run(ctx)
//
// Run returns nil when every requirement is met, a *RequirementsNotMetError
// listing each unmet threshold otherwise, and an *AbortError or a wrapped
// ErrSetupFailed/ErrTeardownFailed when the run could not complete.
//
// # Stop Conditions
//
// With TotalExecutions set the run stops once that many invocations have
// been recorded; throughput is then computed over the measured run time.
// Otherwise the run stops after Duration. Either way workers get StopGrace
// to finish their current call before Run stops waiting for them.
//
// # Async Operations
//
// When Async is set the operation must implement AsyncOperation. Each
// measured call receives a Completion that records the sample when Success
// or Fail is called. Warm-up calls receive NoopCompletion.
package loadtest
