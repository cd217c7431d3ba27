// cmd/microperf/operations.go
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/loadtest"
)

const defaultHTTPTimeout = 10 * time.Second

func buildOperation(spec config.OperationSpec, client *http.Client) (loadtest.Operation, error) {
	switch spec.Kind {
	case config.OperationSleep:
		return sleepOperation(spec.Sleep), nil
	case config.OperationHTTP:
		return newHTTPOperation(spec, client)
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", config.ErrInvalidConfig, spec.Kind)
	}
}

func sleepOperation(d time.Duration) loadtest.Func {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// httpOperation issues one request per evaluation and fails on an
// unexpected status.
type httpOperation struct {
	client  *http.Client
	method  string
	url     string
	timeout time.Duration
	expect  int
}

func newHTTPOperation(spec config.OperationSpec, client *http.Client) (*httpOperation, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("%w: http operation needs a url", config.ErrInvalidConfig)
	}
	if client == nil {
		client = http.DefaultClient
	}
	op := &httpOperation{
		client:  client,
		method:  spec.Method,
		url:     spec.URL,
		timeout: spec.Timeout,
		expect:  spec.ExpectStatus,
	}
	if op.method == "" {
		op.method = http.MethodGet
	}
	if op.timeout <= 0 {
		op.timeout = defaultHTTPTimeout
	}
	if op.expect == 0 {
		op.expect = http.StatusOK
	}
	return op, nil
}

func (o *httpOperation) Setup(context.Context) error    { return nil }
func (o *httpOperation) Teardown(context.Context) error { return nil }

func (o *httpOperation) Evaluate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, o.method, o.url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != o.expect {
		return &statusError{got: resp.StatusCode, want: o.expect}
	}
	return nil
}

type statusError struct {
	got, want int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d, want %d", e.got, e.want)
}
