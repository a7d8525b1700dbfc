// Package testutil provides helpers shared by package tests: polling for
// asynchronous effects and laying out fixture files.
package testutil

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	Message  string
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

// WithMessage sets what a failing Must* helper reports.
func WithMessage(msg string) WaitOption {
	return func(o *WaitOptions) {
		o.Message = msg
	}
}

func buildOptions(opts []WaitOption) WaitOptions {
	o := WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
		Message:  "condition",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls condition until it holds or the timeout passes. The
// condition is always evaluated at least once, and once more at the deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	o := buildOptions(opts)

	if condition() {
		return true
	}
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if condition() {
				return true
			}
		case <-deadline.C:
			return condition()
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatalf("timed out after %s waiting for %s", buildOptions(opts).Timeout, buildOptions(opts).Message)
	}
}

// MustWaitForCount waits until counter reaches at least target.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, func() bool { return counter.Load() >= target }, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

// MustReceive returns the next value from ch or fails the test on timeout.
func MustReceive[T any](tb testing.TB, ch <-chan T, opts ...WaitOption) T {
	tb.Helper()
	o := buildOptions(opts)
	select {
	case v := <-ch:
		return v
	case <-time.After(o.Timeout):
		tb.Fatalf("timed out after %s waiting for %s", o.Timeout, o.Message)
		var zero T
		return zero
	}
}

// WriteFile creates path and its parent directories with content and returns
// path.
func WriteFile(tb testing.TB, path, content string) string {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}
