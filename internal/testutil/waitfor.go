// Package testutil provides small helpers for tests that wait on
// asynchronous state.
package testutil

import (
	"testing"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	pollInterval   = 5 * time.Millisecond
)

// WaitFor polls condition until it holds, failing the test after the
// default timeout.
func WaitFor(t testing.TB, condition func() bool) {
	t.Helper()
	WaitForTimeout(t, condition, defaultTimeout)
}

// WaitForTimeout is WaitFor with an explicit deadline.
func WaitForTimeout(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(pollInterval)
	}
}
