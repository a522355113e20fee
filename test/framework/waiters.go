package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/health"
	"github.com/cuemby/replcheck/pkg/inspect"
	"github.com/cuemby/replcheck/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with a 30s timeout and 1s interval
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func(context.Context) bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition(ctx) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition(ctx) {
				return nil
			}
		}
	}
}

// WaitForReachable waits until ep accepts SQL connections
func (w *Waiter) WaitForReachable(ctx context.Context, connector endpoint.Connector, ep types.Endpoint) error {
	checker := health.NewSQLChecker(ep, connector)
	return w.WaitFor(ctx, func(ctx context.Context) bool {
		return checker.Check(ctx).Healthy
	}, fmt.Sprintf("%s to accept connections", ep.Name))
}

// WaitForStreaming waits until primary reports at least one streaming
// replication client
func (w *Waiter) WaitForStreaming(ctx context.Context, ins *inspect.Inspector, primary types.Endpoint) error {
	return w.WaitFor(ctx, func(ctx context.Context) bool {
		status, err := ins.Primary(ctx, primary)
		if err != nil {
			return false
		}
		for _, c := range status.Clients {
			if c.State == "streaming" {
				return true
			}
		}
		return false
	}, fmt.Sprintf("a streaming replica on %s", primary.Name))
}
