// Package poller implements bounded fixed-interval polling. It replaces
// sleep-then-check-once waits: Until returns as soon as a predicate holds,
// stops immediately on an unreachable endpoint, and never runs past its
// deadline by more than one attempt.
package poller
