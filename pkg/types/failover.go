package types

import "time"

// FailoverState is a state of the failover drill state machine
type FailoverState string

const (
	FailoverIdle           FailoverState = "idle"
	FailoverPreCheck       FailoverState = "pre_check"
	FailoverInjectFailure  FailoverState = "inject_failure"
	FailoverAwaitPromotion FailoverState = "await_promotion"
	FailoverPostCheck      FailoverState = "post_check"
	FailoverSucceeded      FailoverState = "succeeded"
	FailoverFailed         FailoverState = "failed"
)

// Terminal reports whether no further transition is allowed
func (s FailoverState) Terminal() bool {
	return s == FailoverSucceeded || s == FailoverFailed
}

// Transition records one state change of a failover run
type Transition struct {
	From   FailoverState
	To     FailoverState
	At     time.Time
	Reason string
}

// FailoverRun aggregates everything observed during one failover drill
type FailoverRun struct {
	ID          string
	State       FailoverState
	Reason      string
	Err         error
	PrePrimary  Snapshot
	PreReplica  Snapshot
	Promoted    string
	Post        Snapshot // promoted node once writable, before any harness write
	Outcomes    []Outcome
	Transitions []Transition
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration returns how long the run took, or zero while it is still running
func (r *FailoverRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run ended in the Succeeded state
func (r *FailoverRun) Succeeded() bool {
	return r.State == FailoverSucceeded
}
