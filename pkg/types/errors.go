package types

import (
	"fmt"
	"time"
)

// DivergenceError reports data that is present but incorrect. It is never
// retried.
type DivergenceError struct {
	Check    string
	Endpoint string
	Expected any
	Observed any
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s on %s diverged: expected %v, observed %v", e.Check, e.Endpoint, e.Expected, e.Observed)
}

// TimeoutError reports a predicate that was never satisfied within the deadline
type TimeoutError struct {
	Check    string
	Endpoint string
	Expected any
	Observed *Observation
	Elapsed  time.Duration
	Err      error // last transient error, if any
}

func (e *TimeoutError) Error() string {
	observed := "nothing"
	if e.Observed != nil {
		observed = fmt.Sprintf("%v", e.Observed.Value)
	}
	msg := fmt.Sprintf("%s on %s timed out after %v: expected %v, last observed %s",
		e.Check, e.Endpoint, e.Elapsed.Round(time.Millisecond), e.Expected, observed)
	if e.Err != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// OrchestrationError reports a failed cluster control step. The failover run
// stops and the cluster is left as it is.
type OrchestrationError struct {
	Step FailoverState
	Node string
	Err  error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("cluster control failed during %s on %s: %v", e.Step, e.Node, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}
