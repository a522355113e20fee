package metrics

import (
	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/types"
)

// Recorder turns bus events into metric updates
type Recorder struct {
	unsubscribe func()
}

// NewRecorder subscribes a recorder to bus
func NewRecorder(bus *events.Bus) *Recorder {
	r := &Recorder{}
	r.unsubscribe = bus.Subscribe(r.record)
	return r
}

// Stop unsubscribes the recorder
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Recorder) record(e *events.Event) {
	switch e.Type {
	case events.EventCheckFinished:
		if e.Outcome != nil {
			recordOutcome(*e.Outcome)
		}
	case events.EventFailoverTransition:
		if e.Transition != nil {
			FailoverTransitionsTotal.WithLabelValues(string(e.Transition.From), string(e.Transition.To)).Inc()
		}
	case events.EventFailoverFinished:
		if e.Run != nil {
			FailoverRunsTotal.WithLabelValues(string(e.Run.State)).Inc()
			FailoverDuration.Observe(e.Run.Duration().Seconds())
		}
	case events.EventControlInvoked:
		ControlInvocationsTotal.WithLabelValues(e.Metadata["action"], e.Metadata["result"]).Inc()
	}
}

func recordOutcome(o types.Outcome) {
	CheckOutcomesTotal.WithLabelValues(o.Check, string(o.Status)).Inc()
	CheckDuration.WithLabelValues(o.Check).Observe(o.Elapsed.Seconds())
	CheckAttempts.WithLabelValues(o.Check).Observe(float64(o.Attempts))

	if o.Check == oracle.CheckReplicationDelay && o.OK() {
		ReplicationDelay.WithLabelValues(o.Endpoint).Set(o.Elapsed.Seconds())
		ReplicationDelayObserved.WithLabelValues(o.Endpoint).Observe(o.Elapsed.Seconds())
	}
}
