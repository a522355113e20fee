package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/replcheck/pkg/control"
	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CheckNonLoss names the outcome comparing post-failover counts with the
// pre-failure snapshot
const CheckNonLoss = "non_loss"

// ErrRunInProgress is returned when a drill is started while another one is
// running on the same orchestrator
var ErrRunInProgress = errors.New("a failover run is already in progress")

// transitions lists the states reachable from each state
var transitions = map[types.FailoverState][]types.FailoverState{
	types.FailoverIdle:           {types.FailoverPreCheck},
	types.FailoverPreCheck:       {types.FailoverInjectFailure, types.FailoverFailed},
	types.FailoverInjectFailure:  {types.FailoverAwaitPromotion, types.FailoverFailed},
	types.FailoverAwaitPromotion: {types.FailoverPostCheck, types.FailoverFailed},
	types.FailoverPostCheck:      {types.FailoverSucceeded, types.FailoverFailed},
}

// Checks is the subset of the consistency oracle the drill relies on
type Checks interface {
	AssertWritable(ctx context.Context, ep types.Endpoint, probe types.Probe, deadline time.Duration) types.Outcome
	AssertReadOnly(ctx context.Context, ep types.Endpoint, probe types.Probe) types.Outcome
	AssertCountsEqual(ctx context.Context, tables []string, a, b types.Endpoint, deadline time.Duration) types.Outcome
	AssertUnreachable(ctx context.Context, ep types.Endpoint, deadline time.Duration) types.Outcome
	AssertRowReplicated(ctx context.Context, ref oracle.RowRef, target types.Endpoint, deadline time.Duration) types.Outcome
	SnapshotCounts(ctx context.Context, ep types.Endpoint, tables []string) (types.Snapshot, error)
	Write(ctx context.Context, ep types.Endpoint, probe types.Probe, key string) error
	ExecBatch(ctx context.Context, ep types.Endpoint, stmt string, rows [][]any) (int64, error)
}

// Config holds the deadlines and data of a drill
type Config struct {
	Tables []string
	Probe  types.Probe

	// SyncDeadline bounds the pre-failure replica catch-up
	SyncDeadline time.Duration
	// DownDeadline bounds the wait for the stopped primary to stop answering
	DownDeadline time.Duration
	// PromotionDeadline bounds the wait for the promoted node to take writes
	PromotionDeadline time.Duration
	// RowDeadline bounds single-row checks
	RowDeadline time.Duration

	// PostWrites is the number of extra probe rows written after promotion
	PostWrites int
}

// Orchestrator runs the failover drill: check, stop the primary, promote the
// replica, validate. It never restarts the old primary and never retries.
type Orchestrator struct {
	checks  Checks
	control control.Control
	primary types.Endpoint
	replica types.Endpoint
	cfg     Config
	bus     *events.Bus
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewOrchestrator creates a drill for the given pair of endpoints
func NewOrchestrator(checks Checks, ctl control.Control, primary, replica types.Endpoint, cfg Config, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		checks:  checks,
		control: ctl,
		primary: primary,
		replica: replica,
		cfg:     cfg,
		bus:     bus,
		logger:  log.WithComponent("failover"),
	}
}

// Run executes one drill and returns it in a terminal state. The returned
// error is only set when the drill could not start.
func (o *Orchestrator) Run(ctx context.Context) (*types.FailoverRun, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	run := &types.FailoverRun{
		ID:        uuid.NewString(),
		State:     types.FailoverIdle,
		StartedAt: time.Now(),
	}
	logger := log.WithRunID(run.ID).With().Str("component", "failover").Logger()
	logger.Info().
		Str("primary", o.primary.String()).
		Str("replica", o.replica.String()).
		Msg("Starting failover drill")

	steps := []struct {
		state types.FailoverState
		fn    func(context.Context, *types.FailoverRun) error
	}{
		{types.FailoverPreCheck, o.preCheck},
		{types.FailoverInjectFailure, o.injectFailure},
		{types.FailoverAwaitPromotion, o.awaitPromotion},
		{types.FailoverPostCheck, o.postCheck},
	}

	for _, step := range steps {
		o.advance(run, step.state, "")
		if err := step.fn(ctx, run); err != nil {
			run.Err = err
			o.advance(run, types.FailoverFailed, err.Error())
			break
		}
	}
	if !run.State.Terminal() {
		o.advance(run, types.FailoverSucceeded, "")
	}

	run.FinishedAt = time.Now()
	ev := logger.Info()
	if !run.Succeeded() {
		ev = logger.Error().Err(run.Err)
	}
	ev.Str("state", string(run.State)).Dur("duration", run.Duration()).Msg("Failover drill finished")

	o.bus.Publish(&events.Event{
		Type:     events.EventFailoverFinished,
		Message:  fmt.Sprintf("failover %s: %s", run.ID, run.State),
		Metadata: map[string]string{"run_id": run.ID, "state": string(run.State)},
		Run:      run,
	})
	return run, nil
}

// advance moves run to state. Moves not listed in transitions, including
// any move out of a terminal state, are ignored.
func (o *Orchestrator) advance(run *types.FailoverRun, to types.FailoverState, reason string) {
	allowed := false
	for _, s := range transitions[run.State] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		o.logger.Warn().Str("from", string(run.State)).Str("to", string(to)).Msg("Ignoring invalid failover transition")
		return
	}

	tr := types.Transition{From: run.State, To: to, At: time.Now(), Reason: reason}
	run.State = to
	run.Transitions = append(run.Transitions, tr)
	if reason != "" {
		run.Reason = reason
	}

	o.logger.Debug().Str("run_id", run.ID).Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("Failover transition")
	o.bus.Publish(events.FailoverTransition(run, tr))
}

// record appends an outcome to the run and converts a failing one to an
// error
func record(run *types.FailoverRun, out types.Outcome) error {
	run.Outcomes = append(run.Outcomes, out)
	return out.Err()
}

func (o *Orchestrator) preCheck(ctx context.Context, run *types.FailoverRun) error {
	if err := record(run, o.checks.AssertWritable(ctx, o.primary, o.cfg.Probe, o.cfg.RowDeadline)); err != nil {
		return fmt.Errorf("primary is not writable: %w", err)
	}
	if err := record(run, o.checks.AssertReadOnly(ctx, o.replica, o.cfg.Probe)); err != nil {
		return fmt.Errorf("replica is not read-only: %w", err)
	}
	if err := record(run, o.checks.AssertCountsEqual(ctx, o.cfg.Tables, o.primary, o.replica, o.cfg.SyncDeadline)); err != nil {
		return fmt.Errorf("replica has not caught up: %w", err)
	}

	var err error
	if run.PrePrimary, err = o.checks.SnapshotCounts(ctx, o.primary, o.cfg.Tables); err != nil {
		return fmt.Errorf("failed to snapshot primary: %w", err)
	}
	if run.PreReplica, err = o.checks.SnapshotCounts(ctx, o.replica, o.cfg.Tables); err != nil {
		return fmt.Errorf("failed to snapshot replica: %w", err)
	}
	return nil
}

func (o *Orchestrator) injectFailure(ctx context.Context, run *types.FailoverRun) error {
	if err := o.control.Stop(ctx, o.primary.Node); err != nil {
		return &types.OrchestrationError{Step: types.FailoverInjectFailure, Node: o.primary.Node, Err: err}
	}

	// Promoting while the old primary still answers would split the brain
	if err := record(run, o.checks.AssertUnreachable(ctx, o.primary, o.cfg.DownDeadline)); err != nil {
		return fmt.Errorf("primary still reachable after stop, refusing to promote: %w", err)
	}
	return nil
}

func (o *Orchestrator) awaitPromotion(ctx context.Context, run *types.FailoverRun) error {
	if err := o.control.Promote(ctx, o.replica.Node); err != nil {
		return &types.OrchestrationError{Step: types.FailoverAwaitPromotion, Node: o.replica.Node, Err: err}
	}
	run.Promoted = o.replica.Name
	return nil
}

func (o *Orchestrator) postCheck(ctx context.Context, run *types.FailoverRun) error {
	if err := record(run, o.checks.AssertWritable(ctx, o.replica, o.cfg.Probe, o.cfg.PromotionDeadline)); err != nil {
		return fmt.Errorf("promoted node does not accept writes: %w", err)
	}

	// Judged before any write of ours lands on the promoted node
	post, err := o.checks.SnapshotCounts(ctx, o.replica, o.cfg.Tables)
	if err != nil {
		return fmt.Errorf("failed to snapshot promoted node: %w", err)
	}
	run.Post = post

	out := nonLoss(o.replica, run.PrePrimary, post)
	o.bus.Publish(events.CheckFinished(out))
	if err := record(run, out); err != nil {
		return fmt.Errorf("promoted node lost rows: %w", err)
	}

	key := oracle.NewKey("failover")
	if err := o.checks.Write(ctx, o.replica, o.cfg.Probe, key); err != nil {
		return fmt.Errorf("write to promoted node failed: %w", err)
	}
	if err := record(run, o.checks.AssertRowReplicated(ctx, oracle.ProbeRef(o.cfg.Probe, key), o.replica, o.cfg.RowDeadline)); err != nil {
		return fmt.Errorf("write to promoted node not readable: %w", err)
	}

	if o.cfg.PostWrites > 0 {
		var stmt string
		rows := make([][]any, o.cfg.PostWrites)
		for i := range rows {
			stmt, rows[i] = oracle.InsertProbe(o.cfg.Probe, oracle.NewKey("post"))
		}
		if _, err := o.checks.ExecBatch(ctx, o.replica, stmt, rows); err != nil {
			return fmt.Errorf("batch write to promoted node failed: %w", err)
		}
	}
	return nil
}

// nonLoss judges whether every table kept at least its pre-failure count
func nonLoss(ep types.Endpoint, pre, post types.Snapshot) types.Outcome {
	out := types.Outcome{
		Check:       CheckNonLoss,
		Endpoint:    ep.Name,
		Status:      types.StatusConverged,
		Expected:    pre,
		Observation: &types.Observation{Endpoint: ep.Name, Value: post, CapturedAt: post.CapturedAt},
		Attempts:    1,
	}
	if short := post.Shortfall(pre); len(short) > 0 {
		out.Status = types.StatusDiverged
	}
	return out
}
