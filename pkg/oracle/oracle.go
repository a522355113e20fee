package oracle

import (
	"context"
	"strconv"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/poller"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/rs/zerolog"
)

// Check names reported in outcomes
const (
	CheckRowReplicated    = "row_replicated"
	CheckValueEquals      = "value_equals"
	CheckCountsEqual      = "counts_equal"
	CheckCountMatching    = "count_matching"
	CheckReadOnly         = "read_only"
	CheckWritable         = "writable"
	CheckUnreachable      = "unreachable"
	CheckReplicationDelay = "replication_delay"
)

// DefaultTimeout bounds connection setup and one-shot checks
const DefaultTimeout = 5 * time.Second

// Oracle runs named consistency checks against endpoints. Every check opens
// its own session and closes it before returning.
type Oracle struct {
	connector endpoint.Connector
	interval  time.Duration
	timeout   time.Duration
	bus       *events.Bus
	logger    zerolog.Logger
}

// Option configures an Oracle
type Option func(*Oracle)

// WithInterval sets the polling interval used by every check
func WithInterval(d time.Duration) Option {
	return func(o *Oracle) { o.interval = d }
}

// WithTimeout bounds connection setup and one-shot checks
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

// WithEvents publishes every outcome on the bus
func WithEvents(bus *events.Bus) Option {
	return func(o *Oracle) { o.bus = bus }
}

// New creates an oracle that opens sessions through connector
func New(connector endpoint.Connector, opts ...Option) *Oracle {
	o := &Oracle{
		connector: connector,
		interval:  poller.DefaultInterval,
		timeout:   DefaultTimeout,
		logger:    log.WithComponent("oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) poll(deadline time.Duration) poller.Config {
	return poller.Config{Interval: o.interval, Deadline: deadline}
}

func (o *Oracle) open(ctx context.Context, ep types.Endpoint) (endpoint.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return o.connector.Open(ctx, ep)
}

// openFailed turns a connect error into an outcome
func (o *Oracle) openFailed(check string, ep types.Endpoint, expected any, err error) types.Outcome {
	status := types.StatusFailed
	if endpoint.IsConnectivity(err) {
		status = types.StatusUnreachable
	}
	return o.finish(types.Outcome{
		Check:    check,
		Endpoint: ep.Name,
		Status:   status,
		Expected: expected,
		Attempts: 1,
		Cause:    err,
	})
}

// finish logs and publishes an outcome
func (o *Oracle) finish(out types.Outcome) types.Outcome {
	ev := o.logger.Info()
	if !out.OK() {
		ev = o.logger.Warn()
	}
	ev.Str("check", out.Check).
		Str("endpoint", out.Endpoint).
		Str("status", string(out.Status)).
		Dur("elapsed", out.Elapsed).
		Int("attempts", out.Attempts).
		AnErr("cause", out.Cause).
		Msg("Check finished")

	o.bus.Publish(events.CheckFinished(out))
	return out
}

// fromResult converts a poll result into an outcome. view maps the polled
// value to what is reported as observed.
func fromResult[T any](check string, ep types.Endpoint, expected any, res poller.Result[T], view func(T) any) types.Outcome {
	out := types.Outcome{
		Check:    check,
		Endpoint: ep.Name,
		Status:   res.Status,
		Expected: expected,
		Elapsed:  res.Elapsed,
		Attempts: res.Attempts,
		Cause:    res.Err,
	}
	if res.Observed {
		out.Observation = &types.Observation{
			Endpoint:   ep.Name,
			Value:      view(res.Value),
			CapturedAt: res.CapturedAt,
		}
	}
	return out
}

// Exec runs a single statement on ep in its own session
func (o *Oracle) Exec(ctx context.Context, ep types.Endpoint, stmt string, args ...any) (int64, error) {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	return sess.Exec(ctx, stmt, args...)
}

// ExecBatch runs stmt once per argument row on ep inside one transaction
func (o *Oracle) ExecBatch(ctx context.Context, ep types.Endpoint, stmt string, rows [][]any) (int64, error) {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	return sess.ExecBatch(ctx, stmt, rows)
}

// Query runs a statement on ep in its own session
func (o *Oracle) Query(ctx context.Context, ep types.Endpoint, stmt string, args ...any) (*endpoint.RowSet, error) {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.Query(ctx, stmt, args...)
}

// sameValue compares an expected value with one read back from the
// database. Go numbers compare numerically so 30.0 matches "30.00"; every
// other value needs the exact text. NULL only matches nil.
func sameValue(expected, observed any) bool {
	if expected == nil || observed == nil {
		return expected == nil && observed == nil
	}
	a, b := endpoint.Text(expected), endpoint.Text(observed)
	if a == b {
		return true
	}
	if !isNumber(expected) {
		return false
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// Absent is reported as the observation when a row was looked up and not
// found
type Absent struct{}

func (Absent) String() string {
	return "no row"
}
