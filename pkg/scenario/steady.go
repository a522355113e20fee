package scenario

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Product row values written and updated by the propagation steps
const (
	productPrice        = 199.99
	productUpdatedPrice = 299.99
	productStock        = 15
)

// Checks is the subset of the consistency oracle the scenario uses
type Checks interface {
	Exec(ctx context.Context, ep types.Endpoint, stmt string, args ...any) (int64, error)
	ExecBatch(ctx context.Context, ep types.Endpoint, stmt string, rows [][]any) (int64, error)
	Write(ctx context.Context, ep types.Endpoint, probe types.Probe, key string) error
	AssertRowReplicated(ctx context.Context, ref oracle.RowRef, target types.Endpoint, deadline time.Duration) types.Outcome
	AssertValueEquals(ctx context.Context, ref oracle.RowRef, target types.Endpoint, deadline time.Duration) types.Outcome
	AssertReadOnly(ctx context.Context, ep types.Endpoint, probe types.Probe) types.Outcome
	AssertCountsEqual(ctx context.Context, tables []string, a, b types.Endpoint, deadline time.Duration) types.Outcome
	AssertCountMatching(ctx context.Context, filter oracle.Filter, want int64, target types.Endpoint, deadline time.Duration) types.Outcome
	MeasureReplicationDelay(ctx context.Context, probe types.Probe, primary, replica types.Endpoint, maxWait time.Duration) types.Outcome
}

// Progress receives step announcements
type Progress interface {
	Step(n int, title string)
	Info(format string, args ...any)
}

// Config sizes and bounds the steady-state scenario
type Config struct {
	Tables []string
	Probe  types.Probe

	// ProductTable enables the insert and update propagation steps on a
	// table with name, description, price and stock_quantity columns
	ProductTable string

	// BulkRows is the number of probe rows written in one transaction, 0
	// skips the step
	BulkRows int

	// Deadline bounds the single-row and count replication checks
	Deadline time.Duration
	// BulkDeadline bounds the arrival of the bulk insert, Deadline when zero
	BulkDeadline time.Duration
	// MaxDelay bounds the replication delay measurement
	MaxDelay time.Duration
}

// Result is the outcome of one scenario run
type Result struct {
	Outcomes []types.Outcome
	// Delay is the measured replication delay, zero when not measured
	Delay time.Duration
	// Err is the first failure, nil when every check passed
	Err error
}

// Passed reports whether every check converged
func (r *Result) Passed() bool {
	return r.Err == nil
}

// Steady verifies replication on a healthy pair: single rows propagate,
// updates propagate, the replica rejects writes, counts converge, a bulk
// insert arrives whole and the replication delay is within bounds.
type Steady struct {
	checks   Checks
	primary  types.Endpoint
	replica  types.Endpoint
	cfg      Config
	progress Progress
	logger   zerolog.Logger

	// product is the row written by insertProduct
	product string
}

// NewSteady creates the steady-state scenario
func NewSteady(checks Checks, primary, replica types.Endpoint, cfg Config, progress Progress) *Steady {
	return &Steady{
		checks:   checks,
		primary:  primary,
		replica:  replica,
		cfg:      cfg,
		progress: progress,
		logger:   log.WithComponent("scenario"),
	}
}

type step struct {
	title string
	run   func(context.Context, *Result) error
}

func (s *Steady) steps() []step {
	steps := []step{{"Insert on primary, read from replica", s.insertRow}}
	if s.cfg.ProductTable != "" {
		steps = append(steps,
			step{"Insert product on primary", s.insertProduct},
			step{"Update product on primary", s.updateProduct},
		)
	}
	steps = append(steps,
		step{"Replica rejects writes", s.readOnly},
		step{"Row counts converge", s.countsEqual},
	)
	if s.cfg.BulkRows > 0 {
		steps = append(steps, step{"Bulk insert", s.bulkInsert})
	}
	return append(steps, step{"Replication delay", s.delay})
}

// Run executes every step in order. A timed out check is recorded and the
// run continues; an unreachable, diverged or failed check stops it.
func (s *Steady) Run(ctx context.Context) *Result {
	res := &Result{}
	s.product = ""

	for i, st := range s.steps() {
		s.progress.Step(i+1, st.title)
		if err := st.run(ctx, res); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			s.logger.Error().Err(err).Str("step", st.title).Msg("Scenario stopped")
			break
		}
	}

	ev := s.logger.Info()
	if !res.Passed() {
		ev = s.logger.Warn().AnErr("first_failure", res.Err)
	}
	ev.Int("checks", len(res.Outcomes)).Dur("delay", res.Delay).Msg("Steady-state scenario finished")
	return res
}

// record keeps an outcome. It returns an error only when the run must stop.
func record(res *Result, out types.Outcome) error {
	res.Outcomes = append(res.Outcomes, out)
	if out.OK() {
		return nil
	}
	if res.Err == nil {
		res.Err = out.Err()
	}
	if out.Fatal() {
		return out.Err()
	}
	return nil
}

// probeRef finds the probe row for key and expects its first extra column
func probeRef(p types.Probe, key string) oracle.RowRef {
	ref := oracle.ProbeRef(p, key)
	columns := make([]string, 0, len(p.Columns))
	for c := range p.Columns {
		columns = append(columns, c)
	}
	if len(columns) > 0 {
		sort.Strings(columns)
		ref.ValueColumn = columns[0]
		ref.Value = p.Render(columns[0], key)
	}
	return ref
}

func (s *Steady) insertRow(ctx context.Context, res *Result) error {
	key := oracle.NewKey("insert")
	if err := s.checks.Write(ctx, s.primary, s.cfg.Probe, key); err != nil {
		return fmt.Errorf("insert on %s failed: %w", s.primary.Name, err)
	}
	s.progress.Info("inserted %s into %s", key, s.cfg.Probe.Table)

	return record(res, s.checks.AssertRowReplicated(ctx, probeRef(s.cfg.Probe, key), s.replica, s.cfg.Deadline))
}

func (s *Steady) productRef(name string, price float64) oracle.RowRef {
	return oracle.RowRef{
		Table:       s.cfg.ProductTable,
		KeyColumn:   "name",
		Key:         name,
		ValueColumn: "price",
		Value:       price,
	}
}

func (s *Steady) insertProduct(ctx context.Context, res *Result) error {
	name := oracle.NewKey("product")
	stmt := fmt.Sprintf(`INSERT INTO %s ("name", "description", "price", "stock_quantity") VALUES ($1, $2, $3, $4)`,
		pq.QuoteIdentifier(s.cfg.ProductTable))

	if _, err := s.checks.Exec(ctx, s.primary, stmt, name, "replication check product", productPrice, productStock); err != nil {
		return fmt.Errorf("product insert on %s failed: %w", s.primary.Name, err)
	}
	s.progress.Info("inserted product %s at %.2f", name, productPrice)

	// The update step reuses the row
	s.product = name
	return record(res, s.checks.AssertRowReplicated(ctx, s.productRef(name, productPrice), s.replica, s.cfg.Deadline))
}

func (s *Steady) updateProduct(ctx context.Context, res *Result) error {
	if s.product == "" {
		return fmt.Errorf("no product to update")
	}
	stmt := fmt.Sprintf(`UPDATE %s SET "price" = $1 WHERE "name" = $2`, pq.QuoteIdentifier(s.cfg.ProductTable))

	n, err := s.checks.Exec(ctx, s.primary, stmt, productUpdatedPrice, s.product)
	if err != nil {
		return fmt.Errorf("product update on %s failed: %w", s.primary.Name, err)
	}
	if n != 1 {
		return fmt.Errorf("product update on %s changed %d rows, want 1", s.primary.Name, n)
	}
	s.progress.Info("updated price of %s to %.2f", s.product, productUpdatedPrice)

	return record(res, s.checks.AssertValueEquals(ctx, s.productRef(s.product, productUpdatedPrice), s.replica, s.cfg.Deadline))
}

func (s *Steady) readOnly(ctx context.Context, res *Result) error {
	return record(res, s.checks.AssertReadOnly(ctx, s.replica, s.cfg.Probe))
}

func (s *Steady) countsEqual(ctx context.Context, res *Result) error {
	return record(res, s.checks.AssertCountsEqual(ctx, s.cfg.Tables, s.primary, s.replica, s.cfg.Deadline))
}

func (s *Steady) bulkInsert(ctx context.Context, res *Result) error {
	prefix := oracle.NewKey("batch") + "_"

	var stmt string
	rows := make([][]any, s.cfg.BulkRows)
	for i := range rows {
		stmt, rows[i] = oracle.InsertProbe(s.cfg.Probe, fmt.Sprintf("%s%04d", prefix, i))
	}
	if _, err := s.checks.ExecBatch(ctx, s.primary, stmt, rows); err != nil {
		return fmt.Errorf("bulk insert on %s failed: %w", s.primary.Name, err)
	}
	s.progress.Info("inserted %d rows with prefix %s", len(rows), prefix)

	filter := oracle.Filter{Table: s.cfg.Probe.Table, Column: s.cfg.Probe.KeyColumn, Prefix: prefix}
	deadline := s.cfg.BulkDeadline
	if deadline <= 0 {
		deadline = s.cfg.Deadline
	}
	return record(res, s.checks.AssertCountMatching(ctx, filter, int64(len(rows)), s.replica, deadline))
}

func (s *Steady) delay(ctx context.Context, res *Result) error {
	out := s.checks.MeasureReplicationDelay(ctx, s.cfg.Probe, s.primary, s.replica, s.cfg.MaxDelay)
	if out.OK() {
		res.Delay = out.Elapsed
		s.progress.Info("replication delay %s", out.Elapsed.Round(time.Millisecond))
	}
	return record(res, out)
}
