package oracle

import (
	"context"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/poller"
	"github.com/cuemby/replcheck/pkg/types"
)

// rowState is one lookup of a row by key
type rowState struct {
	present bool
	value   any
}

func (s rowState) observed() any {
	if !s.present {
		return Absent{}
	}
	return s.value
}

func lookup(sess endpoint.Session, ref RowRef) func(context.Context) (rowState, error) {
	stmt := selectRow(ref)
	return func(ctx context.Context) (rowState, error) {
		set, err := sess.Query(ctx, stmt, ref.Key)
		if err != nil {
			return rowState{}, err
		}
		v, ok := set.Scalar()
		return rowState{present: ok, value: v}, nil
	}
}

// AssertRowReplicated polls target until the row identified by ref is
// visible. When ref carries a value and the row shows a different one, the
// outcome is diverged and polling stops.
func (o *Oracle) AssertRowReplicated(ctx context.Context, ref RowRef, target types.Endpoint, deadline time.Duration) types.Outcome {
	var expected any = ref.Key
	if ref.ValueColumn != "" {
		expected = ref.Value
	}

	sess, err := o.open(ctx, target)
	if err != nil {
		return o.openFailed(CheckRowReplicated, target, expected, err)
	}
	defer sess.Close()

	res := poller.Until(ctx, o.poll(deadline), lookup(sess, ref), func(s rowState) bool {
		return s.present
	})

	out := fromResult(CheckRowReplicated, target, expected, res, rowState.observed)
	if out.Status == types.StatusConverged && ref.ValueColumn != "" && !sameValue(ref.Value, res.Value.value) {
		out.Status = types.StatusDiverged
	}
	return o.finish(out)
}

// AssertValueEquals polls target until the column named by ref holds the
// expected value. Stale values are expected while replication catches up,
// so a mismatch keeps polling instead of diverging.
func (o *Oracle) AssertValueEquals(ctx context.Context, ref RowRef, target types.Endpoint, deadline time.Duration) types.Outcome {
	sess, err := o.open(ctx, target)
	if err != nil {
		return o.openFailed(CheckValueEquals, target, ref.Value, err)
	}
	defer sess.Close()

	res := poller.Until(ctx, o.poll(deadline), lookup(sess, ref), func(s rowState) bool {
		return s.present && sameValue(ref.Value, s.value)
	})

	return o.finish(fromResult(CheckValueEquals, target, ref.Value, res, rowState.observed))
}

func counts(sess endpoint.Session, ep types.Endpoint, tables []string) func(context.Context) (types.Snapshot, error) {
	return func(ctx context.Context) (types.Snapshot, error) {
		snap := types.Snapshot{Endpoint: ep.Name, Counts: make(map[string]int64, len(tables))}
		for _, table := range tables {
			set, err := sess.Query(ctx, countRows(table))
			if err != nil {
				return types.Snapshot{}, err
			}
			n, err := set.Int64()
			if err != nil {
				return types.Snapshot{}, err
			}
			snap.Counts[table] = n
		}
		snap.CapturedAt = time.Now()
		return snap, nil
	}
}

// SnapshotCounts reads the row count of every table from ep in one session.
// The harness issues no writes while a snapshot is taken.
func (o *Oracle) SnapshotCounts(ctx context.Context, ep types.Endpoint, tables []string) (types.Snapshot, error) {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return types.Snapshot{}, err
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return counts(sess, ep, tables)(ctx)
}

// AssertCountsEqual snapshots a once and polls b until every table count
// matches that snapshot.
func (o *Oracle) AssertCountsEqual(ctx context.Context, tables []string, a, b types.Endpoint, deadline time.Duration) types.Outcome {
	expected, err := o.SnapshotCounts(ctx, a, tables)
	if err != nil {
		return o.openFailed(CheckCountsEqual, a, nil, err)
	}

	sess, err := o.open(ctx, b)
	if err != nil {
		return o.openFailed(CheckCountsEqual, b, expected, err)
	}
	defer sess.Close()

	res := poller.Until(ctx, o.poll(deadline), counts(sess, b, tables), func(s types.Snapshot) bool {
		return s.Equal(expected)
	})

	return o.finish(fromResult(CheckCountsEqual, b, expected, res, func(s types.Snapshot) any { return s }))
}

// AssertCountMatching polls target until exactly want rows match filter
func (o *Oracle) AssertCountMatching(ctx context.Context, filter Filter, want int64, target types.Endpoint, deadline time.Duration) types.Outcome {
	sess, err := o.open(ctx, target)
	if err != nil {
		return o.openFailed(CheckCountMatching, target, want, err)
	}
	defer sess.Close()

	stmt, pattern := countMatching(filter)
	res := poller.Until(ctx, o.poll(deadline), func(ctx context.Context) (int64, error) {
		set, err := sess.Query(ctx, stmt, pattern)
		if err != nil {
			return 0, err
		}
		return set.Int64()
	}, func(n int64) bool {
		return n == want
	})

	return o.finish(fromResult(CheckCountMatching, target, want, res, func(n int64) any { return n }))
}
