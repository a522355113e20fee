package oracle

import (
	"context"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/poller"
	"github.com/cuemby/replcheck/pkg/types"
)

// Write verdicts reported as observations of read-only and writable checks
const (
	WriteAccepted = "write accepted"
	WriteRejected = "write rejected (read-only)"
)

// probeWrite attempts the probe insert inside a rolled-back transaction. A
// read-only rejection is a result, not an error.
func probeWrite(sess endpoint.Session, probe types.Probe, purpose string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		stmt, args := InsertProbe(probe, NewKey(purpose))
		err := sess.Probe(ctx, stmt, args...)
		switch {
		case err == nil:
			return WriteAccepted, nil
		case endpoint.IsReadOnly(err):
			return WriteRejected, nil
		}
		return "", err
	}
}

// AssertReadOnly attempts a single write on ep. The check passes only when
// the write is rejected with a read-only error. Acceptance is a divergence
// and any other error fails the check. The attempt is always rolled back.
func (o *Oracle) AssertReadOnly(ctx context.Context, ep types.Endpoint, probe types.Probe) types.Outcome {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return o.openFailed(CheckReadOnly, ep, WriteRejected, err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res := poller.Once(ctx, probeWrite(sess, probe, "readonly"))

	out := fromResult(CheckReadOnly, ep, WriteRejected, res, func(v string) any { return v })
	switch {
	case out.Status == types.StatusTimedOut:
		// One shot: an error that would be retried elsewhere is final here
		out.Status = types.StatusFailed
	case out.Status == types.StatusConverged && res.Value != WriteRejected:
		out.Status = types.StatusDiverged
	}
	return o.finish(out)
}

// AssertWritable polls ep until a rolled-back probe write is accepted. It
// detects a completed promotion and confirms the primary takes writes.
func (o *Oracle) AssertWritable(ctx context.Context, ep types.Endpoint, probe types.Probe, deadline time.Duration) types.Outcome {
	sess, err := o.open(ctx, ep)
	if err != nil {
		return o.openFailed(CheckWritable, ep, WriteAccepted, err)
	}
	defer sess.Close()

	res := poller.Until(ctx, o.poll(deadline), probeWrite(sess, probe, "writable"), func(v string) bool {
		return v == WriteAccepted
	})

	return o.finish(fromResult(CheckWritable, ep, WriteAccepted, res, func(v string) any { return v }))
}

// AssertUnreachable polls ep with fresh connections until it stops
// answering. It confirms an injected failure took effect.
func (o *Oracle) AssertUnreachable(ctx context.Context, ep types.Endpoint, deadline time.Duration) types.Outcome {
	const reachable = string(types.LivenessReachable)

	res := poller.Until(ctx, o.poll(deadline), func(ctx context.Context) (string, error) {
		sess, err := o.open(ctx, ep)
		if err != nil {
			return "", err
		}
		defer sess.Close()

		if err := sess.Ping(ctx); err != nil {
			return "", err
		}
		return reachable, nil
	}, func(string) bool {
		return false
	})

	out := fromResult(CheckUnreachable, ep, types.LivenessUnreachable, res, func(v string) any { return v })
	if res.Status == types.StatusUnreachable {
		out.Status = types.StatusConverged
		out.Observation = &types.Observation{
			Endpoint:   ep.Name,
			Value:      string(types.LivenessUnreachable),
			CapturedAt: time.Now(),
		}
	}
	return o.finish(out)
}

// MeasureReplicationDelay writes a unique marker on primary and polls
// replica until it is visible. The clock starts once the insert has
// committed. On success the outcome's Elapsed is the replication delay.
func (o *Oracle) MeasureReplicationDelay(ctx context.Context, probe types.Probe, primary, replica types.Endpoint, maxWait time.Duration) types.Outcome {
	key := NewKey("delay")
	ref := ProbeRef(probe, key)

	src, err := o.open(ctx, primary)
	if err != nil {
		return o.openFailed(CheckReplicationDelay, primary, key, err)
	}
	defer src.Close()

	dst, err := o.open(ctx, replica)
	if err != nil {
		return o.openFailed(CheckReplicationDelay, replica, key, err)
	}
	defer dst.Close()

	stmt, args := InsertProbe(probe, key)
	writeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	_, err = src.Exec(writeCtx, stmt, args...)
	cancel()
	if err != nil {
		status := types.StatusFailed
		if endpoint.IsConnectivity(err) {
			status = types.StatusUnreachable
		}
		return o.finish(types.Outcome{
			Check:    CheckReplicationDelay,
			Endpoint: primary.Name,
			Status:   status,
			Expected: key,
			Attempts: 1,
			Cause:    err,
		})
	}
	start := time.Now()

	res := poller.Until(ctx, o.poll(maxWait), lookup(dst, ref), func(s rowState) bool {
		return s.present
	})

	out := fromResult(CheckReplicationDelay, replica, key, res, rowState.observed)
	if res.Status == types.StatusConverged {
		out.Elapsed = res.CapturedAt.Sub(start)
	}
	return o.finish(out)
}

// Write inserts the probe row for key on ep and commits it
func (o *Oracle) Write(ctx context.Context, ep types.Endpoint, probe types.Probe, key string) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stmt, args := InsertProbe(probe, key)
	_, err := o.Exec(ctx, ep, stmt, args...)
	return err
}
