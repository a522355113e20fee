/*
Package oracle decides whether replicated state has converged.

Each check opens one session to its target endpoint, polls with the
poller package on the oracle's interval up to a per-call deadline, and
returns a types.Outcome tagged converged, diverged, timed_out, unreachable
or failed. Outcomes are logged and, when a bus is configured, published as
events.CheckFinished.

	o := oracle.New(endpoint.NewDialer(), oracle.WithInterval(250*time.Millisecond))

	ref := oracle.RowRef{Table: "users", KeyColumn: "username", Key: "alice"}
	out := o.AssertRowReplicated(ctx, ref, replica, 5*time.Second)
	if out.Fatal() {
		return out.Err()
	}

AssertCountsEqual reads the source endpoint once and polls only the target,
so the expected counts cannot drift while polling. AssertReadOnly is a
single attempt: standby status does not converge. Write probes always run
in a transaction that is rolled back.
*/
package oracle
