/*
Package failover runs the failover drill against a primary/replica pair.

A drill is a linear state machine:

	idle -> pre_check -> inject_failure -> await_promotion -> post_check -> succeeded
	                  \________________\________________\___________\-> failed

Pre-check confirms the primary takes writes, the replica rejects them and
both hold the same row counts. The primary is then stopped through the
cluster control capability and the drill refuses to promote until the old
primary stops answering. After promotion the promoted node must accept
writes and, before the drill writes anything to it, hold at least the row
counts captured on the primary before the failure. It must then serve a fresh
write back.

Every transition is appended to the run and published on the event bus. A
failed drill is reported, never remediated: the old primary is not restarted.

# Usage

	o := oracle.New(endpoint.NewDialer())
	orch := failover.NewOrchestrator(o, control.NewCommandControl(promote), primary, replica, failover.Config{
		Tables:            []string{"users", "products", "orders"},
		Probe:             types.DefaultProbe(),
		SyncDeadline:      10 * time.Second,
		DownDeadline:      10 * time.Second,
		PromotionDeadline: 30 * time.Second,
		RowDeadline:       5 * time.Second,
		PostWrites:        5,
	}, bus)

	run, err := orch.Run(ctx)
*/
package failover
