/*
Package types defines the data model shared by every replcheck package.

It has no dependencies on the rest of the module so that the endpoint client,
the poller, the oracle and the failover orchestrator can all exchange values
without import cycles.

# Core Types

Topology:
  - Endpoint: a named database node with a Role and a connection Descriptor
  - Descriptor: host, port, credentials and driver; rendered with DSN()
  - Role: primary or replica

Observations:
  - Observation: one point-in-time read (value + capture time)
  - Snapshot: per-table row counts read from one endpoint
  - Outcome: tagged result of a check (converged, diverged, timed_out,
    unreachable, failed) with elapsed time and attempt count

Failover:
  - FailoverState: Idle → PreCheck → InjectFailure → AwaitPromotion →
    PostCheck → Succeeded | Failed
  - FailoverRun: snapshots, transitions and outcomes of one drill

# Errors

DivergenceError and TimeoutError are produced by Outcome.Err(). Connectivity
and query errors live in package endpoint; orchestration errors in package
failover.
*/
package types
