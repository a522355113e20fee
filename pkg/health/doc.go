/*
Package health answers "is this database node up?" for the status command.

Two checkers implement Checker:

  - TCPChecker dials the node's address and tells a stopped server
    from an unreachable host
  - SQLChecker logs in and runs SELECT pg_is_in_recovery(), so it also
    reports whether the node is a primary or a standby

Wait repeats a checker at Config.Interval until it succeeds or fails
Config.Retries times in a row, which lets status wait for a cluster that is
still starting.

	checker := health.NewSQLChecker(primary, endpoint.NewDialer())
	result := health.Wait(ctx, checker, health.DefaultConfig())
	if !result.Healthy {
		return fmt.Errorf("primary is down: %s", result.Message)
	}

These checks are for operators. The oracle never uses them: a check
observes liveness itself on every attempt.
*/
package health
