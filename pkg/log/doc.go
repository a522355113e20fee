/*
Package log provides structured logging for replcheck using zerolog.

The package wraps a single global zerolog.Logger. It is initialized once by
the CLI from configuration and then used by every component through child
loggers carrying a component, endpoint or run id field.

Logs are written to stderr. Standard output is reserved for the reporter's
progress lines so that a drill's transcript can be piped or diffed without log
noise.

# Log Levels

  - Debug: every poll attempt, every statement executed by a session
  - Info: check outcomes, failover transitions, cluster control calls
  - Warn: transient query errors, slow convergence
  - Error: unreachable endpoints, divergence, orchestration failures

# Usage

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

	oracleLog := log.WithComponent("oracle")
	oracleLog.Info().
		Str("check", "row_replicated").
		Dur("elapsed", elapsed).
		Msg("Check converged")

	runLog := log.WithRunID(run.ID)
	runLog.Error().Err(err).Msg("Failover failed")
*/
package log
