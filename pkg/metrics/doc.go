/*
Package metrics exposes replcheck results as Prometheus metrics.

Metrics are package variables registered with the default registry at init.
A Recorder subscribes to the event bus and updates them as checks finish,
drills change state and cluster control is invoked, so the checking code
never touches Prometheus directly.

# Metrics

	replcheck_check_outcomes_total{check,status}        counter
	replcheck_check_duration_seconds{check}             histogram
	replcheck_check_attempts{check}                     histogram
	replcheck_replication_delay_seconds{endpoint}       gauge
	replcheck_replication_delay_observed_seconds        histogram
	replcheck_failover_runs_total{state}                counter
	replcheck_failover_duration_seconds                 histogram
	replcheck_failover_transitions_total{from,to}       counter
	replcheck_control_invocations_total{action,result}  counter

# Export

replcheck runs to completion, so there is usually no process left to
scrape. Three exports are supported:

  - WriteTextfile for the node_exporter textfile collector
  - Push to a Prometheus Pushgateway
  - Handler, served on --metrics-addr while a command runs

Example:

	rec := metrics.NewRecorder(bus)
	defer rec.Stop()

	// ... run checks ...

	if err := metrics.WriteTextfile("/var/lib/node_exporter/replcheck.prom"); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to export metrics")
	}
*/
package metrics
