package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/replcheck/pkg/config"
	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/metrics"
	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/report"
	"github.com/spf13/cobra"
)

// cfg is loaded once by the root command before any subcommand runs
var cfg *config.Config

func setup(cmd *cobra.Command, args []string) error {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	loaded, err := config.LoadEnvFiles(envFiles...)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("json-logs")
	}
	if cmd.Flags().Changed("metrics-textfile") {
		cfg.Metrics.Textfile, _ = cmd.Flags().GetString("metrics-textfile")
	}
	if cmd.Flags().Changed("pushgateway") {
		cfg.Metrics.Pushgateway, _ = cmd.Flags().GetString("pushgateway")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     cmd.ErrOrStderr(),
	})
	log.Logger.Debug().Strs("env_files", loaded).Str("config", path).Msg("Configuration loaded")
	return nil
}

// app wires the components shared by every command
type app struct {
	bus      *events.Bus
	oracle   *oracle.Oracle
	reporter *report.Reporter
	recorder *metrics.Recorder
	server   *http.Server
}

func newApp(cmd *cobra.Command) *app {
	bus := events.NewBus()
	a := &app{
		bus: bus,
		oracle: oracle.New(endpoint.NewDialer(),
			oracle.WithInterval(cfg.Poll.Interval),
			oracle.WithTimeout(cfg.Poll.Timeout),
			oracle.WithEvents(bus),
		),
		reporter: report.New(cmd.OutOrStdout()),
		recorder: metrics.NewRecorder(bus),
	}
	a.reporter.Subscribe(bus)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		a.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server failed")
			}
		}()
	}
	return a
}

// close exports metrics and stops the metrics server. Export failures are
// logged, they never change the verdict.
func (a *app) close(ctx context.Context) {
	a.recorder.Stop()

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to export metrics")
		}
	}
	if cfg.Metrics.Pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to push metrics")
		}
		cancel()
	}
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = a.server.Shutdown(shutdownCtx)
		cancel()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func verdict(passed bool) error {
	if !passed {
		return errChecksFailed
	}
	return nil
}

func describeEndpoints() string {
	primary, replica := cfg.Endpoints()
	return fmt.Sprintf("primary %s, replica %s", primary, replica)
}
