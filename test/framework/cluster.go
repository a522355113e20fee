package framework

import (
	"context"
	"os"
	"testing"

	"github.com/cuemby/replcheck/pkg/config"
	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/inspect"
	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/types"
)

const (
	// EnvConfig points at the replcheck configuration of a running pair
	EnvConfig = "REPLCHECK_E2E_CONFIG"

	// EnvFailover enables tests that stop and promote nodes
	EnvFailover = "REPLCHECK_E2E_FAILOVER"
)

// TestingT is the subset of testing.TB the helpers need
type TestingT interface {
	Helper()
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Cluster is a running primary/replica pair described by a replcheck
// configuration file
type Cluster struct {
	Config  *config.Config
	Primary types.Endpoint
	Replica types.Endpoint

	Oracle    *oracle.Oracle
	Inspector *inspect.Inspector
	Dialer    *endpoint.Dialer
}

// NewCluster loads the pair named by REPLCHECK_E2E_CONFIG. The test is
// skipped when the variable is unset or in short mode.
func NewCluster(t *testing.T) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping live cluster test in short mode")
	}
	path := os.Getenv(EnvConfig)
	if path == "" {
		t.Skipf("%s not set, no cluster to test against", EnvConfig)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", path, err)
	}

	dialer := endpoint.NewDialer()
	primary, replica := cfg.Endpoints()
	return &Cluster{
		Config:    cfg,
		Primary:   primary,
		Replica:   replica,
		Oracle:    oracle.New(dialer, oracle.WithInterval(cfg.Poll.Interval), oracle.WithTimeout(cfg.Poll.Timeout)),
		Inspector: inspect.New(dialer, cfg.Poll.Timeout),
		Dialer:    dialer,
	}
}

// RequireFailover skips the test unless destructive tests are enabled
func RequireFailover(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvFailover) != "1" {
		t.Skipf("%s not set to 1, skipping test that stops nodes", EnvFailover)
	}
}

// Ready waits until both nodes answer and the replica is streaming
func (c *Cluster) Ready(ctx context.Context, t *testing.T) {
	t.Helper()

	w := DefaultWaiter()
	for _, ep := range []types.Endpoint{c.Primary, c.Replica} {
		if err := w.WaitForReachable(ctx, c.Dialer, ep); err != nil {
			t.Fatalf("Cluster not ready: %v", err)
		}
	}
	if err := w.WaitForStreaming(ctx, c.Inspector, c.Primary); err != nil {
		t.Fatalf("Cluster not ready: %v", err)
	}
}
