package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/types"
)

// SQLChecker logs in to an endpoint and asks whether it is in recovery.
// Unlike TCPChecker it fails on bad credentials or a server still starting.
type SQLChecker struct {
	Endpoint  types.Endpoint
	Connector endpoint.Connector
	Timeout   time.Duration
}

// NewSQLChecker creates a new SQL health checker
func NewSQLChecker(ep types.Endpoint, connector endpoint.Connector) *SQLChecker {
	return &SQLChecker{
		Endpoint:  ep,
		Connector: connector,
		Timeout:   5 * time.Second,
	}
}

// Check performs the SQL health check
func (s *SQLChecker) Check(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	fail := func(format string, args ...any) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	sess, err := s.Connector.Open(ctx, s.Endpoint)
	if err != nil {
		return fail("connection failed: %v", err)
	}
	defer sess.Close()

	rows, err := sess.Query(ctx, "SELECT pg_is_in_recovery()")
	if err != nil {
		return fail("query failed: %v", err)
	}
	inRecovery, err := rows.Bool()
	if err != nil {
		return fail("unexpected reply: %v", err)
	}

	mode := "primary"
	if inRecovery {
		mode = "in recovery"
	}
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepts queries (%s)", s.Endpoint.Name, mode),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (s *SQLChecker) Type() CheckType {
	return CheckTypeSQL
}
