package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cuemby/replcheck/pkg/types"
)

const defaultTCPTimeout = 5 * time.Second

// TCPChecker reports whether an endpoint's port accepts connections. A
// refused connection means the server is stopped; anything else means the
// host could not be reached.
type TCPChecker struct {
	ep      types.Endpoint
	timeout time.Duration
}

// NewTCPChecker dials ep's address with its connect timeout, or 5s when
// none is configured
func NewTCPChecker(ep types.Endpoint) *TCPChecker {
	timeout := ep.Descriptor.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultTCPTimeout
	}
	return &TCPChecker{ep: ep, timeout: timeout}
}

// Check dials once and closes the connection immediately
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	addr := t.ep.Descriptor.Address()

	conn, err := (&net.Dialer{Timeout: t.timeout}).DialContext(ctx, "tcp", addr)
	res := Result{CheckedAt: start}
	switch {
	case err == nil:
		_ = conn.Close()
		res.Healthy = true
		res.Message = fmt.Sprintf("%s listening on %s", t.ep.Name, addr)
	case errors.Is(err, syscall.ECONNREFUSED):
		res.Message = fmt.Sprintf("connection refused on %s, server is down", addr)
	default:
		res.Message = fmt.Sprintf("connection failed: %v", err)
	}
	res.Duration = time.Since(start)
	return res
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout overrides the dial timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.timeout = timeout
	return t
}
