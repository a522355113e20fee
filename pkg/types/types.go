package types

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Role is the replication role of an endpoint
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// Liveness is the observed reachability of an endpoint
type Liveness string

const (
	LivenessReachable   Liveness = "reachable"
	LivenessUnreachable Liveness = "unreachable"
)

// Driver names accepted in a Descriptor
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// Descriptor holds the connection parameters of a database endpoint
type Descriptor struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	Driver         string        // "postgres" (lib/pq) or "pgx"
	ConnectTimeout time.Duration // 0 means driver default
}

// DSN renders the descriptor as a keyword/value connection string understood
// by both lib/pq and pgx.
func (d Descriptor) DSN() string {
	parts := []string{
		"host=" + quoteDSN(d.Host),
		fmt.Sprintf("port=%d", d.Port),
	}
	if d.Database != "" {
		parts = append(parts, "dbname="+quoteDSN(d.Database))
	}
	if d.User != "" {
		parts = append(parts, "user="+quoteDSN(d.User))
	}
	if d.Password != "" {
		parts = append(parts, "password="+quoteDSN(d.Password))
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, "sslmode="+sslMode)
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

// Address returns host:port
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Endpoint is one database node of the topology. Endpoints are created from
// configuration at startup and never mutated afterwards.
type Endpoint struct {
	Name       string
	Role       Role
	Node       string // identity understood by cluster control (container name, unit, ...)
	Descriptor Descriptor
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s, %s)", e.Name, e.Role, e.Descriptor.Address())
}

// Observation is a single point-in-time read from an endpoint
type Observation struct {
	Endpoint   string
	Value      any
	CapturedAt time.Time
}

// Status tags the outcome of a check. Exactly one is set per outcome.
type Status string

const (
	StatusConverged   Status = "converged"
	StatusDiverged    Status = "diverged"
	StatusTimedOut    Status = "timed_out"
	StatusUnreachable Status = "unreachable"
	// StatusFailed marks a permanent query error: the check itself is wrong
	StatusFailed Status = "failed"
)

// Outcome is the tagged result of a named consistency check
type Outcome struct {
	Check    string
	Endpoint string
	Status   Status
	Expected any
	// Observation is the last successful read, nil if every attempt errored
	Observation *Observation
	Elapsed     time.Duration
	Attempts    int
	Cause       error
}

// OK reports whether the check passed
func (o Outcome) OK() bool {
	return o.Status == StatusConverged
}

// Observed returns the observed value or nil
func (o Outcome) Observed() any {
	if o.Observation == nil {
		return nil
	}
	return o.Observation.Value
}

// Err converts a failing outcome into a typed error. It returns nil for a
// converged outcome.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusConverged:
		return nil
	case StatusDiverged:
		return &DivergenceError{Check: o.Check, Endpoint: o.Endpoint, Expected: o.Expected, Observed: o.Observed()}
	case StatusTimedOut:
		return &TimeoutError{Check: o.Check, Endpoint: o.Endpoint, Expected: o.Expected, Observed: o.Observation, Elapsed: o.Elapsed, Err: o.Cause}
	default:
		if o.Cause != nil {
			return fmt.Errorf("%s on %s: %w", o.Check, o.Endpoint, o.Cause)
		}
		return fmt.Errorf("%s on %s: %s", o.Check, o.Endpoint, o.Status)
	}
}

// Fatal reports whether the outcome must abort the enclosing run
func (o Outcome) Fatal() bool {
	return o.Status == StatusUnreachable || o.Status == StatusDiverged || o.Status == StatusFailed
}

// Snapshot holds row counts per table captured from one endpoint without
// interleaving harness writes.
type Snapshot struct {
	Endpoint   string
	Counts     map[string]int64
	CapturedAt time.Time
}

// Tables returns the snapshot's table names sorted
func (s Snapshot) Tables() []string {
	tables := make([]string, 0, len(s.Counts))
	for t := range s.Counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func (s Snapshot) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, t := range s.Tables() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %d", t, s.Counts[t])
	}
	b.WriteString("}")
	return b.String()
}

// Equal reports whether both snapshots hold identical counts for the same tables
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Counts) != len(other.Counts) {
		return false
	}
	for t, n := range s.Counts {
		m, ok := other.Counts[t]
		if !ok || m != n {
			return false
		}
	}
	return true
}

// Shortfall returns the tables whose count in s is below base. An empty
// result means s is monotonically non-lossy with respect to base.
func (s Snapshot) Shortfall(base Snapshot) []string {
	var short []string
	for _, t := range base.Tables() {
		if s.Counts[t] < base.Counts[t] {
			short = append(short, t)
		}
	}
	return short
}
