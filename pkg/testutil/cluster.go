package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/lib/pq"
)

// Row is one table row keyed by column name
type Row map[string]any

// Node is one simulated database server
type Node struct {
	Endpoint types.Endpoint

	tables    map[string][]Row
	readOnly  bool
	down      bool
	upstream  *Node
	lag       time.Duration
	pending   []pendingWrite
	promoteAt time.Time
}

type pendingWrite struct {
	applyAt time.Time
	apply   func(*Node)
}

// Cluster simulates an asynchronously replicated primary/replica pair. It
// implements endpoint.Connector and the cluster control capability, and it
// understands the statements the harness issues.
type Cluster struct {
	mu    sync.Mutex
	nodes map[string]*Node

	// PromoteDelay is how long a promotion takes to complete
	PromoteDelay time.Duration

	// Fault injection for cluster control
	StopErr    error
	PromoteErr error
	IgnoreStop bool

	// PromoteDrops is the number of trailing rows of every table a node
	// loses when its promotion completes
	PromoteDrops int

	// Calls records control invocations as "stop:<node>" or "promote:<node>"
	Calls []string

	sessions int
	opened   int
}

// NewCluster creates a cluster with the given tables on both nodes. Writes
// on the primary become visible on the replica after lag.
func NewCluster(primary, replica types.Endpoint, lag time.Duration, tables ...string) *Cluster {
	p := &Node{Endpoint: primary, tables: make(map[string][]Row)}
	r := &Node{Endpoint: replica, tables: make(map[string][]Row), readOnly: true, upstream: p, lag: lag}
	for _, t := range tables {
		p.tables[t] = nil
		r.tables[t] = nil
	}

	return &Cluster{
		nodes: map[string]*Node{primary.Name: p, replica.Name: r},
	}
}

// Endpoints returns two endpoints named primary and replica suitable for
// NewCluster
func Endpoints() (types.Endpoint, types.Endpoint) {
	primary := types.Endpoint{
		Name: "primary",
		Role: types.RolePrimary,
		Node: "pg-primary",
		Descriptor: types.Descriptor{
			Host: "127.0.0.1", Port: 15432, Database: "postgres", User: "postgres",
		},
	}
	replica := types.Endpoint{
		Name: "replica",
		Role: types.RoleReplica,
		Node: "pg-replica",
		Descriptor: types.Descriptor{
			Host: "127.0.0.1", Port: 15433, Database: "postgres", User: "postgres",
		},
	}
	return primary, replica
}

// Node returns the simulated node behind an endpoint name
func (c *Cluster) Node(name string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[name]
}

// SetLag changes the replication delay of a replica
func (c *Cluster) SetLag(name string, lag time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[name].lag = lag
}

// SetReadOnly forces a node in or out of read-only mode
func (c *Cluster) SetReadOnly(name string, readOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[name].readOnly = readOnly
}

// SetDown marks a node as stopped or running
func (c *Cluster) SetDown(name string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[name].down = down
}

// Put writes a row directly on one node, bypassing replication
func (c *Cluster) Put(name, table string, row Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodes[name]
	n.tables[table] = append(n.tables[table], copyRow(row))
}

// Count returns the number of rows of table on a node, applying due
// replication first
func (c *Cluster) Count(name, table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodes[name]
	c.settle(n)
	return len(n.tables[table])
}

// OpenSessions returns the number of sessions not yet closed
func (c *Cluster) OpenSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions
}

// SessionsOpened returns the number of sessions ever opened
func (c *Cluster) SessionsOpened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// Open implements endpoint.Connector
func (c *Cluster) Open(ctx context.Context, ep types.Endpoint) (endpoint.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[ep.Name]
	if !ok {
		return nil, &endpoint.ConnectivityError{Endpoint: ep.Name, Err: errors.New("no such host")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &endpoint.ConnectivityError{Endpoint: ep.Name, Err: err}
	}
	if n.down {
		return nil, endpoint.Classify(ep.Name, fmt.Errorf("dial tcp %s: %w", ep.Descriptor.Address(), io.EOF))
	}

	c.sessions++
	c.opened++
	return &session{cluster: c, node: n}, nil
}

// Stop implements cluster control
func (c *Cluster) Stop(ctx context.Context, node string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, "stop:"+node)
	if c.StopErr != nil {
		return c.StopErr
	}
	n, err := c.byNode(node)
	if err != nil {
		return err
	}
	if !c.IgnoreStop {
		n.down = true
	}
	return nil
}

// Promote implements cluster control. The node accepts writes once
// PromoteDelay has passed.
func (c *Cluster) Promote(ctx context.Context, node string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, "promote:"+node)
	if c.PromoteErr != nil {
		return c.PromoteErr
	}
	n, err := c.byNode(node)
	if err != nil {
		return err
	}
	if n.down {
		return fmt.Errorf("node %s is not running", node)
	}
	n.promoteAt = time.Now().Add(c.PromoteDelay)
	c.settle(n)
	return nil
}

func (c *Cluster) byNode(node string) (*Node, error) {
	for _, n := range c.nodes {
		if n.Endpoint.Node == node {
			return n, nil
		}
	}
	return nil, fmt.Errorf("unknown node %s", node)
}

// settle applies replicated writes that are due and completes a pending
// promotion. Callers hold c.mu.
func (c *Cluster) settle(n *Node) {
	now := time.Now()

	if !n.promoteAt.IsZero() && !now.Before(n.promoteAt) {
		// Promotion replays everything already received
		for _, w := range n.pending {
			w.apply(n)
		}
		n.pending = nil
		for t, rows := range n.tables {
			n.tables[t] = rows[:max(0, len(rows)-c.PromoteDrops)]
		}
		n.readOnly = false
		n.upstream = nil
		n.promoteAt = time.Time{}
		return
	}

	i := 0
	for ; i < len(n.pending) && !now.Before(n.pending[i].applyAt); i++ {
		n.pending[i].apply(n)
	}
	n.pending = n.pending[i:]
}

// commit applies a write on n and ships it to every replica of n
func (c *Cluster) commit(n *Node, apply func(*Node)) {
	apply(n)
	now := time.Now()
	for _, r := range c.nodes {
		if r.upstream == n {
			r.pending = append(r.pending, pendingWrite{applyAt: now.Add(r.lag), apply: apply})
		}
	}
}

var (
	identPattern     = `"?([A-Za-z_][A-Za-z0-9_]*)"?`
	reSelectRow      = regexp.MustCompile(`^SELECT ` + identPattern + ` FROM ` + identPattern + ` WHERE ` + identPattern + ` = \$1(?: LIMIT 1)?$`)
	reCount          = regexp.MustCompile(`^SELECT COUNT\(\*\) FROM ` + identPattern + `$`)
	reCountLike      = regexp.MustCompile(`^SELECT COUNT\(\*\) FROM ` + identPattern + ` WHERE ` + identPattern + ` LIKE \$1$`)
	reInsert         = regexp.MustCompile(`^INSERT INTO ` + identPattern + ` \(([^)]*)\) VALUES \(([^)]*)\)$`)
	reUpdate         = regexp.MustCompile(`^UPDATE ` + identPattern + ` SET ` + identPattern + ` = \$1 WHERE ` + identPattern + ` = \$2$`)
	reInRecovery     = regexp.MustCompile(`^SELECT pg_is_in_recovery\(\)$`)
	reQuotedIdent    = regexp.MustCompile(`^"?([A-Za-z_][A-Za-z0-9_]*)"?$`)
	rePlaceholderArg = regexp.MustCompile(`^\$(\d+)$`)
)

type session struct {
	cluster *Cluster
	node    *Node
	closed  bool
}

func (s *session) check() error {
	if s.closed {
		return &endpoint.ConnectivityError{Endpoint: s.node.Endpoint.Name, Err: errors.New("session closed")}
	}
	if s.node.down {
		return endpoint.Classify(s.node.Endpoint.Name, io.ErrUnexpectedEOF)
	}
	s.cluster.settle(s.node)
	return nil
}

func (s *session) queryErr(code string, format string, args ...any) error {
	return endpoint.Classify(s.node.Endpoint.Name, &pq.Error{Code: pq.ErrorCode(code), Message: fmt.Sprintf(format, args...)})
}

func (s *session) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}
	apply, n, err := s.write(stmt, args)
	if err != nil {
		return 0, err
	}
	s.cluster.commit(s.node, apply)
	return n, nil
}

func (s *session) ExecBatch(ctx context.Context, stmt string, rows [][]any) (int64, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}

	var applies []func(*Node)
	var total int64
	for _, args := range rows {
		apply, n, err := s.write(stmt, args)
		if err != nil {
			return 0, err
		}
		applies = append(applies, apply)
		total += n
	}

	s.cluster.commit(s.node, func(n *Node) {
		for _, apply := range applies {
			apply(n)
		}
	})
	return total, nil
}

func (s *session) Probe(ctx context.Context, stmt string, args ...any) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	_, _, err := s.write(stmt, args)
	return err
}

func (s *session) Ping(ctx context.Context) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	return s.check()
}

func (s *session) Close() error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.cluster.sessions--
	}
	return nil
}

// write validates a write statement and returns the function applying it
func (s *session) write(stmt string, args []any) (func(*Node), int64, error) {
	stmt = strings.TrimSpace(stmt)

	if m := reInsert.FindStringSubmatch(stmt); m != nil {
		table := m[1]
		if err := s.writable(table); err != nil {
			return nil, 0, err
		}
		columns := splitList(m[2])
		values := splitList(m[3])
		if len(columns) != len(values) {
			return nil, 0, s.queryErr("42601", "INSERT has %d columns and %d values", len(columns), len(values))
		}

		row := Row{}
		for i, col := range columns {
			name := reQuotedIdent.FindStringSubmatch(col)
			if name == nil {
				return nil, 0, s.queryErr("42601", "bad column %q", col)
			}
			v, err := s.arg(values[i], args)
			if err != nil {
				return nil, 0, err
			}
			row[name[1]] = v
		}
		return func(n *Node) { n.tables[table] = append(n.tables[table], copyRow(row)) }, 1, nil
	}

	if m := reUpdate.FindStringSubmatch(stmt); m != nil {
		table, column, keyColumn := m[1], m[2], m[3]
		if err := s.writable(table); err != nil {
			return nil, 0, err
		}
		if len(args) != 2 {
			return nil, 0, s.queryErr("08P01", "expected 2 arguments, got %d", len(args))
		}
		value, key := args[0], args[1]

		var affected int64
		for _, row := range s.node.tables[table] {
			if same(row[keyColumn], key) {
				affected++
			}
		}
		return func(n *Node) {
			for _, row := range n.tables[table] {
				if same(row[keyColumn], key) {
					row[column] = value
				}
			}
		}, affected, nil
	}

	return nil, 0, s.queryErr("42601", "unsupported statement %q", stmt)
}

func (s *session) writable(table string) error {
	if s.node.readOnly {
		return s.queryErr("25006", "cannot execute INSERT in a read-only transaction")
	}
	if _, ok := s.node.tables[table]; !ok {
		return s.queryErr("42P01", "relation %q does not exist", table)
	}
	return nil
}

func (s *session) arg(token string, args []any) (any, error) {
	m := rePlaceholderArg.FindStringSubmatch(token)
	if m == nil {
		return nil, s.queryErr("42601", "only placeholders are supported, got %q", token)
	}
	var i int
	_, _ = fmt.Sscanf(m[1], "%d", &i)
	if i < 1 || i > len(args) {
		return nil, s.queryErr("08P01", "missing argument $%d", i)
	}
	return args[i-1], nil
}

func (s *session) Query(ctx context.Context, stmt string, args ...any) (*endpoint.RowSet, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmt = strings.TrimSpace(stmt)

	if reInRecovery.MatchString(stmt) {
		return &endpoint.RowSet{Columns: []string{"pg_is_in_recovery"}, Rows: [][]any{{s.node.readOnly}}}, nil
	}

	if m := reCount.FindStringSubmatch(stmt); m != nil {
		rows, err := s.rows(m[1])
		if err != nil {
			return nil, err
		}
		return &endpoint.RowSet{Columns: []string{"count"}, Rows: [][]any{{int64(len(rows))}}}, nil
	}

	if m := reCountLike.FindStringSubmatch(stmt); m != nil {
		rows, err := s.rows(m[1])
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, s.queryErr("08P01", "expected 1 argument, got %d", len(args))
		}
		like := likePattern(endpoint.Text(args[0]))
		var n int64
		for _, row := range rows {
			if v, ok := row[m[2]]; ok && like.MatchString(endpoint.Text(v)) {
				n++
			}
		}
		return &endpoint.RowSet{Columns: []string{"count"}, Rows: [][]any{{n}}}, nil
	}

	if m := reSelectRow.FindStringSubmatch(stmt); m != nil {
		column, table, keyColumn := m[1], m[2], m[3]
		rows, err := s.rows(table)
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, s.queryErr("08P01", "expected 1 argument, got %d", len(args))
		}
		set := &endpoint.RowSet{Columns: []string{column}}
		for _, row := range rows {
			if same(row[keyColumn], args[0]) {
				set.Rows = append(set.Rows, []any{row[column]})
				break
			}
		}
		return set, nil
	}

	return nil, s.queryErr("42601", "unsupported query %q", stmt)
}

func (s *session) rows(table string) ([]Row, error) {
	rows, ok := s.node.tables[table]
	if !ok {
		return nil, s.queryErr("42P01", "relation %q does not exist", table)
	}
	return rows, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func copyRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func same(a, b any) bool {
	return endpoint.Text(a) == endpoint.Text(b)
}

// likePattern converts a LIKE pattern with backslash escapes into a regexp
func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, r := range p {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
