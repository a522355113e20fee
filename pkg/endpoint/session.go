package endpoint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Session is one open connection to an endpoint. A session is owned by a
// single check and closed on every exit path of that check.
type Session interface {
	// Exec runs a statement in autocommit mode and returns rows affected
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)

	// ExecBatch runs stmt once per argument row inside one transaction and
	// commits it
	ExecBatch(ctx context.Context, stmt string, rows [][]any) (int64, error)

	// Query runs a statement and buffers its rows
	Query(ctx context.Context, stmt string, args ...any) (*RowSet, error)

	// Probe runs a statement inside a transaction that is always rolled
	// back, so a write probe never leaves data behind
	Probe(ctx context.Context, stmt string, args ...any) error

	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	Close() error
}

// Connector opens sessions to endpoints
type Connector interface {
	Open(ctx context.Context, ep types.Endpoint) (Session, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, ep types.Endpoint) (Session, error)

// Open calls f
func (f ConnectorFunc) Open(ctx context.Context, ep types.Endpoint) (Session, error) {
	return f(ctx, ep)
}

// Dialer is the Connector backed by database/sql drivers
type Dialer struct{}

// NewDialer creates a Dialer
func NewDialer() *Dialer {
	return &Dialer{}
}

// Open connects to the endpoint
func (d *Dialer) Open(ctx context.Context, ep types.Endpoint) (Session, error) {
	return Connect(ctx, ep)
}

// Conn is a Session over a single-connection *sql.DB
type Conn struct {
	endpoint types.Endpoint
	db       *sql.DB
	logger   zerolog.Logger
}

// Connect opens and pings a connection to the endpoint. Errors are classified.
func Connect(ctx context.Context, ep types.Endpoint) (*Conn, error) {
	driverName := ep.Descriptor.Driver
	if driverName == "" {
		driverName = types.DriverPQ
	}

	db, err := sql.Open(driverName, ep.Descriptor.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s with driver %s: %w", ep.Name, driverName, err)
	}

	// One connection per session keeps transactions and probes on the same
	// backend
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		// A connect that runs out of time is a timeout, not a rejected query
		if ctx.Err() != nil {
			return nil, &ConnectivityError{Endpoint: ep.Name, Err: err}
		}
		return nil, Classify(ep.Name, err)
	}

	return NewConn(ep, db), nil
}

// NewConn wraps an existing *sql.DB
func NewConn(ep types.Endpoint, db *sql.DB) *Conn {
	return &Conn{
		endpoint: ep,
		db:       db,
		logger:   log.WithEndpoint(ep.Name),
	}
}

// Endpoint returns the endpoint this connection belongs to
func (c *Conn) Endpoint() types.Endpoint {
	return c.endpoint
}

func (c *Conn) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	c.logger.Debug().Str("stmt", stmt).Int("args", len(args)).Msg("exec")

	res, err := c.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, Classify(c.endpoint.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *Conn) ExecBatch(ctx context.Context, stmt string, rows [][]any) (int64, error) {
	c.logger.Debug().Str("stmt", stmt).Int("rows", len(rows)).Msg("exec batch")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, Classify(c.endpoint.Name, err)
	}

	var total int64
	for _, args := range rows {
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, Classify(c.endpoint.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, Classify(c.endpoint.Name, err)
	}
	return total, nil
}

func (c *Conn) Query(ctx context.Context, stmt string, args ...any) (*RowSet, error) {
	c.logger.Debug().Str("stmt", stmt).Int("args", len(args)).Msg("query")

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, Classify(c.endpoint.Name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, Classify(c.endpoint.Name, err)
	}

	set := &RowSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Classify(c.endpoint.Name, err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		set.Rows = append(set.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(c.endpoint.Name, err)
	}

	return set, nil
}

func (c *Conn) Probe(ctx context.Context, stmt string, args ...any) error {
	c.logger.Debug().Str("stmt", stmt).Msg("probe")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(c.endpoint.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return Classify(c.endpoint.Name, err)
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return Classify(c.endpoint.Name, c.db.PingContext(ctx))
}

func (c *Conn) Close() error {
	return c.db.Close()
}
