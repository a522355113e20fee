package endpoint

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConn(t *testing.T) (*Conn, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ep := types.Endpoint{Name: "replica", Role: types.RoleReplica}
	return NewConn(ep, db), mock
}

func TestConnQueryNormalizesBytes(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery("SELECT email FROM users").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow([]byte("a@x.com")))

	set, err := conn.Query(context.Background(), "SELECT email FROM users WHERE username = $1", "alice")
	require.NoError(t, err)

	v, ok := set.Scalar()
	require.True(t, ok)
	assert.Equal(t, "a@x.com", v)
	assert.Equal(t, 0, set.Column("email"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnQueryCount(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	set, err := conn.Query(context.Background(), "SELECT COUNT(*) FROM users")
	require.NoError(t, err)

	n, err := set.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestConnProbeRollsBackOnSuccess(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err := conn.Probe(context.Background(), "INSERT INTO users (username) VALUES ($1)", "probe")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnProbeReadOnlyRejection(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "25006", Message: "cannot execute INSERT in a read-only transaction"})
	mock.ExpectRollback()

	err := conn.Probe(context.Background(), "INSERT INTO users (username) VALUES ($1)", "probe")
	require.Error(t, err)
	assert.True(t, IsReadOnly(err))
	assert.False(t, IsConnectivity(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnExecBatchCommits(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectBegin()
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	mock.ExpectCommit()

	n, err := conn.ExecBatch(context.Background(), "INSERT INTO users (username) VALUES ($1)", [][]any{{"a"}, {"b"}, {"c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnExecBatchRollsBackOnError(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := conn.ExecBatch(context.Background(), "INSERT INTO users (username) VALUES ($1)", [][]any{{"a"}, {"a"}})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnExecResetIsConnectivity(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectExec("UPDATE products").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})

	_, err := conn.Exec(context.Background(), "UPDATE products SET price = $1 WHERE id = $2", 1.0, 1)
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))

	var ce *ConnectivityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "replica", ce.Endpoint)
}
