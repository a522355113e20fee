package endpoint

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// QueryErrorKind classifies a rejected statement
type QueryErrorKind string

const (
	QueryReadOnly        QueryErrorKind = "read_only"
	QueryUniqueViolation QueryErrorKind = "unique_violation"
	QueryUndefinedTable  QueryErrorKind = "undefined_table"
	QuerySyntax          QueryErrorKind = "syntax"
	QueryOther           QueryErrorKind = "other"
)

// SQLSTATE codes the harness distinguishes
const (
	codeReadOnlyTransaction = "25006"
	codeUniqueViolation     = "23505"
	codeUndefinedTable      = "42P01"
	codeUndefinedColumn     = "42703"
	codeSyntaxError         = "42601"
	codeAdminShutdown       = "57P01"
	codeCrashShutdown       = "57P02"
	codeCannotConnectNow    = "57P03"
)

// ConnectivityError means the endpoint could not be reached: refused, timed
// out, authentication failure or a dropped connection. It is fatal to the
// current check.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("endpoint %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// QueryError means the endpoint answered but rejected the statement
type QueryError struct {
	Endpoint string
	Kind     QueryErrorKind
	Code     string // SQLSTATE, empty when the driver did not report one
	Err      error
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query on %s rejected (%s, SQLSTATE %s): %v", e.Endpoint, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("query on %s rejected (%s): %v", e.Endpoint, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying the statement cannot succeed. A unique
// violation or a syntax error indicates a bug in the check itself.
func (e *QueryError) Permanent() bool {
	return e.Kind == QueryUniqueViolation || e.Kind == QuerySyntax
}

// Classify converts a driver error into a *ConnectivityError or *QueryError.
// Context errors are returned unchanged so callers can tell deadline expiry
// apart from endpoint failures.
func Classify(endpoint string, err error) error {
	if err == nil {
		return nil
	}

	var ce *ConnectivityError
	var qe *QueryError
	if errors.As(err, &ce) || errors.As(err, &qe) {
		return err
	}

	// context.DeadlineExceeded satisfies net.Error, check it first
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	if code := sqlState(err); code != "" {
		if connectivityCode(code) {
			return &ConnectivityError{Endpoint: endpoint, Err: err}
		}
		return &QueryError{Endpoint: endpoint, Kind: kindForCode(code), Code: code, Err: err}
	}

	if isConnectivity(err) {
		return &ConnectivityError{Endpoint: endpoint, Err: err}
	}

	return &QueryError{Endpoint: endpoint, Kind: QueryOther, Err: err}
}

// IsConnectivity reports whether err is a connectivity failure
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsReadOnly reports whether err is a read-only transaction rejection
func IsReadOnly(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == QueryReadOnly
}

// IsPermanent reports whether err is a query error that must not be retried
func IsPermanent(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Permanent()
}

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func connectivityCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection_exception
		return true
	case strings.HasPrefix(code, "28"): // invalid_authorization_specification
		return true
	case code == codeAdminShutdown, code == codeCrashShutdown, code == codeCannotConnectNow:
		return true
	}
	return false
}

func kindForCode(code string) QueryErrorKind {
	switch code {
	case codeReadOnlyTransaction:
		return QueryReadOnly
	case codeUniqueViolation:
		return QueryUniqueViolation
	case codeUndefinedTable:
		return QueryUndefinedTable
	case codeSyntaxError, codeUndefinedColumn:
		return QuerySyntax
	}
	return QueryOther
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
