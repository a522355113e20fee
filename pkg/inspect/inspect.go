package inspect

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/rs/zerolog"
)

const (
	queryStatReplication = "SELECT client_addr, application_name, state, sync_state FROM pg_stat_replication"
	querySlots           = "SELECT slot_name, slot_type, active, restart_lsn FROM pg_replication_slots"
	queryInRecovery      = "SELECT pg_is_in_recovery()"
	queryWAL             = "SELECT pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn()"
	queryReplayLag       = "SELECT EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp()))"
)

// Client is one row of pg_stat_replication
type Client struct {
	Addr        string
	Application string
	State       string
	SyncState   string
}

// Slot is one row of pg_replication_slots
type Slot struct {
	Name       string
	Type       string
	Active     bool
	RestartLSN string
}

// PrimaryStatus is what a primary reports about its standbys
type PrimaryStatus struct {
	Endpoint   string
	InRecovery bool
	Clients    []Client
	Slots      []Slot
}

// ReplicaStatus is what a standby reports about its own progress
type ReplicaStatus struct {
	Endpoint   string
	InRecovery bool
	ReceiveLSN string
	ReplayLSN  string
	// ReplayLag is nil when nothing has been replayed yet
	ReplayLag *time.Duration
}

// Inspector reads replication metadata. It is informational: nothing in
// a check depends on what it reports.
type Inspector struct {
	connector endpoint.Connector
	timeout   time.Duration
	logger    zerolog.Logger
}

// New creates an inspector
func New(connector endpoint.Connector, timeout time.Duration) *Inspector {
	return &Inspector{
		connector: connector,
		timeout:   timeout,
		logger:    log.WithComponent("inspect"),
	}
}

func (i *Inspector) session(ctx context.Context, ep types.Endpoint) (endpoint.Session, error) {
	sess, err := i.connector.Open(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep.Name, err)
	}
	return sess, nil
}

// Primary reads connected standbys and replication slots from ep
func (i *Inspector) Primary(ctx context.Context, ep types.Endpoint) (*PrimaryStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	sess, err := i.session(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	status := &PrimaryStatus{Endpoint: ep.Name}

	if status.InRecovery, err = inRecovery(ctx, sess); err != nil {
		return nil, err
	}

	rows, err := sess.Query(ctx, queryStatReplication)
	if err != nil {
		return nil, fmt.Errorf("failed to read pg_stat_replication: %w", err)
	}
	for _, r := range rows.Rows {
		status.Clients = append(status.Clients, Client{
			Addr:        text(r, 0),
			Application: text(r, 1),
			State:       text(r, 2),
			SyncState:   text(r, 3),
		})
	}

	rows, err = sess.Query(ctx, querySlots)
	if err != nil {
		return nil, fmt.Errorf("failed to read pg_replication_slots: %w", err)
	}
	for _, r := range rows.Rows {
		active, _ := r[2].(bool)
		status.Slots = append(status.Slots, Slot{
			Name:       text(r, 0),
			Type:       text(r, 1),
			Active:     active,
			RestartLSN: text(r, 3),
		})
	}

	i.logger.Debug().
		Str("endpoint", ep.Name).
		Int("clients", len(status.Clients)).
		Int("slots", len(status.Slots)).
		Msg("Inspected primary")
	return status, nil
}

// Replica reads recovery mode, WAL positions and replay lag from ep. WAL
// positions are only read while the node is in recovery.
func (i *Inspector) Replica(ctx context.Context, ep types.Endpoint) (*ReplicaStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	sess, err := i.session(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	status := &ReplicaStatus{Endpoint: ep.Name}
	if status.InRecovery, err = inRecovery(ctx, sess); err != nil {
		return nil, err
	}
	if !status.InRecovery {
		i.logger.Warn().Str("endpoint", ep.Name).Msg("Replica is not in recovery")
		return status, nil
	}

	rows, err := sess.Query(ctx, queryWAL)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL positions: %w", err)
	}
	if rows.Len() > 0 {
		status.ReceiveLSN = text(rows.Rows[0], 0)
		status.ReplayLSN = text(rows.Rows[0], 1)
	}

	rows, err = sess.Query(ctx, queryReplayLag)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay lag: %w", err)
	}
	if v, ok := rows.Scalar(); ok && v != nil {
		secs, err := strconv.ParseFloat(endpoint.Text(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected replay lag %v: %w", v, err)
		}
		lag := time.Duration(secs * float64(time.Second))
		status.ReplayLag = &lag
	}

	return status, nil
}

func inRecovery(ctx context.Context, sess endpoint.Session) (bool, error) {
	rows, err := sess.Query(ctx, queryInRecovery)
	if err != nil {
		return false, fmt.Errorf("failed to read recovery mode: %w", err)
	}
	return rows.Bool()
}

// text renders column i of a row, empty for NULL
func text(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return endpoint.Text(row[i])
}
