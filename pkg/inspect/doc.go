// Package inspect reads PostgreSQL replication metadata for operators:
// pg_stat_replication and pg_replication_slots on the primary, recovery
// mode, WAL receive/replay positions and replay lag on the replica.
package inspect
