/*
Package endpoint opens SQL sessions to the primary and replica and classifies
every driver error into one of two families.

A ConnectivityError means the endpoint could not be reached at all: the
connection was refused, timed out, failed authentication or was dropped. A
QueryError means the endpoint answered and rejected the statement; its Kind
distinguishes a read-only rejection (SQLSTATE 25006) from unique violations,
missing tables, syntax errors and everything else.

Both the lib/pq and pgx drivers are registered. The driver is chosen per
endpoint through types.Descriptor.Driver.

	conn, err := endpoint.Connect(ctx, ep)
	if endpoint.IsConnectivity(err) {
		// endpoint is down
	}
	defer conn.Close()

	err = conn.Probe(ctx, "INSERT INTO users (username) VALUES ($1)", "probe")
	if endpoint.IsReadOnly(err) {
		// replica refused the write
	}
*/
package endpoint
