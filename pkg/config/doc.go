/*
Package config loads the replcheck configuration.

Precedence, lowest first: built-in defaults matching the reference
docker-compose pair, the YAML file, .env files loaded into the environment,
and REPLCHECK_* environment variables. The result is validated before use.

Example configuration:

	primary:
	  node: postgres_master
	  host: localhost
	  port: 15432
	replica:
	  node: postgres_slave
	  host: localhost
	  port: 15433
	tables: [users, products, orders]
	deadlines:
	  promotion: 30s
	control:
	  backend: command
	  promote:
	    args: [./failover.sh]
	    stdin: "n\n"
*/
package config
