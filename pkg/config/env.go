package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the configuration file
const (
	EnvPrimaryHost     = "REPLCHECK_PRIMARY_HOST"
	EnvPrimaryPort     = "REPLCHECK_PRIMARY_PORT"
	EnvPrimaryPassword = "REPLCHECK_PRIMARY_PASSWORD"
	EnvReplicaHost     = "REPLCHECK_REPLICA_HOST"
	EnvReplicaPort     = "REPLCHECK_REPLICA_PORT"
	EnvReplicaPassword = "REPLCHECK_REPLICA_PASSWORD"
	EnvLogLevel        = "REPLCHECK_LOG_LEVEL"
)

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped. Variables already set in the environment win.
func LoadEnvFiles(files ...string) ([]string, error) {
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// ApplyEnv applies REPLCHECK_* overrides
func (c *Config) ApplyEnv() error {
	if err := applyEndpointEnv(&c.Primary, EnvPrimaryHost, EnvPrimaryPort, EnvPrimaryPassword); err != nil {
		return err
	}
	if err := applyEndpointEnv(&c.Replica, EnvReplicaHost, EnvReplicaPort, EnvReplicaPassword); err != nil {
		return err
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

func applyEndpointEnv(e *EndpointConfig, hostKey, portKey, passwordKey string) error {
	if v := os.Getenv(hostKey); v != "" {
		e.Host = v
	}
	if v := os.Getenv(portKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", portKey, v, err)
		}
		e.Port = port
	}
	if v, ok := os.LookupEnv(passwordKey); ok {
		e.Password = v
	}
	return nil
}
