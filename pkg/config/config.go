package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/replcheck/pkg/control"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Control backends
const (
	BackendCommand    = "command"
	BackendContainerd = "containerd"
)

var validate = validator.New()

// Config is the replcheck configuration file
type Config struct {
	Primary  EndpointConfig `yaml:"primary"`
	Replica  EndpointConfig `yaml:"replica"`
	Tables   []string       `yaml:"tables" validate:"required,min=1,dive,required"`
	Probe    ProbeConfig    `yaml:"probe"`
	Poll     PollConfig     `yaml:"poll"`
	Deadline DeadlineConfig `yaml:"deadlines"`
	Scenario ScenarioConfig `yaml:"scenario"`
	Control  ControlConfig  `yaml:"control"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// EndpointConfig describes one database node
type EndpointConfig struct {
	Name           string        `yaml:"name" validate:"required"`
	Node           string        `yaml:"node" validate:"required"`
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Database       string        `yaml:"database" validate:"required"`
	User           string        `yaml:"user" validate:"required"`
	Password       string        `yaml:"password"`
	SSLMode        string        `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Driver         string        `yaml:"driver" validate:"omitempty,oneof=postgres pgx"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"min=0"`
}

// ProbeConfig is the throwaway row used by write probes
type ProbeConfig struct {
	Table     string            `yaml:"table" validate:"required"`
	KeyColumn string            `yaml:"key_column" validate:"required"`
	Columns   map[string]string `yaml:"columns"`
}

// PollConfig controls the convergence poller
type PollConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	// Timeout bounds connection setup and one-shot checks
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// DeadlineConfig bounds every wait
type DeadlineConfig struct {
	Replication time.Duration `yaml:"replication" validate:"gt=0"`
	Bulk        time.Duration `yaml:"bulk" validate:"gt=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gt=0"`
	Sync        time.Duration `yaml:"sync" validate:"gt=0"`
	Down        time.Duration `yaml:"down" validate:"gt=0"`
	Promotion   time.Duration `yaml:"promotion" validate:"gt=0"`
	Row         time.Duration `yaml:"row" validate:"gt=0"`
}

// ScenarioConfig sizes the generated data
type ScenarioConfig struct {
	// ProductTable is used by the insert/update checks, empty skips them
	ProductTable string `yaml:"product_table"`
	BulkRows     int    `yaml:"bulk_rows" validate:"min=0"`
	PostWrites   int    `yaml:"post_writes" validate:"min=0"`
}

// ControlConfig selects and configures the cluster control backend
type ControlConfig struct {
	Backend    string                   `yaml:"backend" validate:"oneof=command containerd"`
	Timeout    time.Duration            `yaml:"timeout" validate:"min=0"`
	Stop       CommandConfig            `yaml:"stop"`
	Promote    CommandConfig            `yaml:"promote"`
	Nodes      map[string]NodeOverrides `yaml:"nodes"`
	Containerd ContainerdConfig         `yaml:"containerd"`
}

// CommandConfig is an argv with optional stdin
type CommandConfig struct {
	Args  []string `yaml:"args"`
	Stdin string   `yaml:"stdin"`
}

// NodeOverrides replaces the default commands for one node
type NodeOverrides struct {
	Stop    *CommandConfig `yaml:"stop"`
	Promote *CommandConfig `yaml:"promote"`
}

// ContainerdConfig configures the containerd backend
type ContainerdConfig struct {
	Socket      string        `yaml:"socket"`
	Namespace   string        `yaml:"namespace"`
	StopTimeout time.Duration `yaml:"stop_timeout" validate:"min=0"`
	PromoteArgs []string      `yaml:"promote_args"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures metric export
type MetricsConfig struct {
	Textfile    string `yaml:"textfile"`
	Pushgateway string `yaml:"pushgateway" validate:"omitempty,url"`
	Job         string `yaml:"job"`
	Addr        string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration of the reference docker-compose pair
func Default() *Config {
	probe := types.DefaultProbe()
	return &Config{
		Primary: EndpointConfig{
			Name:           "primary",
			Node:           "postgres_master",
			Host:           "localhost",
			Port:           15432,
			Database:       "postgres",
			User:           "postgres",
			Password:       "postgres",
			SSLMode:        "disable",
			Driver:         types.DriverPQ,
			ConnectTimeout: 5 * time.Second,
		},
		Replica: EndpointConfig{
			Name:           "replica",
			Node:           "postgres_slave",
			Host:           "localhost",
			Port:           15433,
			Database:       "postgres",
			User:           "postgres",
			Password:       "postgres",
			SSLMode:        "disable",
			Driver:         types.DriverPQ,
			ConnectTimeout: 5 * time.Second,
		},
		Tables: []string{"users", "products", "orders"},
		Probe: ProbeConfig{
			Table:     probe.Table,
			KeyColumn: probe.KeyColumn,
			Columns:   probe.Columns,
		},
		Poll: PollConfig{
			Interval: 250 * time.Millisecond,
			Timeout:  5 * time.Second,
		},
		Deadline: DeadlineConfig{
			Replication: 10 * time.Second,
			Bulk:        30 * time.Second,
			MaxDelay:    10 * time.Second,
			Sync:        10 * time.Second,
			Down:        10 * time.Second,
			Promotion:   30 * time.Second,
			Row:         5 * time.Second,
		},
		Scenario: ScenarioConfig{
			ProductTable: "products",
			BulkRows:     100,
			PostWrites:   5,
		},
		Control: ControlConfig{
			Backend: BackendCommand,
			Timeout: control.DefaultCommandTimeout,
			Stop:    CommandConfig{Args: []string{"docker", "stop", control.NodePlaceholder}},
			Promote: CommandConfig{Args: []string{"./failover.sh"}, Stdin: "n\n"},
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Job: "replcheck",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Environment overrides are applied after the file and the result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		// yaml merges into existing maps, so probe columns start empty
		defaults := cfg.Probe
		cfg.Probe.Columns = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if cfg.Probe.Columns == nil && cfg.Probe.Table == defaults.Table && cfg.Probe.KeyColumn == defaults.KeyColumn {
			cfg.Probe.Columns = defaults.Columns
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Primary.Name == c.Replica.Name {
		return fmt.Errorf("primary and replica must have different names, both are %q", c.Primary.Name)
	}
	if c.Primary.Node == c.Replica.Node {
		return fmt.Errorf("primary and replica must be different nodes, both are %q", c.Primary.Node)
	}
	if c.Control.Backend == BackendCommand && len(c.Control.Promote.Args) == 0 {
		return errors.New("control.promote.args is required for the command backend")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Endpoints builds the primary and replica endpoints
func (c *Config) Endpoints() (types.Endpoint, types.Endpoint) {
	return c.Primary.endpoint(types.RolePrimary), c.Replica.endpoint(types.RoleReplica)
}

func (e EndpointConfig) endpoint(role types.Role) types.Endpoint {
	return types.Endpoint{
		Name: e.Name,
		Role: role,
		Node: e.Node,
		Descriptor: types.Descriptor{
			Host:           e.Host,
			Port:           e.Port,
			Database:       e.Database,
			User:           e.User,
			Password:       e.Password,
			SSLMode:        e.SSLMode,
			Driver:         e.Driver,
			ConnectTimeout: e.ConnectTimeout,
		},
	}
}

// ProbeRow returns the write probe
func (c *Config) ProbeRow() types.Probe {
	return types.Probe{
		Table:     c.Probe.Table,
		KeyColumn: c.Probe.KeyColumn,
		Columns:   c.Probe.Columns,
	}
}

// CommandControl builds the command backend
func (c *Config) CommandControl() *control.CommandControl {
	cc := control.NewCommandControl(c.Control.Promote.command())
	cc.DefaultStop = c.Control.Stop.command()
	if c.Control.Timeout > 0 {
		cc.Timeout = c.Control.Timeout
	}
	for node, o := range c.Control.Nodes {
		var nc control.NodeCommands
		if o.Stop != nil {
			cmd := o.Stop.command()
			nc.Stop = &cmd
		}
		if o.Promote != nil {
			cmd := o.Promote.command()
			nc.Promote = &cmd
		}
		cc.Nodes[node] = nc
	}
	return cc
}

// ContainerdOptions builds the containerd backend options
func (c *Config) ContainerdOptions() control.ContainerdOptions {
	return control.ContainerdOptions{
		SocketPath:  c.Control.Containerd.Socket,
		Namespace:   c.Control.Containerd.Namespace,
		StopTimeout: c.Control.Containerd.StopTimeout,
		PromoteArgs: c.Control.Containerd.PromoteArgs,
	}
}

func (c CommandConfig) command() control.Command {
	return control.Command{Args: c.Args, Stdin: c.Stdin}
}
