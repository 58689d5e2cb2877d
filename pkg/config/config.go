package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	Node    NodeConfig      `yaml:"node" json:"node"`
	API     APIConfig       `yaml:"api" json:"api"`
	State   StateConfig     `yaml:"state" json:"state"`
	Network NetworkDefaults `yaml:"network" json:"network"`
	Logging LoggingConfig   `yaml:"logging" json:"logging"`
}

// NodeConfig holds settings for the node engine itself.
type NodeConfig struct {
	// PrimaryPort is the main UDP port used for overlay traffic.
	PrimaryPort int `yaml:"primaryPort" json:"primaryPort"`

	// InterfacePrefixBlacklist lists physical interface name prefixes that
	// are never used for overlay traffic (e.g. "lo", "utun").
	InterfacePrefixBlacklist []string `yaml:"interfacePrefixBlacklist" json:"interfacePrefixBlacklist"`

	// BackgroundInterval caps the delay between background task runs when
	// the engine does not request an earlier deadline.
	BackgroundInterval time.Duration `yaml:"backgroundInterval" json:"backgroundInterval"`
}

// APIConfig holds settings for the local control API.
type APIConfig struct {
	// BindAddress is the TCP bind for the local JSON API. Loopback only by
	// convention; this API carries no authentication of its own.
	BindAddress string        `yaml:"bindAddress" json:"bindAddress"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// StateConfig selects and locates the durable state store.
type StateConfig struct {
	// Backend is "sqlite" or "file".
	Backend string `yaml:"backend" json:"backend"`

	// Dir is the directory holding the node's durable state (identity,
	// join intent, cached network configs).
	Dir string `yaml:"dir" json:"dir"`
}

// NetworkDefaults are the local policy gates applied to a network when it is
// first joined, before the operator has set anything explicitly.
type NetworkDefaults struct {
	AllowManagedIPs           bool `yaml:"allowManagedIPs" json:"allowManagedIPs"`
	AllowGlobalIPs            bool `yaml:"allowGlobalIPs" json:"allowGlobalIPs"`
	AllowManagedRoutes        bool `yaml:"allowManagedRoutes" json:"allowManagedRoutes"`
	AllowGlobalRoutes         bool `yaml:"allowGlobalRoutes" json:"allowGlobalRoutes"`
	AllowDefaultRouteOverride bool `yaml:"allowDefaultRouteOverride" json:"allowDefaultRouteOverride"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Output string `yaml:"output" json:"output"`
}

// DefaultConfig holds the defaults applied before any file or environment
// override.
var DefaultConfig = Config{
	Node: NodeConfig{
		PrimaryPort:              9993,
		InterfacePrefixBlacklist: []string{"lo"},
		BackgroundInterval:       250 * time.Millisecond,
	},
	API: APIConfig{
		BindAddress: "127.0.0.1:9993",
		Timeout:     10 * time.Second,
	},
	State: StateConfig{
		Backend: "sqlite",
		Dir:     "/var/lib/meshnode",
	},
	Network: NetworkDefaults{
		AllowManagedIPs:           true,
		AllowGlobalIPs:            false,
		AllowManagedRoutes:        true,
		AllowGlobalRoutes:         false,
		AllowDefaultRouteOverride: false,
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Output: "stdout",
	},
}

// Load reads the config file at path (if it exists), layers it over the
// defaults, applies environment overrides and validates the result. A
// missing file is not an error; the defaults simply apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config back out, used to seed a default file on first run.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Node.PrimaryPort < 1 || c.Node.PrimaryPort > 65535 {
		return fmt.Errorf("invalid primary port: %d", c.Node.PrimaryPort)
	}
	if c.State.Backend != "sqlite" && c.State.Backend != "file" {
		return fmt.Errorf("unknown state backend: %q", c.State.Backend)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state dir must not be empty")
	}
	if c.API.BindAddress == "" {
		return fmt.Errorf("api bind address must not be empty")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHNODE_PRIMARY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Node.PrimaryPort = port
		}
	}
	if v := os.Getenv("MESHNODE_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("MESHNODE_API_BIND"); v != "" {
		cfg.API.BindAddress = v
	}
	if v := os.Getenv("MESHNODE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
