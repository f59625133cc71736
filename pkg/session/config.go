package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/logging"
)

// Auth modes
const (
	AuthInternal = "internal"
	AuthExternal = "external"
	AuthPKI      = "pki"
)

// EnvPrefix is the default environment variable prefix of FromEnv
const EnvPrefix = "AEROKIT"

// Config holds the configuration for aerokit
type Config struct {
	// Hosts are seed nodes as host:port
	Hosts       []string `yaml:"hosts" mapstructure:"hosts"`
	ClusterName string   `yaml:"cluster_name" mapstructure:"cluster_name"`

	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	AuthMode string `yaml:"auth_mode" mapstructure:"auth_mode"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// Timeout is the total timeout of default read and write policies
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SocketTimeout time.Duration `yaml:"socket_timeout" mapstructure:"socket_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	// MaxRetries of default read policies; writes are never retried
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	MinConnsPerNode int           `yaml:"min_conns_per_node" mapstructure:"min_conns_per_node"`
	MaxConnsPerNode int           `yaml:"max_conns_per_node" mapstructure:"max_conns_per_node"`
	TendInterval    time.Duration `yaml:"tend_interval" mapstructure:"tend_interval"`

	MaxConcurrentCommands int     `yaml:"max_concurrent_commands" mapstructure:"max_concurrent_commands"`
	CommandsPerSecond     float64 `yaml:"commands_per_second" mapstructure:"commands_per_second"`
	MaxBatchKeys          int     `yaml:"max_batch_keys" mapstructure:"max_batch_keys"`

	// AsyncWorkers bounds calls running for the non-blocking client at once
	AsyncWorkers int `yaml:"async_workers" mapstructure:"async_workers"`

	// ServerVersion gates expression features, e.g. "7.0.0"; empty allows all
	ServerVersion string `yaml:"server_version" mapstructure:"server_version"`

	Log logging.Config `yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Hosts:                 []string{"127.0.0.1:3000"},
		AuthMode:              AuthInternal,
		ConnectTimeout:        time.Second,
		Timeout:               time.Second,
		SocketTimeout:         30 * time.Second,
		IdleTimeout:           55 * time.Second,
		MaxRetries:            2,
		MinConnsPerNode:       0,
		MaxConnsPerNode:       100,
		TendInterval:          time.Second,
		MaxConcurrentCommands: 100,
		MaxBatchKeys:          5000,
		AsyncWorkers:          1024,
		Log:                   logging.Config{Level: "INFO", Format: "text"},
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.Newf(errors.ErrInvalidArgument, "at least one host is required")
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			return errors.Newf(errors.ErrInvalidArgument, "empty host")
		}
	}
	switch c.AuthMode {
	case "", AuthInternal, AuthExternal, AuthPKI:
	default:
		return errors.Newf(errors.ErrInvalidArgument, "unknown auth mode %q", c.AuthMode)
	}
	if c.User == "" && c.Password != "" {
		return errors.Newf(errors.ErrInvalidArgument, "password set without user")
	}
	if c.ConnectTimeout < 0 || c.Timeout < 0 || c.SocketTimeout < 0 || c.IdleTimeout < 0 || c.TendInterval < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "timeouts cannot be negative")
	}
	if c.MaxRetries < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "max retries cannot be negative")
	}
	if c.MinConnsPerNode < 0 || c.MaxConnsPerNode < 0 || (c.MaxConnsPerNode > 0 && c.MinConnsPerNode > c.MaxConnsPerNode) {
		return errors.Newf(errors.ErrInvalidArgument, "min conns per node %d exceeds max %d", c.MinConnsPerNode, c.MaxConnsPerNode)
	}
	if c.MaxConcurrentCommands < 0 || c.CommandsPerSecond < 0 || c.MaxBatchKeys < 0 || c.AsyncWorkers < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "limits cannot be negative")
	}
	if c.ServerVersion != "" {
		if _, err := exp.ParseVersion(c.ServerVersion); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a YAML configuration file over the defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the configuration from environment variables over the
// defaults. With prefix "AEROKIT", AEROKIT_HOSTS=a:3000,b:3000 sets Hosts and
// AEROKIT_LOG_LEVEL=debug sets Log.Level. An empty prefix uses EnvPrefix.
func FromEnv(prefix string) (*Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows, so register every
	// key through its default.
	def := DefaultConfig()
	defaults := map[string]any{
		"hosts":                   def.Hosts,
		"cluster_name":            def.ClusterName,
		"user":                    def.User,
		"password":                def.Password,
		"auth_mode":               def.AuthMode,
		"connect_timeout":         def.ConnectTimeout,
		"timeout":                 def.Timeout,
		"socket_timeout":          def.SocketTimeout,
		"idle_timeout":            def.IdleTimeout,
		"max_retries":             def.MaxRetries,
		"min_conns_per_node":      def.MinConnsPerNode,
		"max_conns_per_node":      def.MaxConnsPerNode,
		"tend_interval":           def.TendInterval,
		"max_concurrent_commands": def.MaxConcurrentCommands,
		"commands_per_second":     def.CommandsPerSecond,
		"max_batch_keys":          def.MaxBatchKeys,
		"async_workers":           def.AsyncWorkers,
		"server_version":          def.ServerVersion,
		"log.level":               def.Log.Level,
		"log.format":              def.Log.Format,
		"log.add_source":          def.Log.AddSource,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
