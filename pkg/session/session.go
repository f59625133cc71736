// Package session holds the client configuration and the connection pool
// shared by the blocking and non-blocking clients.
package session

import (
	"fmt"
	"log/slog"

	"github.com/pay-theory/aerokit/pkg/cluster"
	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/protection"
)

// Session owns the connection pool of one cluster
type Session struct {
	config *Config
	pool   *cluster.Pool
	logger *slog.Logger
}

// NewSession validates cfg and opens a pool over transport. A nil logger
// is built from cfg.Log.
func NewSession(cfg *Config, transport core.Transport, logger *slog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "session requires a transport")
	}
	if logger == nil {
		logger = logging.New(cfg.Log)
	}
	logger = logger.With("cluster", cfg.ClusterName)

	pool := cluster.NewPool(transport, cfg.PoolConfig(), logger)
	logger.Debug("session opened", "hosts", cfg.Hosts, "auth_mode", cfg.AuthMode)

	return &Session{
		config: cfg,
		pool:   pool,
		logger: logger,
	}, nil
}

// PoolConfig derives the connection pool settings
func (c *Config) PoolConfig() cluster.PoolConfig {
	pc := cluster.DefaultPoolConfig()
	pc.IdleTimeout = c.IdleTimeout
	if c.MaxConnsPerNode > 0 {
		pc.MaxIdle = c.MaxConnsPerNode
	}
	pc.Limits = protection.Limits{
		MaxConcurrentCommands: c.MaxConcurrentCommands,
		CommandsPerSecond:     c.CommandsPerSecond,
		BurstSize:             protection.DefaultLimits().BurstSize,
		MaxBatchKeys:          c.MaxBatchKeys,
		MaxConcurrentBatch:    protection.DefaultLimits().MaxConcurrentBatch,
	}
	return pc
}

// Policies are the default policies derived from a configuration
type Policies struct {
	Read  *policy.Read
	Write *policy.Write
	Batch *policy.Batch
	Query *policy.Query
}

// DefaultPolicies applies the configured timeouts and retries to the
// package policy defaults
func (c *Config) DefaultPolicies() Policies {
	p := Policies{
		Read:  policy.NewRead(),
		Write: policy.NewWrite(),
		Batch: policy.NewBatch(),
		Query: policy.NewQuery(),
	}
	for _, b := range []*policy.Base{&p.Read.Base, &p.Write.Base, &p.Batch.Base, &p.Query.Base} {
		if c.SocketTimeout > 0 {
			b.SocketTimeout = c.SocketTimeout
		}
	}
	for _, b := range []*policy.Base{&p.Read.Base, &p.Write.Base, &p.Batch.Base} {
		if c.Timeout > 0 {
			b.TotalTimeout = c.Timeout
		}
	}
	p.Read.MaxRetries = c.MaxRetries
	p.Batch.MaxRetries = c.MaxRetries
	return p
}

// EncodeOptions returns the expression options for the configured server
func (c *Config) EncodeOptions() []exp.EncodeOption {
	if c.ServerVersion == "" {
		return nil
	}
	return []exp.EncodeOption{exp.WithServerVersion(c.ServerVersion)}
}

// Config returns the session configuration
func (s *Session) Config() *Config {
	return s.config
}

// Pool returns the connection pool
func (s *Session) Pool() *cluster.Pool {
	return s.pool
}

// Logger returns the session logger
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Health reports command slot usage and connection counts
func (s *Session) Health() map[string]any {
	health := s.pool.Protector().HealthCheck()
	health["pool"] = s.pool.Stats()
	return health
}

// Close closes the pool
func (s *Session) Close() error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	s.logger.Debug("session closed", "stats", s.pool.Stats())
	return s.pool.Close()
}
