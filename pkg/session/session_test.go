package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/mocks"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"127.0.0.1:3000"}, cfg.Hosts)
	assert.Equal(t, AuthInternal, cfg.AuthMode)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no hosts", func(c *Config) { c.Hosts = nil }},
		{"blank host", func(c *Config) { c.Hosts = []string{" "} }},
		{"auth mode", func(c *Config) { c.AuthMode = "kerberos" }},
		{"password without user", func(c *Config) { c.Password = "secret" }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"conns", func(c *Config) { c.MinConnsPerNode = 10; c.MaxConnsPerNode = 5 }},
		{"server version", func(c *Config) { c.ServerVersion = "seven" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidArgument)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aerokit.yaml")
	content := `
hosts:
  - db1:3000
  - db2:3000
cluster_name: payments
timeout: 250ms
max_retries: 4
server_version: "7.0.0"
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"db1:3000", "db2:3000"}, cfg.Hosts)
	assert.Equal(t, "payments", cfg.ClusterName)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 55*time.Second, cfg.IdleTimeout)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("AEROKIT_HOSTS", "a:3000,b:3000")
	t.Setenv("AEROKIT_CLUSTER_NAME", "edge")
	t.Setenv("AEROKIT_TIMEOUT", "2s")
	t.Setenv("AEROKIT_MAX_CONCURRENT_COMMANDS", "12")
	t.Setenv("AEROKIT_LOG_LEVEL", "warn")

	cfg, err := FromEnv("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:3000", "b:3000"}, cfg.Hosts)
	assert.Equal(t, "edge", cfg.ClusterName)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 12, cfg.MaxConcurrentCommands)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.SocketTimeout)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("MYAPP_AUTH_MODE", "bogus")
	_, err := FromEnv("MYAPP")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestDefaultPolicies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 3 * time.Second
	cfg.SocketTimeout = time.Second
	cfg.MaxRetries = 5

	p := cfg.DefaultPolicies()
	assert.Equal(t, 3*time.Second, p.Read.TotalTimeout)
	assert.Equal(t, 3*time.Second, p.Write.TotalTimeout)
	assert.Equal(t, time.Duration(0), p.Query.TotalTimeout)
	assert.Equal(t, time.Second, p.Query.SocketTimeout)
	assert.Equal(t, 5, p.Read.MaxRetries)
	assert.Equal(t, 0, p.Write.MaxRetries)

	assert.Nil(t, cfg.EncodeOptions())
	cfg.ServerVersion = "6.4"
	assert.Len(t, cfg.EncodeOptions(), 1)
}

func TestNewSession(t *testing.T) {
	transport := new(mocks.MockTransport)

	s, err := NewSession(nil, transport, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), s.Config())
	assert.NotNil(t, s.Pool())
	assert.NotNil(t, s.Logger())
	require.NoError(t, s.Close())

	_, err = NewSession(DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	cfg := DefaultConfig()
	cfg.Hosts = nil
	_, err = NewSession(cfg, transport, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
