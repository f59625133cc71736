// Package testing wires clients to an in-memory cluster for tests.
package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	stdtesting "testing"

	"github.com/pay-theory/aerokit"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/memcluster"
	"github.com/pay-theory/aerokit/pkg/session"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Namespace is the namespace test keys live in
const Namespace = "test"

// Env is a client connected to its own in-memory cluster
type Env struct {
	Cluster *memcluster.Cluster
	Client  *aerokit.Client
}

type envConfig struct {
	cluster memcluster.Options
	config  *session.Config
	options []aerokit.Option
}

// EnvOption configures NewEnv
type EnvOption func(*envConfig)

// WithClusterOptions configures the in-memory cluster
func WithClusterOptions(opts memcluster.Options) EnvOption {
	return func(c *envConfig) { c.cluster = opts }
}

// WithConfig sets the client configuration
func WithConfig(cfg *session.Config) EnvOption {
	return func(c *envConfig) { c.config = cfg }
}

// WithClientOptions passes options to aerokit.New
func WithClientOptions(opts ...aerokit.Option) EnvOption {
	return func(c *envConfig) { c.options = append(c.options, opts...) }
}

// NewEnv creates a cluster and a client over it. The client is closed when
// the test ends.
func NewEnv(t stdtesting.TB, opts ...EnvOption) *Env {
	t.Helper()
	cfg := &envConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.cluster.Logger == nil {
		cfg.cluster.Logger = logging.Discard()
	}

	cluster := memcluster.New(cfg.cluster)
	clientOpts := append([]aerokit.Option{
		aerokit.WithTransport(cluster),
		aerokit.WithLogger(logging.Discard()),
	}, cfg.options...)

	client, err := aerokit.New(cfg.config, clientOpts...)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &Env{Cluster: cluster, Client: client}
}

// Key builds a key in Namespace
func Key(t stdtesting.TB, set string, id any) *types.Key {
	t.Helper()
	k, err := types.NewKey(Namespace, set, id)
	if err != nil {
		t.Fatalf("create key %v: %v", id, err)
	}
	return k
}

// Seed writes n records to set through the client and returns their keys in
// write order. bins builds the bins of record i.
func (e *Env) Seed(t stdtesting.TB, set string, n int, bins func(i int) types.BinMap) []*types.Key {
	t.Helper()
	keys := make([]*types.Key, n)
	for i := 0; i < n; i++ {
		keys[i] = Key(t, set, fmt.Sprintf("%s-%d", set, i))
		if err := e.Client.Put(context.Background(), nil, keys[i], bins(i)); err != nil {
			t.Fatalf("seed record %d: %v", i, err)
		}
	}
	return keys
}

// TrackingLock is a sync.Locker that counts how often it was released, for
// asserting that blocking calls give up the execution lock while waiting.
type TrackingLock struct {
	mu       sync.Mutex
	held     atomic.Bool
	releases atomic.Int64
}

func (l *TrackingLock) Lock() {
	l.mu.Lock()
	l.held.Store(true)
}

func (l *TrackingLock) Unlock() {
	l.held.Store(false)
	l.releases.Add(1)
	l.mu.Unlock()
}

// TryLock acquires the lock if it is free
func (l *TrackingLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.held.Store(true)
	return true
}

// Held reports whether someone holds the lock
func (l *TrackingLock) Held() bool {
	return l.held.Load()
}

// Releases returns the number of Unlock calls
func (l *TrackingLock) Releases() int64 {
	return l.releases.Load()
}
