// Package protection bounds how many commands a client runs at once and how
// fast it issues them.
package protection

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pay-theory/aerokit/pkg/errors"
)

// Limits defines configurable command limits
type Limits struct {
	// MaxConcurrentCommands bounds commands holding a connection at once
	MaxConcurrentCommands int `json:"max_concurrent_commands" yaml:"max_concurrent_commands" mapstructure:"max_concurrent_commands"`

	// CommandsPerSecond throttles command starts; zero disables throttling
	CommandsPerSecond float64 `json:"commands_per_second" yaml:"commands_per_second" mapstructure:"commands_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size" mapstructure:"burst_size"`

	// Batch limits
	MaxBatchKeys       int `json:"max_batch_keys" yaml:"max_batch_keys" mapstructure:"max_batch_keys"`
	MaxConcurrentBatch int `json:"max_concurrent_batch" yaml:"max_concurrent_batch" mapstructure:"max_concurrent_batch"`
}

// DefaultLimits returns the default limits
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentCommands: 100,
		CommandsPerSecond:     0,
		BurstSize:             50,
		MaxBatchKeys:          5000,
		MaxConcurrentBatch:    10,
	}
}

// Protector hands out command slots
type Protector struct {
	limits Limits

	limiter *rate.Limiter

	commandSemaphore chan struct{}
	batchSemaphore   chan struct{}

	stats Stats
}

// Stats tracks command usage
type Stats struct {
	TotalCommands      int64 `json:"total_commands"`
	RejectedCommands   int64 `json:"rejected_commands"`
	ConcurrentCommands int64 `json:"concurrent_commands"`
	MaxConcurrent      int64 `json:"max_concurrent_commands"`

	TotalBatchOps      int64 `json:"total_batch_operations"`
	RejectedBatchOps   int64 `json:"rejected_batch_operations"`
	ConcurrentBatchOps int64 `json:"concurrent_batch_operations"`

	RateLimitWaits  int64     `json:"rate_limit_waits"`
	LastStatsUpdate time.Time `json:"last_stats_update"`
}

// NewProtector creates a protector. Non-positive concurrency limits fall back to the defaults.
func NewProtector(limits Limits) *Protector {
	defaults := DefaultLimits()
	if limits.MaxConcurrentCommands <= 0 {
		limits.MaxConcurrentCommands = defaults.MaxConcurrentCommands
	}
	if limits.MaxConcurrentBatch <= 0 {
		limits.MaxConcurrentBatch = defaults.MaxConcurrentBatch
	}
	if limits.BurstSize <= 0 {
		limits.BurstSize = 1
	}

	p := &Protector{
		limits:           limits,
		commandSemaphore: make(chan struct{}, limits.MaxConcurrentCommands),
		batchSemaphore:   make(chan struct{}, limits.MaxConcurrentBatch),
	}
	if limits.CommandsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(limits.CommandsPerSecond), limits.BurstSize)
	}
	return p
}

// Limits returns the effective limits
func (p *Protector) Limits() Limits {
	return p.limits
}

// Acquire waits for the rate limiter and a command slot. The returned release
// function must be called exactly once.
func (p *Protector) Acquire(ctx context.Context) (func(), error) {
	if p.limiter != nil {
		if !p.limiter.Allow() {
			atomic.AddInt64(&p.stats.RateLimitWaits, 1)
			if err := p.limiter.Wait(ctx); err != nil {
				atomic.AddInt64(&p.stats.RejectedCommands, 1)
				return nil, waitError(ctx, "RateLimitExceeded", "command rate limit wait aborted", err)
			}
		}
	}

	select {
	case p.commandSemaphore <- struct{}{}:
	case <-ctx.Done():
		atomic.AddInt64(&p.stats.RejectedCommands, 1)
		return nil, waitError(ctx, "ConcurrencyLimitExceeded",
			fmt.Sprintf("no command slot free among %d", p.limits.MaxConcurrentCommands), ctx.Err())
	}

	current := atomic.AddInt64(&p.stats.ConcurrentCommands, 1)
	atomic.AddInt64(&p.stats.TotalCommands, 1)
	for {
		max := atomic.LoadInt64(&p.stats.MaxConcurrent)
		if current <= max || atomic.CompareAndSwapInt64(&p.stats.MaxConcurrent, max, current) {
			break
		}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			atomic.AddInt64(&p.stats.ConcurrentCommands, -1)
			<-p.commandSemaphore
		}
	}, nil
}

// AcquireBatch admits a batch of keys. Batches larger than MaxBatchKeys are rejected.
func (p *Protector) AcquireBatch(ctx context.Context, keys int) (func(), error) {
	if p.limits.MaxBatchKeys > 0 && keys > p.limits.MaxBatchKeys {
		atomic.AddInt64(&p.stats.RejectedBatchOps, 1)
		return nil, &ProtectionError{
			Type:   "BatchSizeExceeded",
			Detail: fmt.Sprintf("batch of %d keys exceeds maximum %d", keys, p.limits.MaxBatchKeys),
			Err:    errors.ErrInvalidArgument,
		}
	}

	select {
	case p.batchSemaphore <- struct{}{}:
	case <-ctx.Done():
		atomic.AddInt64(&p.stats.RejectedBatchOps, 1)
		return nil, waitError(ctx, "BatchConcurrencyExceeded",
			fmt.Sprintf("no batch slot free among %d", p.limits.MaxConcurrentBatch), ctx.Err())
	}

	atomic.AddInt64(&p.stats.ConcurrentBatchOps, 1)
	atomic.AddInt64(&p.stats.TotalBatchOps, 1)

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			atomic.AddInt64(&p.stats.ConcurrentBatchOps, -1)
			<-p.batchSemaphore
		}
	}, nil
}

func waitError(ctx context.Context, typ, detail string, cause error) error {
	sentinel := cause
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(cause, context.DeadlineExceeded) {
		sentinel = errors.ErrTimeout
	} else if ctx.Err() == nil {
		// rate.Limiter.Wait fails up front when the deadline cannot be met
		sentinel = errors.ErrTimeout
	}
	return &ProtectionError{Type: typ, Detail: detail, Err: sentinel}
}

// Stats returns a snapshot of the counters
func (p *Protector) Stats() Stats {
	return Stats{
		TotalCommands:      atomic.LoadInt64(&p.stats.TotalCommands),
		RejectedCommands:   atomic.LoadInt64(&p.stats.RejectedCommands),
		ConcurrentCommands: atomic.LoadInt64(&p.stats.ConcurrentCommands),
		MaxConcurrent:      atomic.LoadInt64(&p.stats.MaxConcurrent),
		TotalBatchOps:      atomic.LoadInt64(&p.stats.TotalBatchOps),
		RejectedBatchOps:   atomic.LoadInt64(&p.stats.RejectedBatchOps),
		ConcurrentBatchOps: atomic.LoadInt64(&p.stats.ConcurrentBatchOps),
		RateLimitWaits:     atomic.LoadInt64(&p.stats.RateLimitWaits),
		LastStatsUpdate:    time.Now(),
	}
}

// HealthCheck reports degraded when command slots are nearly exhausted
func (p *Protector) HealthCheck() map[string]any {
	stats := p.Stats()

	health := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"concurrency": map[string]any{
				"status":              "ok",
				"concurrent_commands": stats.ConcurrentCommands,
				"max_commands":        p.limits.MaxConcurrentCommands,
				"concurrent_batches":  stats.ConcurrentBatchOps,
				"max_batches":         p.limits.MaxConcurrentBatch,
			},
			"rate_limiting": map[string]any{
				"status":              "ok",
				"rate_limit_waits":    stats.RateLimitWaits,
				"commands_per_second": p.limits.CommandsPerSecond,
			},
		},
		"timestamp": stats.LastStatsUpdate,
	}

	warnAt := int64(math.Ceil(float64(p.limits.MaxConcurrentCommands) * 0.9))
	if stats.ConcurrentCommands > 0 && stats.ConcurrentCommands >= warnAt {
		health["status"] = "degraded"
		health["checks"].(map[string]any)["concurrency"].(map[string]any)["status"] = "warning"
	}

	return health
}

// ProtectionError represents a rejected command
type ProtectionError struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("resource protection: %s - %s", e.Type, e.Detail)
}

func (e *ProtectionError) Unwrap() error {
	return e.Err
}

// IsResourceProtectionError checks if an error is a resource protection error
func IsResourceProtectionError(err error) bool {
	var pe *ProtectionError
	return stderrors.As(err, &pe)
}

// GetResourceProtectionType returns the type of resource protection error
func GetResourceProtectionType(err error) string {
	var pe *ProtectionError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ""
}
