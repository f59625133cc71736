// Package policy holds the per-call settings of reads, writes, batches and queries.
package policy

import (
	"time"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
)

// TimeoutAction decides what happens to a connection whose call missed its deadline.
type TimeoutAction int

const (
	// Discard closes the connection.
	Discard TimeoutAction = iota
	// Drain reads and drops the late response, then returns the connection to the pool.
	Drain
)

func (a TimeoutAction) String() string {
	if a == Drain {
		return "drain"
	}
	return "discard"
}

// ReadMode is the read consistency level.
type ReadMode int

const (
	// ReadModeAP reads from one replica.
	ReadModeAP ReadMode = iota
	// ReadModeSC reads linearizably in strong-consistency namespaces.
	ReadModeSC
)

// Base is shared by every policy.
type Base struct {
	// SocketTimeout bounds one attempt. Zero means no attempt deadline.
	SocketTimeout time.Duration
	// TotalTimeout bounds the whole call including retries. Zero means no deadline.
	TotalTimeout time.Duration
	// MaxRetries is the number of attempts after the first. Only idempotent reads retry.
	MaxRetries int
	// SleepBetweenRetries is a constant delay between attempts. Zero selects exponential backoff.
	SleepBetweenRetries time.Duration
	// FilterExpression is evaluated server-side; records it rejects are skipped.
	FilterExpression *exp.Filter
	TimeoutAction    TimeoutAction
}

// Validate rejects negative durations and retry counts.
func (b *Base) Validate() error {
	if b.SocketTimeout < 0 || b.TotalTimeout < 0 || b.SleepBetweenRetries < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "policy timeouts cannot be negative")
	}
	if b.MaxRetries < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "max retries cannot be negative, got %d", b.MaxRetries)
	}
	return nil
}

func (b *Base) apply(req *core.Request) {
	req.SocketTimeout = b.SocketTimeout
	if b.FilterExpression != nil {
		req.Filter = b.FilterExpression.Bytes()
	}
}

// Read configures single-key reads.
type Read struct {
	Base
	ReadMode ReadMode
}

// NewRead returns the default read policy.
func NewRead() *Read {
	return &Read{
		Base: Base{
			SocketTimeout:       30 * time.Second,
			TotalTimeout:        1 * time.Second,
			MaxRetries:          2,
			SleepBetweenRetries: 0,
			TimeoutAction:       Drain,
		},
	}
}

// Apply copies the policy fields a read request carries.
func (p *Read) Apply(req *core.Request) {
	p.Base.apply(req)
	req.ReadMode = int(p.ReadMode)
}

// TTL sentinels for Write.TTL.
const (
	TTLNamespaceDefault int32 = 0
	TTLNeverExpire      int32 = -1
	TTLDontUpdate       int32 = -2
)

// GenerationPolicy controls optimistic concurrency on writes.
type GenerationPolicy int

const (
	GenerationNone GenerationPolicy = iota
	// GenerationExpectEqual writes only when the record generation equals Write.Generation.
	GenerationExpectEqual
	// GenerationExpectGreater writes only when Write.Generation is greater.
	GenerationExpectGreater
)

// RecordExistsAction controls how a write treats an existing record.
type RecordExistsAction int

const (
	// Update merges bins into the record, creating it when absent.
	Update RecordExistsAction = iota
	// UpdateOnly merges bins and fails when the record is absent.
	UpdateOnly
	// Replace overwrites all bins, creating the record when absent.
	Replace
	// ReplaceOnly overwrites all bins and fails when the record is absent.
	ReplaceOnly
	// CreateOnly fails when the record exists.
	CreateOnly
)

// CommitLevel is when the server acknowledges a write.
type CommitLevel int

const (
	CommitAll CommitLevel = iota
	CommitMaster
)

// Write configures writes.
type Write struct {
	Base
	// TTL in seconds, or one of TTLNamespaceDefault, TTLNeverExpire, TTLDontUpdate.
	TTL                int32
	Generation         uint32
	GenerationPolicy   GenerationPolicy
	RecordExistsAction RecordExistsAction
	CommitLevel        CommitLevel
	DurableDelete      bool
	// SendKey stores the user key with the record.
	SendKey bool
}

// NewWrite returns the default write policy. Writes are not retried.
func NewWrite() *Write {
	return &Write{
		Base: Base{
			SocketTimeout: 30 * time.Second,
			TotalTimeout:  1 * time.Second,
			MaxRetries:    0,
			TimeoutAction: Drain,
		},
		TTL: TTLNamespaceDefault,
	}
}

// Validate checks the TTL sentinels on top of the base fields.
func (p *Write) Validate() error {
	if err := p.Base.Validate(); err != nil {
		return err
	}
	if p.TTL < TTLDontUpdate {
		return errors.Newf(errors.ErrInvalidArgument, "invalid ttl %d", p.TTL)
	}
	return nil
}

// Apply copies the policy fields a write request carries.
func (p *Write) Apply(req *core.Request) {
	p.Base.apply(req)
	req.Write = &core.WriteParams{
		Expiration:         p.TTL,
		Generation:         p.Generation,
		GenerationPolicy:   int(p.GenerationPolicy),
		RecordExistsAction: int(p.RecordExistsAction),
		CommitLevel:        int(p.CommitLevel),
		DurableDelete:      p.DurableDelete,
		SendKey:            p.SendKey,
	}
}

// Batch configures batch reads.
type Batch struct {
	Base
	AllowInline    bool
	AllowInlineSSD bool
	// RespondAllKeys keeps processing remaining keys after a per-key failure.
	RespondAllKeys bool
	// MaxConcurrentNodes bounds parallel sub-requests. Zero means unbounded.
	MaxConcurrentNodes int
	// MaxKeysPerNode splits large batches into sub-requests of at most this many keys.
	MaxKeysPerNode int
}

// NewBatch returns the default batch policy.
func NewBatch() *Batch {
	return &Batch{
		Base: Base{
			SocketTimeout: 30 * time.Second,
			TotalTimeout:  1 * time.Second,
			MaxRetries:    2,
			TimeoutAction: Drain,
		},
		AllowInline:        true,
		RespondAllKeys:     true,
		MaxConcurrentNodes: 1,
		MaxKeysPerNode:     5000,
	}
}

// Apply copies the policy fields a batch request carries.
func (p *Batch) Apply(req *core.Request) {
	p.Base.apply(req)
}

// Query configures queries and scans.
type Query struct {
	Base
	// MaxRecords is an approximate limit on returned records. Zero means no limit.
	MaxRecords int64
	// RecordsPerSecond throttles the server. Zero means no limit.
	RecordsPerSecond int
	// RecordQueueSize bounds records buffered between the connection and the consumer.
	RecordQueueSize    int
	MaxConcurrentNodes int
	IncludeBinData     bool
}

// NewQuery returns the default query policy. Queries have no total deadline.
func NewQuery() *Query {
	return &Query{
		Base: Base{
			SocketTimeout: 30 * time.Second,
			TotalTimeout:  0,
			MaxRetries:    5,
			TimeoutAction: Drain,
		},
		RecordQueueSize: 5000,
		IncludeBinData:  true,
	}
}

// Validate checks the throttling fields on top of the base fields.
func (p *Query) Validate() error {
	if err := p.Base.Validate(); err != nil {
		return err
	}
	if p.MaxRecords < 0 || p.RecordsPerSecond < 0 || p.RecordQueueSize < 0 {
		return errors.Newf(errors.ErrInvalidArgument, "query limits cannot be negative")
	}
	return nil
}

// Apply copies the policy fields a query request carries.
func (p *Query) Apply(req *core.Request) {
	p.Base.apply(req)
	req.MaxRecords = p.MaxRecords
	req.RecordsPerSecond = p.RecordsPerSecond
	if !p.IncludeBinData {
		req.NoBins = true
	}
}
