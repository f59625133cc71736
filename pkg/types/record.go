package types

import "time"

// CitrusleafEpoch is the server's time origin for void times, in Unix seconds.
const CitrusleafEpoch = 1262304000

// Record is a record returned by the cluster.
type Record struct {
	Key        *Key
	Bins       BinMap
	Generation uint32
	// Expiration is the void time in seconds since CitrusleafEpoch; zero never expires.
	Expiration uint32
}

// Bin returns the named bin value, or nil when it is absent.
func (r *Record) Bin(name string) Value {
	if r == nil || r.Bins == nil {
		return NilValue()
	}
	return r.Bins[name]
}

// TTL returns the remaining lifetime relative to now, -1 when the record never expires.
func (r *Record) TTL(now time.Time) time.Duration {
	if r.Expiration == 0 {
		return -1
	}
	expires := time.Unix(int64(r.Expiration)+CitrusleafEpoch, 0)
	if d := expires.Sub(now); d > 0 {
		return d.Truncate(time.Second)
	}
	return 0
}

// BatchRecord is the per-key outcome of a batch read.
type BatchRecord struct {
	Key    *Key
	Record *Record
	Err    error
}
