package kbps

import (
	"sync"
)

// DeltaSource produces the byte deltas accumulated since the previous
// call. Implementations drain themselves on Remark.
type DeltaSource interface {
	Remark() (in uint64, out uint64)
}

// Counter is implemented by transports that expose cumulative byte
// counts.
type Counter interface {
	BytesReceived() uint64
	BytesSent() uint64
}

// NetworkDelta derives deltas from the cumulative counters of a
// transport. The transport can be swapped or removed at any time
// without losing bytes already counted.
type NetworkDelta struct {
	mu      sync.Mutex
	conn    Counter
	baseIn  uint64
	baseOut uint64
	lastIn  uint64
	lastOut uint64
}

// SetConn sets or replaces the underlying transport. A nil transport
// keeps the totals gathered so far.
func (d *NetworkDelta) SetConn(conn Counter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		d.baseIn += d.conn.BytesReceived()
		d.baseOut += d.conn.BytesSent()
	}
	d.conn = conn
}

// Remark implements DeltaSource.
func (d *NetworkDelta) Remark() (uint64, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	totalIn := d.baseIn
	totalOut := d.baseOut
	if d.conn != nil {
		totalIn += d.conn.BytesReceived()
		totalOut += d.conn.BytesSent()
	}

	in := totalIn - d.lastIn
	out := totalOut - d.lastOut
	d.lastIn = totalIn
	d.lastOut = totalOut
	return in, out
}

// EphemeralDelta is an add-only delta pair, drained on Remark.
// It serves transfers that have no cumulative counter to wrap.
type EphemeralDelta struct {
	mu  sync.Mutex
	in  uint64
	out uint64
}

// AddDelta accumulates transferred bytes.
func (d *EphemeralDelta) AddDelta(in uint64, out uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.in += in
	d.out += out
}

// Remark implements DeltaSource.
func (d *EphemeralDelta) Remark() (uint64, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	in, out := d.in, d.out
	d.in, d.out = 0, 0
	return in, out
}
