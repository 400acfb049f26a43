// Package kbps measures transfer rates over fixed time windows.
package kbps

import (
	"sync"
	"time"
)

var timeNow = time.Now

// sampleWindow measures the rate over one fixed interval.
type sampleWindow struct {
	interval   time.Duration
	start      time.Time
	startBytes uint64
	rate       int64
}

func (w *sampleWindow) update(total uint64, now time.Time) {
	elapsed := now.Sub(w.start)
	if elapsed < w.interval {
		return
	}

	if ms := elapsed.Milliseconds(); ms > 0 {
		w.rate = int64(total-w.startBytes) * 8 / ms
	}

	w.start = now
	w.startBytes = total
}

// rate tracks one transfer direction.
type rate struct {
	total uint64
	r30s  sampleWindow
	r1m   sampleWindow
	r5m   sampleWindow
	r60m  sampleWindow
}

func (r *rate) initialize(now time.Time) {
	r.r30s = sampleWindow{interval: 30 * time.Second, start: now}
	r.r1m = sampleWindow{interval: 1 * time.Minute, start: now}
	r.r5m = sampleWindow{interval: 5 * time.Minute, start: now}
	r.r60m = sampleWindow{interval: time.Hour, start: now}
}

func (r *rate) sample(now time.Time) {
	r.r30s.update(r.total, now)
	r.r1m.update(r.total, now)
	r.r5m.update(r.total, now)
	r.r60m.update(r.total, now)
}

func (r *rate) snapshot() Snapshot {
	return Snapshot{
		R30s:  r.r30s.rate,
		R1m:   r.r1m.rate,
		R5m:   r.r5m.rate,
		R60m:  r.r60m.rate,
		Total: r.total,
	}
}

// Snapshot is the set of sampled rates of one direction, in kbit/s,
// plus the cumulative byte total.
type Snapshot struct {
	R30s  int64
	R1m   int64
	R5m   int64
	R60m  int64
	Total uint64
}

// Kbps aggregates byte deltas into send and receive rates over
// 30s/1m/5m/60m windows. Windows are refreshed on demand; there is no
// background goroutine.
type Kbps struct {
	mu   sync.Mutex
	recv rate
	send rate
}

// Initialize initializes Kbps.
func (k *Kbps) Initialize() {
	now := timeNow()
	k.recv.initialize(now)
	k.send.initialize(now)
}

// AddDelta accumulates bytes transferred since the previous call.
func (k *Kbps) AddDelta(in uint64, out uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.recv.total += in
	k.send.total += out
}

// Drain pulls and accumulates the deltas of a source. Multiple sources
// can feed the same Kbps.
func (k *Kbps) Drain(source DeltaSource) {
	in, out := source.Remark()
	k.AddDelta(in, out)
}

// Sample refreshes every window whose interval elapsed.
func (k *Kbps) Sample() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := timeNow()
	k.recv.sample(now)
	k.send.sample(now)
}

// Recv returns the receive-side rates.
func (k *Kbps) Recv() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.recv.snapshot()
}

// Send returns the send-side rates.
func (k *Kbps) Send() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send.snapshot()
}
