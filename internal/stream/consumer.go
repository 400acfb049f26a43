package stream

import (
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

// polling interval of a paused consumer.
const pausedPulse = 300 * time.Millisecond

// Consumer is a reader of a live source.
// It owns a bounded queue that is filled by the source and drained
// in batches by the owning connection.
type Consumer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	jitter    jitter
	queue     []message.Message
	maxLength time.Duration

	avStart time.Duration
	avEnd   time.Duration
	avSet   bool

	paused      bool
	interrupted bool
	eof         bool
	changed     bool

	waiting         bool
	waitingMsgs     int
	waitingDuration time.Duration
}

func newConsumer(maxLength time.Duration, algorithm conf.TimeJitter) *Consumer {
	c := &Consumer{
		maxLength: maxLength,
		jitter:    jitter{algorithm: algorithm},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// enqueue corrects the message timestamp and appends it to the queue,
// dropping the oldest non-header messages when the queue length in
// milliseconds exceeds the configured maximum. It never blocks.
func (c *Consumer) enqueue(msg message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg = c.jitter.correct(msg)
	c.queue = append(c.queue, msg)

	// sequence headers are never dropped and do not count
	// towards the queue span.
	if dts, ok := avDTS(msg); ok && !isSequenceHeader(msg) {
		if !c.avSet {
			c.avSet = true
			c.avStart = dts
		}
		c.avEnd = dts
	}

	if c.maxLength > 0 {
		for c.avSet && (c.avEnd-c.avStart) > c.maxLength && c.dropOldest() {
		}
	}

	if c.waiting && c.satisfies(c.waitingMsgs, c.waitingDuration) {
		c.waiting = false
		c.cond.Broadcast()
	}
}

func (c *Consumer) satisfies(minMsgs int, minDuration time.Duration) bool {
	if len(c.queue) > minMsgs {
		return true
	}
	return c.avSet && (c.avEnd-c.avStart) > minDuration
}

// dropOldest removes the oldest queued message that is not a sequence
// header. It reports whether a message was removed.
func (c *Consumer) dropOldest() bool {
	for i, msg := range c.queue {
		if isSequenceHeader(msg) {
			continue
		}

		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		c.recomputeStart()
		return true
	}
	return false
}

func (c *Consumer) recomputeStart() {
	for _, msg := range c.queue {
		if isSequenceHeader(msg) {
			continue
		}
		if dts, ok := avDTS(msg); ok {
			c.avStart = dts
			return
		}
	}
	c.avSet = false
}

// Wait blocks until the queue holds more than minMsgs messages or spans
// more than minDuration, or the consumer is interrupted, or the publisher
// goes away. While paused it just sleeps for a short pulse.
func (c *Consumer) Wait(minMsgs int, minDuration time.Duration) {
	c.mu.Lock()

	if c.paused {
		c.mu.Unlock()
		time.Sleep(pausedPulse)
		return
	}

	for !c.interrupted && !c.eof && !c.satisfies(minMsgs, minDuration) {
		c.waitingMsgs = minMsgs
		c.waitingDuration = minDuration
		c.waiting = true
		c.cond.Wait()
	}

	c.eof = false
	c.mu.Unlock()
}

// Dump returns the queued messages, at most max when max is greater than
// zero. While paused it returns nothing.
func (c *Consumer) Dump(max int) []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused || len(c.queue) == 0 {
		return nil
	}

	count := len(c.queue)
	if max > 0 && max < count {
		count = max
	}

	out := make([]message.Message, count)
	copy(out, c.queue[:count])
	c.queue = c.queue[count:]

	if len(c.queue) == 0 {
		c.queue = nil
		c.avSet = false
	} else {
		// the remaining span is measured from the last extracted frame.
		for i := count - 1; i >= 0; i-- {
			if isSequenceHeader(out[i]) {
				continue
			}
			if dts, ok := avDTS(out[i]); ok {
				c.avStart = dts
				break
			}
		}
	}

	return out
}

// Duration returns the timespan covered by the queued messages.
func (c *Consumer) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.avSet {
		return 0
	}
	return c.avEnd - c.avStart
}

// OnPlayClientPause toggles delivery.
func (c *Consumer) OnPlayClientPause(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
}

// Interrupt wakes any blocked Wait call. Once interrupted, Wait never
// blocks again.
func (c *Consumer) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.waiting = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// SourceChanged reports whether the publisher was replaced since the
// last call.
func (c *Consumer) SourceChanged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.changed
	c.changed = false
	return v
}

func (c *Consumer) sourceChanged() {
	c.mu.Lock()
	c.changed = true
	c.mu.Unlock()
}

// sourceEOF wakes a blocked Wait call once, without enqueueing anything.
func (c *Consumer) sourceEOF() {
	c.mu.Lock()
	c.eof = true
	c.waiting = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Consumer) setQueueSize(v time.Duration) {
	c.mu.Lock()
	c.maxLength = v
	c.mu.Unlock()
}
