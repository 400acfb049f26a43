package httplive

import (
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

// liveEntry is a materialized mount. For the audio-only containers it
// keeps a rolling cache of recent audio frames, replayed to each new
// consumer for a fast start; the hub's GOP cache ignores pure-audio
// streams, so this cache is independent of it.
type liveEntry struct {
	source    *stream.Source
	fastCache time.Duration

	// guarded by the server mutex.
	refs int

	consumer *stream.Consumer
	done     chan struct{}

	mu       sync.Mutex
	audioSH  *message.Audio
	frames   []*message.Audio
}

func (e *liveEntry) initialize() {
	e.done = make(chan struct{})
	e.consumer = e.source.CreateConsumer(false)
	go e.run()
}

func (e *liveEntry) close() {
	close(e.done)
	e.consumer.Interrupt()
	e.source.RemoveConsumer(e.consumer)
}

func (e *liveEntry) run() {
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.consumer.Wait(0, 0)

		for _, msg := range e.consumer.Dump(0) {
			audio, ok := msg.(*message.Audio)
			if !ok {
				continue
			}
			e.cache(audio)
		}
	}
}

func (e *liveEntry) cache(msg *message.Audio) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.IsSequenceHeader() {
		e.audioSH = msg
		return
	}

	e.frames = append(e.frames, msg)

	for len(e.frames) > 1 &&
		e.frames[len(e.frames)-1].DTS-e.frames[0].DTS > e.fastCache {
		e.frames = e.frames[1:]
	}
}

// dump returns the cached audio, sequence header first.
func (e *liveEntry) dump() []message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]message.Message, 0, len(e.frames)+1)
	if e.audioSH != nil {
		out = append(out, e.audioSH)
	}
	for _, msg := range e.frames {
		out = append(out, msg)
	}
	return out
}
