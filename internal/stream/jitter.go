package stream

import (
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

const (
	// timestamp deltas above this threshold are treated as discontinuities.
	maxJitterDelta = time.Second

	// replacement delta applied when a discontinuity is detected.
	defaultFrameDuration = 10 * time.Millisecond
)

func avDTS(msg message.Message) (time.Duration, bool) {
	switch tmsg := msg.(type) {
	case *message.Audio:
		return tmsg.DTS, true

	case *message.Video:
		return tmsg.DTS, true
	}
	return 0, false
}

func messageDTS(msg message.Message) (time.Duration, bool) {
	if dts, ok := avDTS(msg); ok {
		return dts, true
	}
	if tmsg, ok := msg.(*message.DataAMF0); ok {
		return tmsg.DTS, true
	}
	return 0, false
}

// withDTS returns a shallow copy of the message with a corrected timestamp.
// The original is shared with other consumers and must not be mutated.
func withDTS(msg message.Message, dts time.Duration) message.Message {
	switch tmsg := msg.(type) {
	case *message.Audio:
		dup := *tmsg
		dup.DTS = dts
		return &dup

	case *message.Video:
		dup := *tmsg
		dup.DTS = dts
		return &dup

	case *message.DataAMF0:
		dup := *tmsg
		dup.DTS = dts
		return &dup
	}
	return msg
}

func isSequenceHeader(msg message.Message) bool {
	switch tmsg := msg.(type) {
	case *message.Audio:
		return tmsg.IsSequenceHeader()

	case *message.Video:
		return tmsg.IsSequenceHeader()
	}
	return false
}

// jitter corrects the timestamps of the messages delivered to a consumer.
//
// In full mode it keeps a running corrected clock: plausible deltas are
// applied as-is, while negative deltas and gaps above maxJitterDelta are
// replaced with defaultFrameDuration, so that the output is monotonically
// non-decreasing. In zero mode the first timestamp is rebased to zero.
type jitter struct {
	algorithm conf.TimeJitter

	started       bool
	offset        time.Duration
	lastDTS       time.Duration
	lastCorrected time.Duration
}

func (j *jitter) correct(msg message.Message) message.Message {
	switch j.algorithm {
	case conf.TimeJitterOff:
		return msg

	case conf.TimeJitterZero:
		dts, ok := messageDTS(msg)
		if !ok {
			return msg
		}
		if !j.started {
			j.started = true
			j.offset = dts
		}
		return withDTS(msg, dts-j.offset)
	}

	dts, isAV := avDTS(msg)
	if !isAV {
		// metadata is not part of the corrected timeline.
		return withDTS(msg, 0)
	}

	if !j.started {
		j.started = true
		j.lastDTS = dts
		j.lastCorrected = 0
		return withDTS(msg, 0)
	}

	delta := dts - j.lastDTS
	if delta < 0 || delta > maxJitterDelta {
		delta = defaultFrameDuration
	}

	j.lastDTS = dts
	j.lastCorrected += delta
	return withDTS(msg, j.lastCorrected)
}
