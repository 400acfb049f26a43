package stream

import (
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

// when more than this number of consecutive audio messages arrive after the
// last video one, the stream is assumed to have become pure audio and the
// cache is dropped.
const pureAudioGuessCount = 115

// gopCache retains the messages received since the last video key frame,
// so that new consumers can start decoding without waiting for the next one.
// Sequence headers are kept aside by the source and never enter the cache.
type gopCache struct {
	enabled bool

	msgs             []message.Message
	videoCount       int
	audiosAfterVideo int
}

func (gc *gopCache) cache(msg message.Message) {
	if !gc.enabled {
		return
	}

	video, isVideo := msg.(*message.Video)
	if isVideo {
		gc.videoCount++
		gc.audiosAfterVideo = 0
	}

	// audio arriving before any video is never cached.
	if gc.videoCount == 0 {
		return
	}

	if !isVideo {
		gc.audiosAfterVideo++
		if gc.audiosAfterVideo > pureAudioGuessCount {
			gc.clear()
			return
		}
	}

	if isVideo && video.IsKeyFrame() {
		gc.clear()
		gc.videoCount = 1
	}

	gc.msgs = append(gc.msgs, msg)
}

func (gc *gopCache) dump(c *Consumer) {
	for _, msg := range gc.msgs {
		c.enqueue(msg)
	}
}

func (gc *gopCache) clear() {
	gc.msgs = nil
	gc.videoCount = 0
	gc.audiosAfterVideo = 0
}

func (gc *gopCache) empty() bool {
	return len(gc.msgs) == 0
}
