package httplive

import (
	"bytes"
	"errors"
	"io"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

var errClientGone = errors.New("client disconnected")

// muxer converts live messages into container bytes.
type muxer interface {
	writeMetadata(msg *message.DataAMF0) error
	writeAudio(msg *message.Audio) error
	writeVideo(msg *message.Video) error
}

func newMuxer(ext string, w io.Writer, props stream.Properties) muxer {
	switch ext {
	case "ts":
		return newTSMuxer(w, props)

	case "aac":
		return &adtsMuxer{w: w}

	case "mp3":
		return &mp3Muxer{w: w}

	default:
		return newFLVMuxer(w, props)
	}
}

// batchWriter accumulates container bytes so that each consumer batch
// reaches the response writer as a single write.
type batchWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func (b *batchWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func (b *batchWriter) flush() (int, error) {
	if b.buf.Len() == 0 {
		return 0, nil
	}

	n, err := b.w.Write(b.buf.Bytes())
	b.buf.Reset()
	return n, err
}
