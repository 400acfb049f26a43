package httplive

import (
	"io"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

const (
	flvTagAudio  = 8
	flvTagVideo  = 9
	flvTagScript = 18
)

// flvMuxer writes FLV: a 9-byte file header, then tags framed with an
// 11-byte header and a trailing previous-tag-size.
type flvMuxer struct {
	w             io.Writer
	hasAudio      bool
	hasVideo      bool
	headerWritten bool
}

func newFLVMuxer(w io.Writer, props stream.Properties) *flvMuxer {
	hasAudio := props.AudioCodec != ""
	hasVideo := props.VideoCodec != ""

	// tracks unknown yet: declare both rather than lie about one.
	if !hasAudio && !hasVideo {
		hasAudio = true
		hasVideo = true
	}

	return &flvMuxer{
		w:        w,
		hasAudio: hasAudio,
		hasVideo: hasVideo,
	}
}

func (m *flvMuxer) writeFileHeader() error {
	var flags byte
	if m.hasAudio {
		flags |= 0x04
	}
	if m.hasVideo {
		flags |= 0x01
	}

	_, err := m.w.Write([]byte{
		'F', 'L', 'V', 0x01, flags,
		0x00, 0x00, 0x00, 0x09, // header size
		0x00, 0x00, 0x00, 0x00, // previous tag size 0
	})
	return err
}

func (m *flvMuxer) writeTag(typ byte, dts time.Duration, body []byte) error {
	if !m.headerWritten {
		m.headerWritten = true
		if err := m.writeFileHeader(); err != nil {
			return err
		}
	}

	ts := uint32(dts.Milliseconds())

	header := []byte{
		typ,
		byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body)),
		byte(ts >> 16), byte(ts >> 8), byte(ts),
		byte(ts >> 24), // extended timestamp
		0x00, 0x00, 0x00, // stream ID
	}

	if _, err := m.w.Write(header); err != nil {
		return err
	}
	if _, err := m.w.Write(body); err != nil {
		return err
	}

	prev := uint32(len(header) + len(body))
	_, err := m.w.Write([]byte{
		byte(prev >> 24), byte(prev >> 16), byte(prev >> 8), byte(prev),
	})
	return err
}

func (m *flvMuxer) writeMetadata(msg *message.DataAMF0) error {
	body, err := msg.Payload.Marshal()
	if err != nil {
		return err
	}
	return m.writeTag(flvTagScript, msg.DTS, body)
}

func (m *flvMuxer) writeAudio(msg *message.Audio) error {
	return m.writeTag(flvTagAudio, msg.DTS, msg.Payload)
}

func (m *flvMuxer) writeVideo(msg *message.Video) error {
	return m.writeTag(flvTagVideo, msg.DTS, msg.Payload)
}
