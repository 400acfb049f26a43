package httplive

import (
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

// adtsMuxer extracts AAC frames and wraps them in ADTS headers.
type adtsMuxer struct {
	w    io.Writer
	conf *mpeg4audio.Config
}

func (m *adtsMuxer) writeMetadata(*message.DataAMF0) error {
	return nil
}

func (m *adtsMuxer) writeVideo(*message.Video) error {
	return nil
}

func (m *adtsMuxer) writeAudio(msg *message.Audio) error {
	if msg.Codec() != message.CodecMPEG4Audio || len(msg.Payload) < 2 {
		return nil
	}

	if msg.IsSequenceHeader() {
		var cnf mpeg4audio.Config
		if err := cnf.Unmarshal(msg.Payload[2:]); err != nil {
			return err
		}
		m.conf = &cnf
		return nil
	}

	if m.conf == nil {
		return nil
	}

	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         m.conf.Type,
			SampleRate:   m.conf.SampleRate,
			ChannelCount: m.conf.ChannelCount,
			AU:           msg.Payload[2:],
		},
	}

	enc, err := pkts.Marshal()
	if err != nil {
		return err
	}

	_, err = m.w.Write(enc)
	return err
}

// mp3Muxer strips the FLV audio header and relays raw MP3 frames.
type mp3Muxer struct {
	w io.Writer
}

func (m *mp3Muxer) writeMetadata(*message.DataAMF0) error {
	return nil
}

func (m *mp3Muxer) writeVideo(*message.Video) error {
	return nil
}

func (m *mp3Muxer) writeAudio(msg *message.Audio) error {
	codec := msg.Codec()
	if (codec != message.CodecMP3 && codec != message.CodecMPEG1Audio) || len(msg.Payload) < 2 {
		return nil
	}

	_, err := m.w.Write(msg.Payload[1:])
	return err
}
