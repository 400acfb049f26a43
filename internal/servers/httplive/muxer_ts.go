package httplive

import (
	"context"
	"io"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/h264conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

const (
	tsVideoPID = 256
	tsAudioPID = 257

	// offset between PCR and PTS/DTS, to give decoders some headroom.
	tsPCROffset = 400 * time.Millisecond
)

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

// tsMuxer writes MPEG-TS with H264 and AAC elementary streams.
type tsMuxer struct {
	hasVideo bool

	inner      *astits.Muxer
	sps        []byte
	pps        []byte
	audioConf  *mpeg4audio.Config
	pcrCounter int
}

func newTSMuxer(w io.Writer, props stream.Properties) *tsMuxer {
	hasVideo := props.VideoCodec != ""
	hasAudio := props.AudioCodec == "AAC"

	if !hasVideo && !hasAudio {
		hasVideo = true
		hasAudio = true
	}

	m := &tsMuxer{
		hasVideo: hasVideo,
	}

	m.inner = astits.NewMuxer(context.Background(), writerFunc(w.Write))

	if hasVideo {
		m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: tsVideoPID,
			StreamType:    astits.StreamTypeH264Video,
		})
	}

	if hasAudio {
		m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: tsAudioPID,
			StreamType:    astits.StreamTypeAACAudio,
		})
	}

	if hasVideo {
		m.inner.SetPCRPID(tsVideoPID)
	} else {
		m.inner.SetPCRPID(tsAudioPID)
	}

	// the tables are emitted automatically on the first write to the
	// PCR PID with a random access indicator.

	return m
}

// compositionTime decodes the signed 24-bit PTS-DTS offset of an AVC
// video payload.
func compositionTime(payload []byte) time.Duration {
	cts := uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
	if (cts & 0x800000) != 0 {
		cts |= 0xFF000000
	}
	return time.Duration(int32(cts)) * time.Millisecond
}

func (m *tsMuxer) writeMetadata(*message.DataAMF0) error {
	return nil
}

func (m *tsMuxer) writeVideo(msg *message.Video) error {
	if msg.Codec() != message.CodecH264 || len(msg.Payload) < 5 {
		return nil
	}

	if msg.IsSequenceHeader() {
		var cnf h264conf.Conf
		if err := cnf.Unmarshal(msg.Payload[5:]); err != nil {
			return err
		}
		m.sps = cnf.SPS
		m.pps = cnf.PPS
		return nil
	}

	var avcc h264.AVCC
	err := avcc.Unmarshal(msg.Payload[5:])
	if err != nil {
		return err
	}

	// prepend an AUD; decoders use it to delimit access units.
	nalus := [][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}

	idr := msg.IsKeyFrame()
	if idr && m.sps != nil && m.pps != nil {
		nalus = append(nalus, m.sps, m.pps)
	}
	nalus = append(nalus, avcc...)

	enc, err := h264.AnnexB(nalus).Marshal()
	if err != nil {
		return err
	}

	var af *astits.PacketAdaptationField

	if idr {
		af = &astits.PacketAdaptationField{}
		af.RandomAccessIndicator = true
	}

	if m.pcrCounter == 0 {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = &astits.ClockReference{Base: int64(msg.DTS.Seconds() * 90000)}
		m.pcrCounter = 3
	}
	m.pcrCounter--

	dts := msg.DTS + tsPCROffset
	pts := dts + compositionTime(msg.Payload)

	oh := &astits.PESOptionalHeader{
		MarkerBits: 2,
	}

	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: int64(pts.Seconds() * 90000)}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: int64(dts.Seconds() * 90000)}
		oh.PTS = &astits.ClockReference{Base: int64(pts.Seconds() * 90000)}
	}

	_, err = m.inner.WriteData(&astits.MuxerData{
		PID:             tsVideoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       224, // video
			},
			Data: enc,
		},
	})
	return err
}

func (m *tsMuxer) writeAudio(msg *message.Audio) error {
	if msg.Codec() != message.CodecMPEG4Audio || len(msg.Payload) < 2 {
		return nil
	}

	if msg.IsSequenceHeader() {
		var cnf mpeg4audio.Config
		if err := cnf.Unmarshal(msg.Payload[2:]); err != nil {
			return err
		}
		m.audioConf = &cnf
		return nil
	}

	if m.audioConf == nil {
		return nil
	}

	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         m.audioConf.Type,
			SampleRate:   m.audioConf.SampleRate,
			ChannelCount: m.audioConf.ChannelCount,
			AU:           msg.Payload[2:],
		},
	}

	enc, err := pkts.Marshal()
	if err != nil {
		return err
	}

	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: true,
	}

	if !m.hasVideo {
		if m.pcrCounter == 0 {
			af.HasPCR = true
			af.PCR = &astits.ClockReference{Base: int64(msg.DTS.Seconds() * 90000)}
			m.pcrCounter = 3
		}
		m.pcrCounter--
	}

	pts := msg.DTS + tsPCROffset

	_, err = m.inner.WriteData(&astits.MuxerData{
		PID:             tsAudioPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: int64(pts.Seconds() * 90000)},
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     192, // audio
			},
			Data: enc,
		},
	})
	return err
}
