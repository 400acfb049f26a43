package stream

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/h264conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

// Properties are the codec parameters of a source, extracted from the
// cached sequence headers and metadata.
type Properties struct {
	VideoCodec string
	Width      int
	Height     int
	FPS        float64
	AudioCodec string
	SampleRate int
	Channels   int
}

var audioSampleRates = map[uint8]int{
	message.Rate5512:  5512,
	message.Rate11025: 11025,
	message.Rate22050: 22050,
	message.Rate44100: 44100,
}

func audioCodecName(codec uint8) string {
	switch codec {
	case message.CodecMPEG4Audio:
		return "AAC"
	case message.CodecMP3, message.CodecMPEG1Audio:
		return "MP3"
	case message.CodecLPCM:
		return "LPCM"
	case message.CodecPCMA:
		return "G711A"
	case message.CodecPCMU:
		return "G711U"
	}
	return ""
}

// Properties returns the current codec parameters.
func (s *Source) Properties() Properties {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p Properties

	if s.videoSH != nil {
		if s.videoSH.Codec() == message.CodecH264 {
			p.VideoCodec = "H264"
		}

		if len(s.videoSH.Payload) > 5 {
			var conf h264conf.Conf
			if err := conf.Unmarshal(s.videoSH.Payload[5:]); err == nil {
				var sps h264.SPS
				if err := sps.Unmarshal(conf.SPS); err == nil {
					p.Width = sps.Width()
					p.Height = sps.Height()
					p.FPS = sps.FPS()
				}
			}
		}
	}

	if s.audioSH != nil {
		p.AudioCodec = audioCodecName(s.audioSH.Codec())
		p.SampleRate = audioSampleRates[s.audioSH.Rate()]
		p.Channels = 1
		if s.audioSH.IsStereo() {
			p.Channels = 2
		}

		if s.audioSH.Codec() == message.CodecMPEG4Audio && len(s.audioSH.Payload) > 2 {
			var mpegConf mpeg4audio.Config
			if err := mpegConf.Unmarshal(s.audioSH.Payload[2:]); err == nil {
				p.SampleRate = mpegConf.SampleRate
				p.Channels = mpegConf.ChannelCount
			}
		}
	}

	// the metadata fills whatever the sequence headers could not provide.
	if s.meta != nil {
		if metadata, ok := metadataObject(s.meta.Payload); ok {
			if p.Width == 0 {
				if v, ok := metadata.GetFloat64("width"); ok {
					p.Width = int(v)
				}
			}
			if p.Height == 0 {
				if v, ok := metadata.GetFloat64("height"); ok {
					p.Height = int(v)
				}
			}
			if p.FPS == 0 {
				if v, ok := metadata.GetFloat64("framerate"); ok {
					p.FPS = v
				}
			}
		}
	}

	return p
}
