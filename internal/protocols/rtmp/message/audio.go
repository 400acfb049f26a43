package message

import (
	"fmt"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

const (
	// AudioChunkStreamID is the chunk stream ID that is usually used to send Audio{}
	AudioChunkStreamID = 4
)

// audio codecs
const (
	CodecMPEG1Audio = 2
	CodecLPCM       = 3
	CodecPCMA       = 7
	CodecPCMU       = 8
	CodecMPEG4Audio = 10
	CodecMP3        = 14
)

// audio rates
const (
	Rate5512  = 0
	Rate11025 = 1
	Rate22050 = 2
	Rate44100 = 3
)

// audio depths
const (
	Depth8  = 0
	Depth16 = 1
)

// AudioAACType is the AAC type of an Audio.
type AudioAACType uint8

// AudioAACType values.
const (
	AudioAACTypeConfig AudioAACType = 0
	AudioAACTypeAU     AudioAACType = 1
)

// Audio is an audio message.
// The payload is kept exactly as received, so that frames with
// unrecognized codecs are relayed unchanged.
type Audio struct {
	ChunkStreamID   uint32
	DTS             time.Duration
	MessageStreamID uint32
	Payload         []byte
}

func (m *Audio) unmarshal(raw *rawmessage.Message) error {
	m.ChunkStreamID = raw.ChunkStreamID
	m.DTS = raw.Timestamp
	m.MessageStreamID = raw.MessageStreamID

	if len(raw.Body) < 1 {
		return fmt.Errorf("invalid body size")
	}

	m.Payload = raw.Body

	return nil
}

// Codec returns the codec ID stored in the payload header.
func (m Audio) Codec() uint8 {
	return m.Payload[0] >> 4
}

// Rate returns the sample rate ID stored in the payload header.
func (m Audio) Rate() uint8 {
	return (m.Payload[0] >> 2) & 0x03
}

// Depth returns the sample depth ID stored in the payload header.
func (m Audio) Depth() uint8 {
	return (m.Payload[0] >> 1) & 0x01
}

// IsStereo reports whether the payload header declares two channels.
func (m Audio) IsStereo() bool {
	return (m.Payload[0] & 0x01) != 0
}

// IsSequenceHeader reports whether the message is an AAC sequence header.
func (m Audio) IsSequenceHeader() bool {
	return len(m.Payload) >= 2 &&
		(m.Payload[0]>>4) == CodecMPEG4Audio &&
		AudioAACType(m.Payload[1]) == AudioAACTypeConfig
}

func (m Audio) marshal() (*rawmessage.Message, error) {
	return &rawmessage.Message{
		ChunkStreamID:   m.ChunkStreamID,
		Timestamp:       m.DTS,
		Type:            uint8(TypeAudio),
		MessageStreamID: m.MessageStreamID,
		Body:            m.Payload,
	}, nil
}
