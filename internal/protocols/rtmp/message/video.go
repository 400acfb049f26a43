package message

import (
	"fmt"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

const (
	// VideoChunkStreamID is the chunk stream ID that is usually used to send Video{}
	VideoChunkStreamID = 6
)

// video codecs
const (
	CodecH264 = 7
)

// video frame types
const (
	VideoFrameTypeKey   = 1
	VideoFrameTypeInter = 2
)

// VideoType is the AVC packet type of a Video.
type VideoType uint8

// VideoType values.
const (
	VideoTypeConfig VideoType = 0
	VideoTypeAU     VideoType = 1
	VideoTypeEOS    VideoType = 2
)

// Video is a video message.
// The payload is kept exactly as received, so that frames with
// unrecognized codecs are relayed unchanged.
type Video struct {
	ChunkStreamID   uint32
	DTS             time.Duration
	MessageStreamID uint32
	Payload         []byte
}

func (m *Video) unmarshal(raw *rawmessage.Message) error {
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
func (m Video) Codec() uint8 {
	return m.Payload[0] & 0x0F
}

// FrameType returns the frame type stored in the payload header.
func (m Video) FrameType() uint8 {
	return (m.Payload[0] >> 4) & 0x07
}

// IsKeyFrame reports whether the message carries a key frame.
func (m Video) IsKeyFrame() bool {
	return m.FrameType() == VideoFrameTypeKey
}

// IsInterFrame reports whether the message carries an inter frame.
func (m Video) IsInterFrame() bool {
	return m.FrameType() == VideoFrameTypeInter
}

// IsSequenceHeader reports whether the message is an AVC sequence header.
func (m Video) IsSequenceHeader() bool {
	return len(m.Payload) >= 2 &&
		m.IsKeyFrame() &&
		(m.Payload[0]&0x0F) == CodecH264 &&
		VideoType(m.Payload[1]) == VideoTypeConfig
}

func (m Video) marshal() (*rawmessage.Message, error) {
	return &rawmessage.Message{
		ChunkStreamID:   m.ChunkStreamID,
		Timestamp:       m.DTS,
		Type:            uint8(TypeVideo),
		MessageStreamID: m.MessageStreamID,
		Body:            m.Payload,
	}, nil
}
