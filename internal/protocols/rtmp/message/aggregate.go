package message

import (
	"fmt"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

// Aggregate is an aggregate message.
// It packs a series of audio and video messages in FLV tag format.
type Aggregate struct {
	ChunkStreamID   uint32
	DTS             time.Duration
	MessageStreamID uint32
	Body            []byte
}

func (m *Aggregate) unmarshal(raw *rawmessage.Message) error {
	m.ChunkStreamID = raw.ChunkStreamID
	m.DTS = raw.Timestamp
	m.MessageStreamID = raw.MessageStreamID

	if len(raw.Body) < 1 {
		return fmt.Errorf("invalid body size")
	}

	m.Body = raw.Body

	return nil
}

// Split decomposes the aggregate into the audio and video messages it contains.
// Sub-message timestamps are shifted so that the first one matches the
// aggregate timestamp, and the message stream ID of the aggregate overrides
// the one of each sub-message. A truncated trailing sub-message is discarded.
func (m Aggregate) Split() []Message {
	var msgs []Message
	body := m.Body
	base := int64(m.DTS / time.Millisecond)
	var delta int64
	deltaAvailable := false

	for len(body) >= 11 {
		typ := body[0]
		size := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
		ts := uint32(body[4])<<16 | uint32(body[5])<<8 | uint32(body[6]) | uint32(body[7])<<24
		ts &= 0x7FFFFFFF
		body = body[11:]

		// payload plus the back pointer
		if len(body) < (size + 4) {
			break
		}
		payload := body[:size]
		body = body[size+4:]

		if !deltaAvailable {
			delta = base - int64(ts)
			deltaAvailable = true
		}
		dts := time.Duration((int64(ts)+delta)&0x7FFFFFFF) * time.Millisecond

		if size == 0 {
			continue
		}

		switch Type(typ) {
		case TypeAudio:
			msgs = append(msgs, &Audio{
				ChunkStreamID:   m.ChunkStreamID,
				DTS:             dts,
				MessageStreamID: m.MessageStreamID,
				Payload:         payload,
			})

		case TypeVideo:
			msgs = append(msgs, &Video{
				ChunkStreamID:   m.ChunkStreamID,
				DTS:             dts,
				MessageStreamID: m.MessageStreamID,
				Payload:         payload,
			})
		}
	}

	return msgs
}

func (m Aggregate) marshal() (*rawmessage.Message, error) {
	return &rawmessage.Message{
		ChunkStreamID:   m.ChunkStreamID,
		Timestamp:       m.DTS,
		Type:            uint8(TypeAggregate),
		MessageStreamID: m.MessageStreamID,
		Body:            m.Body,
	}, nil
}
