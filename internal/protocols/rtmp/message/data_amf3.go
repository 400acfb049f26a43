package message

import (
	"fmt"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

// DataAMF3 is an AMF3 data message.
// Encoders produce these with a one-byte format prefix followed by
// AMF0-encoded values.
type DataAMF3 struct {
	ChunkStreamID   uint32
	DTS             time.Duration
	MessageStreamID uint32
	Payload         amf0.Data
}

func (m *DataAMF3) unmarshal(raw *rawmessage.Message) error {
	m.ChunkStreamID = raw.ChunkStreamID
	m.DTS = raw.Timestamp
	m.MessageStreamID = raw.MessageStreamID

	if len(raw.Body) < 1 {
		return fmt.Errorf("invalid body size")
	}

	payload, err := amf0.Unmarshal(raw.Body[1:])
	if err != nil {
		return err
	}
	m.Payload = payload

	return nil
}

func (m DataAMF3) marshal() (*rawmessage.Message, error) {
	encoded, err := m.Payload.Marshal()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 1+len(encoded))
	copy(body[1:], encoded)

	return &rawmessage.Message{
		ChunkStreamID:   m.ChunkStreamID,
		Timestamp:       m.DTS,
		Type:            uint8(TypeDataAMF3),
		MessageStreamID: m.MessageStreamID,
		Body:            body,
	}, nil
}
