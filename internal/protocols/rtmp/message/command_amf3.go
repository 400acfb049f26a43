package message

import (
	"fmt"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

// CommandAMF3 is an AMF3 command message.
// Encoders produce these with a one-byte format prefix followed by
// AMF0-encoded values.
type CommandAMF3 struct {
	ChunkStreamID   uint32
	MessageStreamID uint32
	Name            string
	CommandID       int
	Arguments       amf0.Data
}

func (m *CommandAMF3) unmarshal(raw *rawmessage.Message) error {
	m.ChunkStreamID = raw.ChunkStreamID
	m.MessageStreamID = raw.MessageStreamID

	if len(raw.Body) < 1 {
		return fmt.Errorf("invalid body size")
	}

	payload, err := amf0.Unmarshal(raw.Body[1:])
	if err != nil {
		return err
	}

	if len(payload) < 2 {
		return fmt.Errorf("invalid command payload")
	}

	var ok bool
	m.Name, ok = payload[0].(string)
	if !ok {
		return fmt.Errorf("invalid command name")
	}

	tmp, ok := payload[1].(float64)
	if !ok {
		return fmt.Errorf("invalid command ID")
	}
	m.CommandID = int(tmp)

	m.Arguments = payload[2:]

	return nil
}

func (m CommandAMF3) marshal() (*rawmessage.Message, error) {
	payload := append(amf0.Data{m.Name, float64(m.CommandID)}, m.Arguments...)

	encoded, err := payload.Marshal()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 1+len(encoded))
	copy(body[1:], encoded)

	return &rawmessage.Message{
		ChunkStreamID:   m.ChunkStreamID,
		Type:            uint8(TypeCommandAMF3),
		MessageStreamID: m.MessageStreamID,
		Body:            body,
	}, nil
}
