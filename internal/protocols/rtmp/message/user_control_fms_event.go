package message

import (
	"fmt"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

// UserControlFMSEvent is a user control message.
// It is sent by Flash Media Server with a single data byte and is
// accepted for compatibility.
type UserControlFMSEvent struct {
	Payload uint8
}

func (m *UserControlFMSEvent) unmarshal(raw *rawmessage.Message) error {
	if raw.ChunkStreamID != ControlChunkStreamID {
		return fmt.Errorf("unexpected chunk stream ID")
	}

	if len(raw.Body) != 3 {
		return fmt.Errorf("invalid body size")
	}

	m.Payload = raw.Body[2]

	return nil
}

func (m UserControlFMSEvent) marshal() (*rawmessage.Message, error) {
	buf := make([]byte, 3)

	buf[0] = byte(UserControlTypeFMSEvent >> 8)
	buf[1] = byte(UserControlTypeFMSEvent)
	buf[2] = m.Payload

	return &rawmessage.Message{
		ChunkStreamID: ControlChunkStreamID,
		Type:          uint8(TypeUserControl),
		Body:          buf,
	}, nil
}
