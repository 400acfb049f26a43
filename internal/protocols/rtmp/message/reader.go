package message

import (
	"errors"
	"fmt"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

var errUnsupportedMessage = errors.New("unsupported message")

func allocateMessage(raw *rawmessage.Message) (Message, error) {
	switch Type(raw.Type) {
	case TypeSetChunkSize:
		return &SetChunkSize{}, nil

	case TypeAbort:
		return &Abort{}, nil

	case TypeAcknowledge:
		return &Acknowledge{}, nil

	case TypeSetWindowAckSize:
		return &SetWindowAckSize{}, nil

	case TypeSetPeerBandwidth:
		return &SetPeerBandwidth{}, nil

	case TypeUserControl:
		if len(raw.Body) < 2 {
			return nil, fmt.Errorf("not enough bytes")
		}

		userControlType := UserControlType(uint16(raw.Body[0])<<8 | uint16(raw.Body[1]))

		switch userControlType {
		case UserControlTypeStreamBegin:
			return &UserControlStreamBegin{}, nil

		case UserControlTypeStreamEOF:
			return &UserControlStreamEOF{}, nil

		case UserControlTypeStreamDry:
			return &UserControlStreamDry{}, nil

		case UserControlTypeSetBufferLength:
			return &UserControlSetBufferLength{}, nil

		case UserControlTypeStreamIsRecorded:
			return &UserControlStreamIsRecorded{}, nil

		case UserControlTypePingRequest:
			return &UserControlPingRequest{}, nil

		case UserControlTypePingResponse:
			return &UserControlPingResponse{}, nil

		case UserControlTypeFMSEvent:
			return &UserControlFMSEvent{}, nil

		default:
			return nil, errUnsupportedMessage
		}

	case TypeCommandAMF0:
		return &CommandAMF0{}, nil

	case TypeCommandAMF3:
		return &CommandAMF3{}, nil

	case TypeDataAMF0:
		return &DataAMF0{}, nil

	case TypeDataAMF3:
		return &DataAMF3{}, nil

	case TypeAudio:
		return &Audio{}, nil

	case TypeVideo:
		return &Video{}, nil

	case TypeAggregate:
		return &Aggregate{}, nil

	default:
		return nil, errUnsupportedMessage
	}
}

// Reader is a message reader.
type Reader struct {
	r *rawmessage.Reader
}

// NewReader allocates a Reader.
func NewReader(
	br *readbuffer.Buffer,
	bcr *bytecounter.Reader,
	onAckNeeded func(uint32) error,
) *Reader {
	return &Reader{
		r: rawmessage.NewReader(br, bcr, onAckNeeded),
	}
}

// SetWindowAckSize sets the window acknowledgement size of incoming data.
func (r *Reader) SetWindowAckSize(v uint32) {
	r.r.SetWindowAckSize(v)
}

// Read reads a Message.
// Messages of unrecognized types are discarded, since they carry
// nothing a relay has to act upon.
func (r *Reader) Read() (Message, error) {
	for {
		raw, err := r.r.Read()
		if err != nil {
			return nil, err
		}

		msg, err := allocateMessage(raw)
		if err != nil {
			if errors.Is(err, errUnsupportedMessage) {
				continue
			}
			return nil, err
		}

		err = msg.unmarshal(raw)
		if err != nil {
			return nil, err
		}

		switch tmsg := msg.(type) {
		case *SetChunkSize:
			err = r.r.SetChunkSize(tmsg.Value)
			if err != nil {
				return nil, err
			}

		case *SetWindowAckSize:
			r.r.SetWindowAckSize(tmsg.Value)

		case *Abort:
			r.r.Abort(tmsg.ChunkStreamID)
			continue
		}

		return msg, nil
	}
}
