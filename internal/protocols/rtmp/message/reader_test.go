package message

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

func readerFor(buf *bytes.Buffer) *Reader {
	bcr := bytecounter.NewReader(buf)
	br := &readbuffer.Buffer{Reader: bcr}
	br.Initialize()
	return NewReader(br, bcr, nil)
}

var readWriteCases = []struct {
	name string
	dec  Message
	enc  *rawmessage.Message
}{
	{
		"acknowledge",
		&Acknowledge{
			Value: 45953968,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeAcknowledge),
			Body:          []byte{0x02, 0xbd, 0x33, 0xb0},
		},
	},
	{
		"abort",
		&Abort{
			ChunkStreamID: 27,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeAbort),
			Body:          []byte{0x00, 0x00, 0x00, 0x1b},
		},
	},
	{
		"set chunk size",
		&SetChunkSize{
			Value: 65536,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeSetChunkSize),
			Body:          []byte{0x00, 0x01, 0x00, 0x00},
		},
	},
	{
		"set window ack size",
		&SetWindowAckSize{
			Value: 2500000,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeSetWindowAckSize),
			Body:          []byte{0x00, 0x26, 0x25, 0xa0},
		},
	},
	{
		"set peer bandwidth",
		&SetPeerBandwidth{
			Value: 2500000,
			Type:  2,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeSetPeerBandwidth),
			Body:          []byte{0x00, 0x26, 0x25, 0xa0, 0x02},
		},
	},
	{
		"user control stream begin",
		&UserControlStreamBegin{
			StreamID: 1,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		},
	},
	{
		"user control stream eof",
		&UserControlStreamEOF{
			StreamID: 1,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x01},
		},
	},
	{
		"user control stream dry",
		&UserControlStreamDry{
			StreamID: 1,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x01},
		},
	},
	{
		"user control set buffer length",
		&UserControlSetBufferLength{
			StreamID:     1,
			BufferLength: 3000,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x0b, 0xb8},
		},
	},
	{
		"user control stream is recorded",
		&UserControlStreamIsRecorded{
			StreamID: 1,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x01},
		},
	},
	{
		"user control ping request",
		&UserControlPingRequest{
			ServerTime: 5374,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x06, 0x00, 0x00, 0x14, 0xfe},
		},
	},
	{
		"user control ping response",
		&UserControlPingResponse{
			ServerTime: 5374,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x07, 0x00, 0x00, 0x14, 0xfe},
		},
	},
	{
		"user control fms event",
		&UserControlFMSEvent{
			Payload: 0,
		},
		&rawmessage.Message{
			ChunkStreamID: ControlChunkStreamID,
			Type:          uint8(TypeUserControl),
			Body:          []byte{0x00, 0x1a, 0x00},
		},
	},
	{
		"audio",
		&Audio{
			ChunkStreamID:   AudioChunkStreamID,
			DTS:             6013 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Payload:         []byte{0xaf, 0x01, 0x01, 0x02, 0x03},
		},
		&rawmessage.Message{
			ChunkStreamID:   AudioChunkStreamID,
			Timestamp:       6013 * time.Millisecond,
			Type:            uint8(TypeAudio),
			MessageStreamID: 0x1000000,
			Body:            []byte{0xaf, 0x01, 0x01, 0x02, 0x03},
		},
	},
	{
		"video",
		&Video{
			ChunkStreamID:   VideoChunkStreamID,
			DTS:             6013 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Payload:         []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa, 0xbb},
		},
		&rawmessage.Message{
			ChunkStreamID:   VideoChunkStreamID,
			Timestamp:       6013 * time.Millisecond,
			Type:            uint8(TypeVideo),
			MessageStreamID: 0x1000000,
			Body:            []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa, 0xbb},
		},
	},
	{
		"data amf0",
		&DataAMF0{
			ChunkStreamID:   4,
			MessageStreamID: 0x1000000,
			Payload: amf0.Data{
				"onMetaData",
				amf0.ECMAArray{
					{Key: "width", Value: float64(1280)},
				},
			},
		},
		&rawmessage.Message{
			ChunkStreamID:   4,
			Type:            uint8(TypeDataAMF0),
			MessageStreamID: 0x1000000,
			Body: []byte{
				0x02, 0x00, 0x0a, 0x6f, 0x6e, 0x4d, 0x65, 0x74,
				0x61, 0x44, 0x61, 0x74, 0x61, 0x08, 0x00, 0x00,
				0x00, 0x01, 0x00, 0x05, 0x77, 0x69, 0x64, 0x74,
				0x68, 0x00, 0x40, 0x94, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x09,
			},
		},
	},
	{
		"data amf3",
		&DataAMF3{
			ChunkStreamID:   4,
			MessageStreamID: 0x1000000,
			Payload: amf0.Data{
				"onTextData",
				float64(5),
			},
		},
		&rawmessage.Message{
			ChunkStreamID:   4,
			Type:            uint8(TypeDataAMF3),
			MessageStreamID: 0x1000000,
			Body: []byte{
				0x00,
				0x02, 0x00, 0x0a, 0x6f, 0x6e, 0x54, 0x65, 0x78,
				0x74, 0x44, 0x61, 0x74, 0x61, 0x00, 0x40, 0x14,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
	},
	{
		"command amf0",
		&CommandAMF0{
			ChunkStreamID:   3,
			MessageStreamID: 0,
			Name:            "connect",
			CommandID:       1,
			Arguments: amf0.Data{
				amf0.Object{
					{Key: "app", Value: "live"},
				},
			},
		},
		&rawmessage.Message{
			ChunkStreamID: 3,
			Type:          uint8(TypeCommandAMF0),
			Body: []byte{
				0x02, 0x00, 0x07, 0x63, 0x6f, 0x6e, 0x6e, 0x65,
				0x63, 0x74, 0x00, 0x3f, 0xf0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x03, 0x00, 0x03, 0x61, 0x70,
				0x70, 0x02, 0x00, 0x04, 0x6c, 0x69, 0x76, 0x65,
				0x00, 0x00, 0x09,
			},
		},
	},
	{
		"command amf3",
		&CommandAMF3{
			ChunkStreamID:   3,
			MessageStreamID: 0,
			Name:            "close",
			CommandID:       3,
			Arguments:       amf0.Data{},
		},
		&rawmessage.Message{
			ChunkStreamID: 3,
			Type:          uint8(TypeCommandAMF3),
			Body: []byte{
				0x00,
				0x02, 0x00, 0x05, 0x63, 0x6c, 0x6f, 0x73, 0x65,
				0x00, 0x40, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00,
			},
		},
	},
	{
		"aggregate",
		&Aggregate{
			ChunkStreamID:   VideoChunkStreamID,
			DTS:             45 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Body: []byte{
				0x08, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0xaf, 0x01, 0x01, 0x02, 0x03,
				0x00, 0x00, 0x00, 0x10,
			},
		},
		&rawmessage.Message{
			ChunkStreamID:   VideoChunkStreamID,
			Timestamp:       45 * time.Millisecond,
			Type:            uint8(TypeAggregate),
			MessageStreamID: 0x1000000,
			Body: []byte{
				0x08, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0xaf, 0x01, 0x01, 0x02, 0x03,
				0x00, 0x00, 0x00, 0x10,
			},
		},
	},
}

func TestReader(t *testing.T) {
	for _, ca := range readWriteCases {
		// aborts are consumed internally, covered below
		if _, ok := ca.dec.(*Abort); ok {
			continue
		}

		t.Run(ca.name, func(t *testing.T) {
			var buf bytes.Buffer
			rw := rawmessage.NewWriter(&buf, bytecounter.NewWriter(&buf), false)
			err := rw.Write(ca.enc)
			require.NoError(t, err)
			err = rw.Flush()
			require.NoError(t, err)

			r := readerFor(&buf)
			msg, err := r.Read()
			require.NoError(t, err)
			require.Equal(t, ca.dec, msg)
		})
	}
}

func TestReaderAppliesChunkSize(t *testing.T) {
	var buf bytes.Buffer
	rw := rawmessage.NewWriter(&buf, bytecounter.NewWriter(&buf), false)

	err := rw.Write(&rawmessage.Message{
		ChunkStreamID: ControlChunkStreamID,
		Type:          uint8(TypeSetChunkSize),
		Body:          []byte{0x00, 0x00, 0x02, 0x00},
	})
	require.NoError(t, err)

	rw.SetChunkSize(512)

	body := bytes.Repeat([]byte{0x05}, 400)
	err = rw.Write(&rawmessage.Message{
		ChunkStreamID:   AudioChunkStreamID,
		Type:            uint8(TypeAudio),
		MessageStreamID: 0x1000000,
		Body:            body,
	})
	require.NoError(t, err)
	err = rw.Flush()
	require.NoError(t, err)

	r := readerFor(&buf)

	msg, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, &SetChunkSize{Value: 512}, msg)

	msg, err = r.Read()
	require.NoError(t, err)
	require.Equal(t, &Audio{
		ChunkStreamID:   AudioChunkStreamID,
		MessageStreamID: 0x1000000,
		Payload:         body,
	}, msg)
}

func TestReaderSkipsUnsupported(t *testing.T) {
	var buf bytes.Buffer
	rw := rawmessage.NewWriter(&buf, bytecounter.NewWriter(&buf), false)

	// shared object message, not handled by a relay
	err := rw.Write(&rawmessage.Message{
		ChunkStreamID:   5,
		Type:            19,
		MessageStreamID: 0x1000000,
		Body:            []byte{0x01, 0x02, 0x03},
	})
	require.NoError(t, err)

	err = rw.Write(&rawmessage.Message{
		ChunkStreamID: ControlChunkStreamID,
		Type:          uint8(TypeAcknowledge),
		Body:          []byte{0x00, 0x00, 0x01, 0x00},
	})
	require.NoError(t, err)
	err = rw.Flush()
	require.NoError(t, err)

	r := readerFor(&buf)
	msg, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, &Acknowledge{Value: 256}, msg)
}

func TestReaderAppliesAbort(t *testing.T) {
	var buf bytes.Buffer
	rw := rawmessage.NewWriter(&buf, bytecounter.NewWriter(&buf), false)

	err := rw.Write(&rawmessage.Message{
		ChunkStreamID: ControlChunkStreamID,
		Type:          uint8(TypeAbort),
		Body:          []byte{0x00, 0x00, 0x00, 0x1b},
	})
	require.NoError(t, err)

	err = rw.Write(&rawmessage.Message{
		ChunkStreamID: ControlChunkStreamID,
		Type:          uint8(TypeAcknowledge),
		Body:          []byte{0x00, 0x00, 0x01, 0x00},
	})
	require.NoError(t, err)
	err = rw.Flush()
	require.NoError(t, err)

	r := readerFor(&buf)

	// the abort is consumed internally, the next message surfaces
	msg, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, &Acknowledge{Value: 256}, msg)
}

func TestAggregateSplit(t *testing.T) {
	agg := Aggregate{
		ChunkStreamID:   VideoChunkStreamID,
		DTS:             10000 * time.Millisecond,
		MessageStreamID: 0x1000000,
		Body: []byte{
			// video key frame at ts 100
			0x09, 0x00, 0x00, 0x02, 0x00, 0x00, 0x64, 0x00,
			0x00, 0x00, 0x00,
			0x17, 0x01,
			0x00, 0x00, 0x00, 0x0d,
			// audio frame at ts 121
			0x08, 0x00, 0x00, 0x03, 0x00, 0x00, 0x79, 0x00,
			0x00, 0x00, 0x00,
			0xaf, 0x01, 0x05,
			0x00, 0x00, 0x00, 0x0e,
			// truncated trailing frame, dropped
			0x09, 0x00, 0x00, 0xff, 0x00, 0x00, 0x80, 0x00,
			0x00, 0x00, 0x00,
			0x17,
		},
	}

	msgs := agg.Split()
	require.Equal(t, []Message{
		&Video{
			ChunkStreamID:   VideoChunkStreamID,
			DTS:             10000 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Payload:         []byte{0x17, 0x01},
		},
		&Audio{
			ChunkStreamID:   VideoChunkStreamID,
			DTS:             10021 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Payload:         []byte{0xaf, 0x01, 0x05},
		},
	}, msgs)
}

func TestAggregateSplitSkipsOtherTypes(t *testing.T) {
	agg := Aggregate{
		ChunkStreamID:   VideoChunkStreamID,
		DTS:             0,
		MessageStreamID: 0x1000000,
		Body: []byte{
			// data message, not relayed through aggregates
			0x12, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00,
			0x01, 0x02,
			0x00, 0x00, 0x00, 0x0d,
			// audio frame at ts 10
			0x08, 0x00, 0x00, 0x02, 0x00, 0x00, 0x0a, 0x00,
			0x00, 0x00, 0x00,
			0xaf, 0x01,
			0x00, 0x00, 0x00, 0x0d,
		},
	}

	msgs := agg.Split()
	require.Equal(t, []Message{
		&Audio{
			ChunkStreamID:   VideoChunkStreamID,
			DTS:             10 * time.Millisecond,
			MessageStreamID: 0x1000000,
			Payload:         []byte{0xaf, 0x01},
		},
	}, msgs)
}
