package rawmessage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/chunk"
)

var writeCases = []struct {
	name     string
	message  *Message
	chunks   []chunk.Chunk
	extended []bool
}{
	{
		"single chunk",
		&Message{
			ChunkStreamID:   27,
			Timestamp:       18576 * time.Millisecond,
			Type:            6,
			MessageStreamID: 3123,
			Body:            bytes.Repeat([]byte{0x03}, 64),
		},
		[]chunk.Chunk{
			&chunk.Chunk0{
				ChunkStreamID:   27,
				Timestamp:       18576,
				Type:            6,
				MessageStreamID: 3123,
				BodyLen:         64,
				Body:            bytes.Repeat([]byte{0x03}, 64),
			},
		},
		[]bool{false},
	},
	{
		"splitted message",
		&Message{
			ChunkStreamID:   27,
			Timestamp:       18576 * time.Millisecond,
			Type:            6,
			MessageStreamID: 3123,
			Body:            bytes.Repeat([]byte{0x03}, 190),
		},
		[]chunk.Chunk{
			&chunk.Chunk0{
				ChunkStreamID:   27,
				Timestamp:       18576,
				Type:            6,
				MessageStreamID: 3123,
				BodyLen:         190,
				Body:            bytes.Repeat([]byte{0x03}, 128),
			},
			&chunk.Chunk3{
				ChunkStreamID: 27,
				Body:          bytes.Repeat([]byte{0x03}, 62),
			},
		},
		[]bool{false, false},
	},
	{
		"extended timestamp is repeated",
		&Message{
			ChunkStreamID:   27,
			Timestamp:       0x7F123456 * time.Millisecond,
			Type:            6,
			MessageStreamID: 3123,
			Body:            bytes.Repeat([]byte{5}, 160),
		},
		[]chunk.Chunk{
			&chunk.Chunk0{
				ChunkStreamID:   27,
				Timestamp:       0x7F123456,
				Type:            6,
				MessageStreamID: 3123,
				BodyLen:         160,
				Body:            bytes.Repeat([]byte{5}, 128),
			},
			&chunk.Chunk3{
				ChunkStreamID: 27,
				Timestamp:     0x7F123456,
				Body:          bytes.Repeat([]byte{5}, 32),
			},
		},
		[]bool{false, true},
	},
	{
		"timestamp is masked to 31 bits",
		&Message{
			ChunkStreamID:   27,
			Timestamp:       0xFF123456 * time.Millisecond,
			Type:            6,
			MessageStreamID: 3123,
			Body:            bytes.Repeat([]byte{5}, 64),
		},
		[]chunk.Chunk{
			&chunk.Chunk0{
				ChunkStreamID:   27,
				Timestamp:       0x7F123456,
				Type:            6,
				MessageStreamID: 3123,
				BodyLen:         64,
				Body:            bytes.Repeat([]byte{5}, 64),
			},
		},
		[]bool{false},
	},
}

func TestWriter(t *testing.T) {
	for _, ca := range writeCases {
		t.Run(ca.name, func(t *testing.T) {
			var buf bytes.Buffer
			bcw := bytecounter.NewWriter(&buf)
			w := NewWriter(&buf, bcw, true)

			err := w.Write(ca.message)
			require.NoError(t, err)

			err = w.Flush()
			require.NoError(t, err)

			var expected bytes.Buffer
			for i, cach := range ca.chunks {
				buf2, err := cach.Marshal(ca.extended[i])
				require.NoError(t, err)
				expected.Write(buf2)
			}

			require.Equal(t, expected.Bytes(), buf.Bytes())
			require.Equal(t, uint64(expected.Len()), bcw.Count())
		})
	}
}

func TestWriterChunkSize(t *testing.T) {
	var buf bytes.Buffer
	bcw := bytecounter.NewWriter(&buf)
	w := NewWriter(&buf, bcw, true)
	w.SetChunkSize(65536)

	err := w.Write(&Message{
		ChunkStreamID:   4,
		Timestamp:       0,
		Type:            9,
		MessageStreamID: 0x1000000,
		Body:            bytes.Repeat([]byte{5}, 1000),
	})
	require.NoError(t, err)

	err = w.Flush()
	require.NoError(t, err)

	expected, err := chunk.Chunk0{
		ChunkStreamID:   4,
		Type:            9,
		MessageStreamID: 0x1000000,
		BodyLen:         1000,
		Body:            bytes.Repeat([]byte{5}, 1000),
	}.Marshal(false)
	require.NoError(t, err)

	require.Equal(t, expected, buf.Bytes())
}

func TestWriterBatch(t *testing.T) {
	var buf bytes.Buffer
	bcw := bytecounter.NewWriter(&buf)
	w := NewWriter(&buf, bcw, true)

	// composed messages are not written until Flush is called.
	err := w.Write(&Message{
		ChunkStreamID:   4,
		Type:            9,
		MessageStreamID: 0x1000000,
		Body:            []byte{1, 2, 3},
	})
	require.NoError(t, err)

	err = w.Write(&Message{
		ChunkStreamID:   4,
		Type:            8,
		MessageStreamID: 0x1000000,
		Body:            []byte{4, 5, 6},
	})
	require.NoError(t, err)

	require.Equal(t, 0, buf.Len())

	err = w.Flush()
	require.NoError(t, err)

	var expected bytes.Buffer
	buf2, err := chunk.Chunk0{
		ChunkStreamID:   4,
		Type:            9,
		MessageStreamID: 0x1000000,
		BodyLen:         3,
		Body:            []byte{1, 2, 3},
	}.Marshal(false)
	require.NoError(t, err)
	expected.Write(buf2)

	buf2, err = chunk.Chunk0{
		ChunkStreamID:   4,
		Type:            8,
		MessageStreamID: 0x1000000,
		BodyLen:         3,
		Body:            []byte{4, 5, 6},
	}.Marshal(false)
	require.NoError(t, err)
	expected.Write(buf2)

	require.Equal(t, expected.Bytes(), buf.Bytes())
}

func TestWriterAcks(t *testing.T) {
	var buf bytes.Buffer
	bcw := bytecounter.NewWriter(&buf)
	w := NewWriter(&buf, bcw, true)
	w.SetWindowAckSize(100)

	bcw.AddCount(1000)

	err := w.Write(&Message{
		ChunkStreamID:   4,
		Type:            9,
		MessageStreamID: 0x1000000,
		Body:            []byte{1, 2, 3},
	})
	require.EqualError(t, err, "no acknowledge received within window")

	// an acknowledge from the peer unblocks writes.
	w.SetAcknowledgeValue(1000)

	err = w.Write(&Message{
		ChunkStreamID:   4,
		Type:            9,
		MessageStreamID: 0x1000000,
		Body:            []byte{1, 2, 3},
	})
	require.NoError(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bcw := bytecounter.NewWriter(&buf)
	w := NewWriter(&buf, bcw, true)

	messages := []*Message{
		{
			ChunkStreamID:   3,
			Type:            20,
			MessageStreamID: 0,
			Body:            bytes.Repeat([]byte{1}, 300),
		},
		{
			ChunkStreamID:   4,
			Timestamp:       0x7F123456 * time.Millisecond,
			Type:            9,
			MessageStreamID: 0x1000000,
			Body:            bytes.Repeat([]byte{2}, 400),
		},
		{
			ChunkStreamID:   339,
			Timestamp:       100 * time.Millisecond,
			Type:            8,
			MessageStreamID: 0x1000000,
			Body:            bytes.Repeat([]byte{3}, 50),
		},
	}

	for _, msg := range messages {
		err := w.Write(msg)
		require.NoError(t, err)
	}

	err := w.Flush()
	require.NoError(t, err)

	r, _ := readerFor(&buf, func(_ uint32) error {
		return nil
	})

	for _, msg := range messages {
		msg2, err := r.Read()
		require.NoError(t, err)
		require.Equal(t, msg, msg2)
	}
}
