package rawmessage

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/chunk"
)

const (
	// type 0 header with a 3-byte basic header and extended timestamp.
	maxChunk0HeaderSize = 3 + 11 + 4

	// type 3 header with a 3-byte basic header and extended timestamp.
	maxChunk3HeaderSize = 3 + 4

	headerArenaInitialSize = 4 * 1024
	headerArenaMaxSize     = 64 * 1024
)

// Writer is a raw message writer.
// Chunk headers are carved out of a reusable arena and paired with
// body slices in a scatter-gather list, flushed with a single
// vectored write, so message bodies are never copied.
type Writer struct {
	destination   io.Writer
	bcw           *bytecounter.Writer
	checkAcks     bool
	chunkSize     uint32
	ackWindowSize uint32
	ackValue      uint32

	vec         net.Buffers
	headers     []byte
	headersUsed int
	c0          chunk.Chunk0
	c3          chunk.Chunk3
}

// NewWriter allocates a Writer.
func NewWriter(
	destination io.Writer,
	bcw *bytecounter.Writer,
	checkAcks bool,
) *Writer {
	return &Writer{
		destination: destination,
		bcw:         bcw,
		checkAcks:   checkAcks,
		chunkSize:   128,
		headers:     make([]byte, headerArenaInitialSize),
	}
}

// SetChunkSize sets the maximum chunk size.
func (w *Writer) SetChunkSize(v uint32) {
	w.chunkSize = v
}

// SetWindowAckSize sets the window acknowledgement size.
func (w *Writer) SetWindowAckSize(v uint32) {
	w.ackWindowSize = v
}

// SetAcknowledgeValue sets the byte count acknowledged by the peer.
func (w *Writer) SetAcknowledgeValue(v uint32) {
	w.ackValue = v
}

func (w *Writer) allocHeader(size int) ([]byte, error) {
	if (len(w.headers) - w.headersUsed) < size {
		if len(w.headers) < headerArenaMaxSize {
			// chunks already composed keep referencing the old arena
			// until the next flush.
			w.headers = make([]byte, len(w.headers)*2)
			w.headersUsed = 0
		} else {
			// arena is dry, flush mid-message.
			err := w.Flush()
			if err != nil {
				return nil, err
			}
		}
	}

	return w.headers[w.headersUsed : w.headersUsed+size], nil
}

func (w *Writer) composeChunk(c chunk.Chunk, maxHeaderSize int, body []byte, hasExtendedTimestamp bool) error {
	buf, err := w.allocHeader(maxHeaderSize)
	if err != nil {
		return err
	}

	n, err := c.MarshalTo(buf, hasExtendedTimestamp)
	if err != nil {
		return err
	}

	w.headersUsed += n
	w.vec = append(w.vec, buf[:n])

	if len(body) > 0 {
		w.vec = append(w.vec, body)
	}

	return nil
}

// Write composes the chunks of a Message. They are sent to the
// destination on the next Flush.
func (w *Writer) Write(msg *Message) error {
	// check if the peer is acknowledging written bytes
	if w.checkAcks && w.ackWindowSize != 0 {
		count := uint32(w.bcw.Count())
		diff := count - w.ackValue

		if diff > (w.ackWindowSize * 3 / 2) {
			return fmt.Errorf("no acknowledge received within window")
		}
	}

	body := msg.Body
	bodyLen := uint32(len(body))
	timestamp := uint32(msg.Timestamp/time.Millisecond) & 0x7FFFFFFF
	hasExtendedTimestamp := timestamp >= 0xFFFFFF

	chunkBodyLen := bodyLen
	if chunkBodyLen > w.chunkSize {
		chunkBodyLen = w.chunkSize
	}

	w.c0 = chunk.Chunk0{
		ChunkStreamID:   msg.ChunkStreamID,
		Timestamp:       timestamp,
		Type:            msg.Type,
		MessageStreamID: msg.MessageStreamID,
		BodyLen:         bodyLen,
	}

	err := w.composeChunk(&w.c0, maxChunk0HeaderSize, body[:chunkBodyLen], false)
	if err != nil {
		return err
	}

	body = body[chunkBodyLen:]

	for len(body) > 0 {
		chunkBodyLen = uint32(len(body))
		if chunkBodyLen > w.chunkSize {
			chunkBodyLen = w.chunkSize
		}

		w.c3 = chunk.Chunk3{
			ChunkStreamID: msg.ChunkStreamID,
			Timestamp:     timestamp,
		}

		err = w.composeChunk(&w.c3, maxChunk3HeaderSize, body[:chunkBodyLen], hasExtendedTimestamp)
		if err != nil {
			return err
		}

		body = body[chunkBodyLen:]
	}

	return nil
}

// Flush sends all composed chunks to the destination in a single
// vectored write.
func (w *Writer) Flush() error {
	if len(w.vec) == 0 {
		return nil
	}

	vec := w.vec
	n, err := vec.WriteTo(w.destination)
	w.bcw.AddCount(uint64(n))
	w.vec = w.vec[:0]
	w.headersUsed = 0
	return err
}
