package chunk

import (
	"io"
)

// Chunk0 is a type 0 chunk.
// This type MUST be used at
// the start of a chunk stream, and whenever the stream timestamp goes
// backward (e.g., because of a backward seek).
type Chunk0 struct {
	ChunkStreamID   uint32
	Timestamp       uint32
	Type            uint8
	MessageStreamID uint32
	BodyLen         uint32
	Body            []byte
}

// Read reads the chunk.
func (c *Chunk0) Read(r io.Reader, chunkMaxBodyLen uint32, _ bool) error {
	header := make([]byte, 11)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return err
	}

	c.Timestamp = uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])
	c.BodyLen = uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
	c.Type = header[6]
	c.MessageStreamID = uint32(header[7])<<24 | uint32(header[8])<<16 | uint32(header[9])<<8 | uint32(header[10])

	if c.Timestamp >= 0xFFFFFF {
		_, err = io.ReadFull(r, header[:4])
		if err != nil {
			return err
		}

		c.Timestamp = uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	}

	chunkBodyLen := c.BodyLen
	if chunkBodyLen > chunkMaxBodyLen {
		chunkBodyLen = chunkMaxBodyLen
	}

	c.Body = make([]byte, chunkBodyLen)
	_, err = io.ReadFull(r, c.Body)
	return err
}

func (c Chunk0) marshalSize() int {
	n := basicHeaderSize(c.ChunkStreamID) + 11 + len(c.Body)
	if c.Timestamp >= 0xFFFFFF {
		n += 4
	}
	return n
}

// Marshal writes the chunk.
func (c Chunk0) Marshal(hasExtendedTimestamp bool) ([]byte, error) {
	buf := make([]byte, c.marshalSize())
	_, err := c.MarshalTo(buf, hasExtendedTimestamp)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo writes the chunk into an existing buffer.
func (c Chunk0) MarshalTo(buf []byte, _ bool) (int, error) {
	err := checkChunkStreamID(c.ChunkStreamID)
	if err != nil {
		return 0, err
	}

	n := writeBasicHeader(buf, 0, c.ChunkStreamID)

	if c.Timestamp >= 0xFFFFFF {
		buf[n] = 0xFF
		buf[n+1] = 0xFF
		buf[n+2] = 0xFF
	} else {
		buf[n] = byte(c.Timestamp >> 16)
		buf[n+1] = byte(c.Timestamp >> 8)
		buf[n+2] = byte(c.Timestamp)
	}

	buf[n+3] = byte(c.BodyLen >> 16)
	buf[n+4] = byte(c.BodyLen >> 8)
	buf[n+5] = byte(c.BodyLen)
	buf[n+6] = c.Type
	buf[n+7] = byte(c.MessageStreamID >> 24)
	buf[n+8] = byte(c.MessageStreamID >> 16)
	buf[n+9] = byte(c.MessageStreamID >> 8)
	buf[n+10] = byte(c.MessageStreamID)
	n += 11

	if c.Timestamp >= 0xFFFFFF {
		buf[n] = byte(c.Timestamp >> 24)
		buf[n+1] = byte(c.Timestamp >> 16)
		buf[n+2] = byte(c.Timestamp >> 8)
		buf[n+3] = byte(c.Timestamp)
		n += 4
	}

	n += copy(buf[n:], c.Body)
	return n, nil
}
