package chunk

import (
	"io"
)

// Chunk1 is a type 1 chunk.
// The message stream ID is not
// included; this chunk takes the same stream ID as the preceding chunk.
// Streams with variable-sized messages (for example, many video
// formats) SHOULD use this format for the first chunk of each new
// message after the first.
type Chunk1 struct {
	ChunkStreamID  uint32
	TimestampDelta uint32
	Type           uint8
	BodyLen        uint32
	Body           []byte
}

// Read reads the chunk.
func (c *Chunk1) Read(r io.Reader, chunkMaxBodyLen uint32, _ bool) error {
	header := make([]byte, 7)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return err
	}

	c.TimestampDelta = uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])
	c.BodyLen = uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
	c.Type = header[6]

	if c.TimestampDelta >= 0xFFFFFF {
		_, err = io.ReadFull(r, header[:4])
		if err != nil {
			return err
		}

		c.TimestampDelta = uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	}

	chunkBodyLen := c.BodyLen
	if chunkBodyLen > chunkMaxBodyLen {
		chunkBodyLen = chunkMaxBodyLen
	}

	c.Body = make([]byte, chunkBodyLen)
	_, err = io.ReadFull(r, c.Body)
	return err
}

func (c Chunk1) marshalSize() int {
	n := basicHeaderSize(c.ChunkStreamID) + 7 + len(c.Body)
	if c.TimestampDelta >= 0xFFFFFF {
		n += 4
	}
	return n
}

// Marshal writes the chunk.
func (c Chunk1) Marshal(hasExtendedTimestamp bool) ([]byte, error) {
	buf := make([]byte, c.marshalSize())
	_, err := c.MarshalTo(buf, hasExtendedTimestamp)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo writes the chunk into an existing buffer.
func (c Chunk1) MarshalTo(buf []byte, _ bool) (int, error) {
	err := checkChunkStreamID(c.ChunkStreamID)
	if err != nil {
		return 0, err
	}

	n := writeBasicHeader(buf, 1, c.ChunkStreamID)

	if c.TimestampDelta >= 0xFFFFFF {
		buf[n] = 0xFF
		buf[n+1] = 0xFF
		buf[n+2] = 0xFF
	} else {
		buf[n] = byte(c.TimestampDelta >> 16)
		buf[n+1] = byte(c.TimestampDelta >> 8)
		buf[n+2] = byte(c.TimestampDelta)
	}

	buf[n+3] = byte(c.BodyLen >> 16)
	buf[n+4] = byte(c.BodyLen >> 8)
	buf[n+5] = byte(c.BodyLen)
	buf[n+6] = c.Type
	n += 7

	if c.TimestampDelta >= 0xFFFFFF {
		buf[n] = byte(c.TimestampDelta >> 24)
		buf[n+1] = byte(c.TimestampDelta >> 16)
		buf[n+2] = byte(c.TimestampDelta >> 8)
		buf[n+3] = byte(c.TimestampDelta)
		n += 4
	}

	n += copy(buf[n:], c.Body)
	return n, nil
}
