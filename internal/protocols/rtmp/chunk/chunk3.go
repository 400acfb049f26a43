package chunk

import (
	"io"
)

// Chunk3 is a type 3 chunk.
// Type 3 chunks have no message header. The stream ID, message length
// and timestamp delta fields are not present; chunks of this type take
// values from the preceding chunk for the same Chunk Stream ID. When a
// single message is split into chunks, all chunks of a message except
// the first one SHOULD use this type.
type Chunk3 struct {
	ChunkStreamID uint32

	// extended timestamp, filled when hasExtendedTimestamp is set.
	// Some peers repeat it on every continuation chunk, others omit it;
	// the reader probes the stream to tell the cases apart.
	Timestamp uint32

	Body []byte
}

// Read reads the chunk.
func (c *Chunk3) Read(r io.Reader, bodyLen uint32, hasExtendedTimestamp bool) error {
	if hasExtendedTimestamp {
		header := make([]byte, 4)
		_, err := io.ReadFull(r, header)
		if err != nil {
			return err
		}

		c.Timestamp = uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	}

	c.Body = make([]byte, bodyLen)
	_, err := io.ReadFull(r, c.Body)
	return err
}

func (c Chunk3) marshalSize(hasExtendedTimestamp bool) int {
	n := basicHeaderSize(c.ChunkStreamID) + len(c.Body)
	if hasExtendedTimestamp {
		n += 4
	}
	return n
}

// Marshal writes the chunk.
func (c Chunk3) Marshal(hasExtendedTimestamp bool) ([]byte, error) {
	buf := make([]byte, c.marshalSize(hasExtendedTimestamp))
	_, err := c.MarshalTo(buf, hasExtendedTimestamp)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo writes the chunk into an existing buffer.
func (c Chunk3) MarshalTo(buf []byte, hasExtendedTimestamp bool) (int, error) {
	err := checkChunkStreamID(c.ChunkStreamID)
	if err != nil {
		return 0, err
	}

	n := writeBasicHeader(buf, 3, c.ChunkStreamID)

	if hasExtendedTimestamp {
		buf[n] = byte(c.Timestamp >> 24)
		buf[n+1] = byte(c.Timestamp >> 16)
		buf[n+2] = byte(c.Timestamp >> 8)
		buf[n+3] = byte(c.Timestamp)
		n += 4
	}

	n += copy(buf[n:], c.Body)
	return n, nil
}
