// Package chunk contains RTMP chunk codecs.
package chunk

import (
	"fmt"
	"io"
)

// Chunk is a chunk.
type Chunk interface {
	// Read reads the chunk, excluding the basic header,
	// that is parsed in advance in order to route the chunk.
	Read(r io.Reader, bodyLen uint32, hasExtendedTimestamp bool) error

	// Marshal encodes the chunk, including the basic header.
	Marshal(hasExtendedTimestamp bool) ([]byte, error)

	// MarshalTo encodes the chunk into an existing buffer.
	MarshalTo(buf []byte, hasExtendedTimestamp bool) (int, error)
}

// ReadBasicHeader reads a chunk basic header.
// Chunk stream IDs 2-63 are encoded in 1 byte,
// 64-319 in 2 bytes, 64-65599 in 3 bytes.
func ReadBasicHeader(r io.Reader) (byte, uint32, error) {
	var buf [2]byte
	_, err := io.ReadFull(r, buf[:1])
	if err != nil {
		return 0, 0, err
	}

	typ := buf[0] >> 6
	chunkStreamID := uint32(buf[0] & 0x3F)

	switch chunkStreamID {
	case 0:
		_, err = io.ReadFull(r, buf[:1])
		if err != nil {
			return 0, 0, err
		}

		chunkStreamID = 64 + uint32(buf[0])

	case 1:
		_, err = io.ReadFull(r, buf[:2])
		if err != nil {
			return 0, 0, err
		}

		chunkStreamID = 64 + uint32(buf[0]) + uint32(buf[1])<<8
	}

	return typ, chunkStreamID, nil
}

func basicHeaderSize(chunkStreamID uint32) int {
	switch {
	case chunkStreamID <= 63:
		return 1

	case chunkStreamID <= 319:
		return 2

	default:
		return 3
	}
}

func writeBasicHeader(buf []byte, typ byte, chunkStreamID uint32) int {
	switch {
	case chunkStreamID <= 63:
		buf[0] = typ<<6 | byte(chunkStreamID)
		return 1

	case chunkStreamID <= 319:
		buf[0] = typ << 6
		buf[1] = byte(chunkStreamID - 64)
		return 2

	default:
		buf[0] = typ<<6 | 1
		buf[1] = byte((chunkStreamID - 64) & 0xFF)
		buf[2] = byte((chunkStreamID - 64) >> 8)
		return 3
	}
}

func checkChunkStreamID(chunkStreamID uint32) error {
	if chunkStreamID < 2 || chunkStreamID > 65599 {
		return fmt.Errorf("invalid chunk stream ID (%d)", chunkStreamID)
	}
	return nil
}
