// Package h264conf contains a H264 configuration parser.
package h264conf

import (
	"fmt"
)

// Conf is a H264 configuration, as carried by a RTMP video sequence header.
type Conf struct {
	SPS []byte
	PPS []byte
}

// Unmarshal decodes a Conf from an AVC decoder configuration record.
// When the record carries multiple parameter sets, the first of each kind
// is kept.
func (c *Conf) Unmarshal(buf []byte) error {
	if len(buf) < 6 {
		return fmt.Errorf("invalid size")
	}

	if buf[0] != 1 {
		return fmt.Errorf("unsupported configuration version %d", buf[0])
	}

	spsCount := int(buf[5] & 0x1F)
	pos := 6

	for i := 0; i < spsCount; i++ {
		sps, n, err := readNALU(buf[pos:])
		if err != nil {
			return err
		}
		pos += n

		if c.SPS == nil {
			c.SPS = sps
		}
	}

	if (len(buf) - pos) < 1 {
		return fmt.Errorf("invalid size")
	}
	ppsCount := int(buf[pos])
	pos++

	for i := 0; i < ppsCount; i++ {
		pps, n, err := readNALU(buf[pos:])
		if err != nil {
			return err
		}
		pos += n

		if c.PPS == nil {
			c.PPS = pps
		}
	}

	if c.SPS == nil || c.PPS == nil {
		return fmt.Errorf("SPS or PPS not present")
	}

	return nil
}

func readNALU(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("invalid size")
	}

	length := int(buf[0])<<8 | int(buf[1])
	if (len(buf) - 2) < length {
		return nil, 0, fmt.Errorf("invalid size")
	}

	return buf[2 : 2+length], 2 + length, nil
}
