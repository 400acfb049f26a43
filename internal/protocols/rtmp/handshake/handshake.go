// Package handshake contains the RTMP handshake mechanism.
package handshake

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	rtmpVersion = 0x03

	// maximum byte count of a proxy prologue body.
	prologueMaxSize = 1024
)

// errTrySimple instructs the caller to fall back to the simple handshake.
var errTrySimple = errors.New("digest not found, use the simple handshake")

// Result contains data gathered during a server-side handshake.
type Result struct {
	// the peer used the simple handshake (no digest).
	Simple bool

	// real client IP carried by a proxy prologue, or nil.
	ProxyRealIP net.IP
}

// readC0C1 reads the C0C1 block, stripping a leading proxy prologue
// when present. The prologue starts with 0xF3, followed by a big-endian
// length and by a body whose first 4 bytes carry the client real IP.
func readC0C1(r io.Reader) ([]byte, net.IP, error) {
	buf := make([]byte, 1+c1s1Size)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, nil, err
	}

	var realIP net.IP

	if buf[0] == 0xF3 {
		n := int(buf[1])<<8 | int(buf[2])
		if n > prologueMaxSize {
			return nil, nil, fmt.Errorf("proxy prologue exceeds the maximum size (%d)", n)
		}

		if n >= 4 {
			realIP = net.IPv4(buf[3], buf[4], buf[5], buf[6])
		}

		consumed := 3 + n
		copy(buf, buf[consumed:])
		_, err = io.ReadFull(r, buf[len(buf)-consumed:])
		if err != nil {
			return nil, nil, err
		}
	}

	return buf, realIP, nil
}

// DoServer performs a server-side handshake.
func DoServer(rw io.ReadWriter) (*Result, error) {
	c0c1, realIP, err := readC0C1(rw)
	if err != nil {
		return nil, err
	}

	if c0c1[0] != rtmpVersion {
		return nil, fmt.Errorf("invalid rtmp version (%d)", c0c1[0])
	}

	res := &Result{ProxyRealIP: realIP}

	var c1 C1S1
	err = c1.parse(c0c1[1:], true)
	if err != nil {
		if !errors.Is(err, errTrySimple) {
			return nil, err
		}
		res.Simple = true
	}

	if res.Simple {
		err = doServerSimple(rw, c0c1[1:])
	} else {
		err = doServerComplex(rw, &c1)
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

func doServerComplex(rw io.ReadWriter, c1 *C1S1) error {
	s0s1s2 := make([]byte, 1+2*c1s1Size)
	s0s1s2[0] = rtmpVersion

	s1 := C1S1{
		Time:    uint32(time.Now().Unix()),
		Version: s1Version,
	}
	err := s1.fillS1(s0s1s2[1:1+c1s1Size], c1)
	if err != nil {
		return err
	}

	err = fillC2S2(s0s1s2[1+c1s1Size:], genuineFMSKey, c1.digest)
	if err != nil {
		return err
	}

	_, err = rw.Write(s0s1s2)
	if err != nil {
		return err
	}

	// C2 is read but not validated, like most servers do.
	c2 := make([]byte, c2s2Size)
	_, err = io.ReadFull(rw, c2)
	return err
}

func doServerSimple(rw io.ReadWriter, c1 []byte) error {
	s0s1s2 := make([]byte, 1+2*c1s1Size)
	_, err := rand.Read(s0s1s2)
	if err != nil {
		return err
	}

	s0s1s2[0] = rtmpVersion

	now := uint32(time.Now().Unix())
	s0s1s2[1] = byte(now >> 24)
	s0s1s2[2] = byte(now >> 16)
	s0s1s2[3] = byte(now >> 8)
	s0s1s2[4] = byte(now)
	copy(s0s1s2[5:9], c1[0:4])

	// echo C1 into S2.
	copy(s0s1s2[1+c1s1Size:], c1)

	_, err = rw.Write(s0s1s2)
	if err != nil {
		return err
	}

	c2 := make([]byte, c2s2Size)
	_, err = io.ReadFull(rw, c2)
	if err != nil {
		return err
	}

	if !bytes.Equal(c2[8:], s0s1s2[9:1+c1s1Size]) {
		return fmt.Errorf("C2 does not echo S1")
	}

	return nil
}

// DoClient performs a client-side handshake.
func DoClient(rw io.ReadWriter) error {
	c0c1 := make([]byte, 1+c1s1Size)
	c0c1[0] = rtmpVersion

	c1 := C1S1{
		Time:    uint32(time.Now().Unix()),
		Version: c1Version,
	}
	err := c1.fillC1(c0c1[1:])
	if err != nil {
		return err
	}

	_, err = rw.Write(c0c1)
	if err != nil {
		return err
	}

	s0s1s2 := make([]byte, 1+2*c1s1Size)
	_, err = io.ReadFull(rw, s0s1s2)
	if err != nil {
		return err
	}

	if s0s1s2[0] != rtmpVersion {
		return fmt.Errorf("invalid rtmp version (%d)", s0s1s2[0])
	}

	c2 := make([]byte, c2s2Size)

	var s1 C1S1
	err = s1.parse(s0s1s2[1:1+c1s1Size], false)
	if err != nil {
		if !errors.Is(err, errTrySimple) {
			return err
		}

		// the server used the simple handshake; S2 must echo C1.
		if !bytes.Equal(s0s1s2[1+c1s1Size+8:], c0c1[9:]) {
			return fmt.Errorf("S2 does not echo C1")
		}

		// echo S1 into C2.
		now := uint32(time.Now().Unix())
		c2[0] = byte(now >> 24)
		c2[1] = byte(now >> 16)
		c2[2] = byte(now >> 8)
		c2[3] = byte(now)
		copy(c2[4:8], s0s1s2[1:5])
		copy(c2[8:], s0s1s2[9:1+c1s1Size])
	} else {
		err = fillC2S2(c2, genuineFPKey, s1.digest)
		if err != nil {
			return err
		}
	}

	_, err = rw.Write(c2)
	return err
}
