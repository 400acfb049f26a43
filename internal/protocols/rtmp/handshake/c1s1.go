package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"time"
)

const (
	c1s1Size      = 1536
	blockSize     = 764
	digestSize    = 32
	publicKeySize = 128

	// version fields sent by the Flash Player and by media servers.
	c1Version = 0x80000702
	s1Version = 0x01000504
)

var (
	genuineFPKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	genuineFMSKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	genuineFPPartialKey  = genuineFPKey[:30]
	genuineFMSPartialKey = genuineFMSKey[:36]
)

// c1s1Schema is the layout of the two 764-byte blocks that follow the
// time and version fields of a C1 or S1.
type c1s1Schema int

const (
	schema0 c1s1Schema = iota // key block first, digest block second
	schema1                   // digest block first, key block second
)

func makeDigest(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// blockPositions returns the absolute positions of the 128-byte key and
// of the 32-byte digest inside raw. The key block stores its offset
// field in its last 4 bytes, the digest block in its first 4.
func blockPositions(raw []byte, schema c1s1Schema) (int, int) {
	keyBase := 8
	digestBase := 8 + blockSize
	if schema == schema1 {
		digestBase = 8
		keyBase = 8 + blockSize
	}

	keyOffset := (int(raw[keyBase+760]) + int(raw[keyBase+761]) +
		int(raw[keyBase+762]) + int(raw[keyBase+763])) % (blockSize - publicKeySize - 4)
	digestOffset := (int(raw[digestBase]) + int(raw[digestBase+1]) +
		int(raw[digestBase+2]) + int(raw[digestBase+3])) % (blockSize - digestSize - 4)

	return keyBase + keyOffset, digestBase + 4 + digestOffset
}

// C1S1 is a C1 or S1 packet.
type C1S1 struct {
	Time    uint32
	Version uint32

	schema c1s1Schema
	raw    []byte
	key    []byte
	digest []byte
}

// parse decodes a C1 or S1, trying schema0 first and schema1 second.
// It returns errTrySimple when neither schema carries a valid digest.
func (c *C1S1) parse(raw []byte, isC1 bool) error {
	c.raw = raw
	c.Time = uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	c.Version = uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])

	peerKey := genuineFMSPartialKey
	if isC1 {
		peerKey = genuineFPPartialKey
	}

	for _, schema := range []c1s1Schema{schema0, schema1} {
		keyPos, digestPos := blockPositions(raw, schema)

		expected := makeDigest(peerKey, raw[:digestPos], raw[digestPos+digestSize:])
		if hmac.Equal(raw[digestPos:digestPos+digestSize], expected) {
			c.schema = schema
			c.key = raw[keyPos : keyPos+publicKeySize]
			c.digest = raw[digestPos : digestPos+digestSize]
			return nil
		}
	}

	return errTrySimple
}

// fillC1 writes a client C1 carrying a fresh DH public key.
func (c *C1S1) fillC1(buf []byte) error {
	c.schema = schema1

	kp, err := newDHKeypair()
	if err != nil {
		return err
	}

	return c.fill(buf, genuineFPPartialKey, kp.publicKey())
}

// fillS1 writes a server S1 answering c1. It reuses the schema of c1
// and combines the peer public key into a DH shared secret.
func (c *C1S1) fillS1(buf []byte, c1 *C1S1) error {
	c.schema = c1.schema

	kp, err := newDHKeypair()
	if err != nil {
		return err
	}

	return c.fill(buf, genuineFMSPartialKey, kp.sharedSecret(c1.key))
}

func (c *C1S1) fill(buf []byte, genuineKey []byte, keyContent []byte) error {
	_, err := rand.Read(buf)
	if err != nil {
		return err
	}

	if c.Time == 0 {
		c.Time = uint32(time.Now().Unix())
	}

	buf[0] = byte(c.Time >> 24)
	buf[1] = byte(c.Time >> 16)
	buf[2] = byte(c.Time >> 8)
	buf[3] = byte(c.Time)
	buf[4] = byte(c.Version >> 24)
	buf[5] = byte(c.Version >> 16)
	buf[6] = byte(c.Version >> 8)
	buf[7] = byte(c.Version)

	keyPos, digestPos := blockPositions(buf, c.schema)

	copy(buf[keyPos:], keyContent)

	digest := makeDigest(genuineKey, buf[:digestPos], buf[digestPos+digestSize:])
	copy(buf[digestPos:], digest)

	c.raw = buf
	c.key = buf[keyPos : keyPos+publicKeySize]
	c.digest = buf[digestPos : digestPos+digestSize]

	return nil
}
