package handshake

import (
	"crypto/rand"
)

const c2s2Size = 1536

// fillC2S2 writes a C2 or S2: a 1504-byte random body followed by a
// 32-byte digest keyed on the digest of the peer C1 or S1.
func fillC2S2(buf []byte, genuineFullKey []byte, peerDigest []byte) error {
	_, err := rand.Read(buf[:c2s2Size-digestSize])
	if err != nil {
		return err
	}

	tempKey := makeDigest(genuineFullKey, peerDigest)
	copy(buf[c2s2Size-digestSize:], makeDigest(tempKey, buf[:c2s2Size-digestSize]))

	return nil
}
