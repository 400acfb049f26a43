package handshake

import (
	"crypto/rand"
	"math/big"
)

// 1024-bit prime of the second Oakley group (RFC 2409 section 6.2),
// the Diffie-Hellman group used by the Flash Player.
var dhPrime = func() *big.Int {
	p, _ := new(big.Int).SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
			"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
			"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
			"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
			"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381"+
			"FFFFFFFFFFFFFFFF", 16)
	return p
}()

var dhGenerator = big.NewInt(2)

type dhKeypair struct {
	private *big.Int
	public  *big.Int
}

func newDHKeypair() (*dhKeypair, error) {
	priv, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, err
	}

	return &dhKeypair{
		private: priv,
		public:  new(big.Int).Exp(dhGenerator, priv, dhPrime),
	}, nil
}

// publicKey returns the public key, padded or truncated to exactly
// publicKeySize bytes.
func (k *dhKeypair) publicKey() []byte {
	return dhPad(k.public)
}

// sharedSecret combines the private key with the public key of the peer.
func (k *dhKeypair) sharedSecret(peerPublicKey []byte) []byte {
	pub := new(big.Int).SetBytes(peerPublicKey)
	return dhPad(new(big.Int).Exp(pub, k.private, dhPrime))
}

func dhPad(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) > publicKeySize {
		b = b[len(b)-publicKeySize:]
	}

	out := make([]byte, publicKeySize)
	copy(out[publicKeySize-len(b):], b)
	return out
}
