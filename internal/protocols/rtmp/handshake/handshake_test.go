package handshake

import (
	"crypto/rand"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		res, err := DoServer(server)
		require.NoError(t, err)
		require.Equal(t, false, res.Simple)
		require.Nil(t, res.ProxyRealIP)
	}()

	err := DoClient(client)
	require.NoError(t, err)
	<-done
}

func TestHandshakeServerSimple(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		res, err := DoServer(server)
		require.NoError(t, err)
		require.Equal(t, true, res.Simple)
	}()

	c0c1 := make([]byte, 1537)
	_, err := rand.Read(c0c1)
	require.NoError(t, err)
	c0c1[0] = 0x03

	_, err = client.Write(c0c1)
	require.NoError(t, err)

	s0s1s2 := make([]byte, 3073)
	_, err = io.ReadFull(client, s0s1s2)
	require.NoError(t, err)

	require.Equal(t, byte(0x03), s0s1s2[0])
	require.Equal(t, c0c1[1:], s0s1s2[1537:])

	c2 := make([]byte, 1536)
	copy(c2[8:], s0s1s2[9:1537])
	_, err = client.Write(c2)
	require.NoError(t, err)
	<-done
}

func TestHandshakeServerSimpleBadEcho(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := DoServer(server)
		require.EqualError(t, err, "C2 does not echo S1")
	}()

	c0c1 := make([]byte, 1537)
	_, err := rand.Read(c0c1)
	require.NoError(t, err)
	c0c1[0] = 0x03

	_, err = client.Write(c0c1)
	require.NoError(t, err)

	s0s1s2 := make([]byte, 3073)
	_, err = io.ReadFull(client, s0s1s2)
	require.NoError(t, err)

	c2 := make([]byte, 1536)
	_, err = client.Write(c2)
	require.NoError(t, err)
	<-done
}

func TestHandshakeProxyPrologue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		res, err := DoServer(server)
		require.NoError(t, err)
		require.Equal(t, true, res.Simple)
		require.Equal(t, net.IPv4(203, 0, 113, 9), res.ProxyRealIP)
	}()

	c0c1 := make([]byte, 1537)
	_, err := rand.Read(c0c1)
	require.NoError(t, err)
	c0c1[0] = 0x03

	prologue := []byte{0xF3, 0x00, 0x04, 203, 0, 113, 9}
	_, err = client.Write(append(prologue, c0c1...))
	require.NoError(t, err)

	s0s1s2 := make([]byte, 3073)
	_, err = io.ReadFull(client, s0s1s2)
	require.NoError(t, err)

	require.Equal(t, c0c1[1:], s0s1s2[1537:])

	c2 := make([]byte, 1536)
	copy(c2[8:], s0s1s2[9:1537])
	_, err = client.Write(c2)
	require.NoError(t, err)
	<-done
}

func TestHandshakeProxyPrologueTooLong(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := DoServer(server)
		require.EqualError(t, err, "proxy prologue exceeds the maximum size (1096)")
	}()

	buf := make([]byte, 1537)
	buf[0] = 0xF3
	buf[1] = 0x04
	buf[2] = 0x48

	_, err := client.Write(buf)
	require.NoError(t, err)
	<-done
}

func TestHandshakeClientSimpleServer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)

		c0c1 := make([]byte, 1537)
		_, err := io.ReadFull(server, c0c1)
		require.NoError(t, err)
		require.Equal(t, byte(0x03), c0c1[0])

		s0s1s2 := make([]byte, 3073)
		_, err = rand.Read(s0s1s2)
		require.NoError(t, err)
		s0s1s2[0] = 0x03
		copy(s0s1s2[1537:], c0c1[1:])

		_, err = server.Write(s0s1s2)
		require.NoError(t, err)

		c2 := make([]byte, 1536)
		_, err = io.ReadFull(server, c2)
		require.NoError(t, err)
		require.Equal(t, s0s1s2[9:1537], c2[8:])
	}()

	err := DoClient(client)
	require.NoError(t, err)
	<-done
}

func TestHandshakeInvalidVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := DoServer(server)
		require.EqualError(t, err, "invalid rtmp version (6)")
	}()

	c0c1 := make([]byte, 1537)
	c0c1[0] = 0x06

	_, err := client.Write(c0c1)
	require.NoError(t, err)
	<-done
}

func TestC1S1Parse(t *testing.T) {
	for _, ca := range []struct {
		name   string
		schema c1s1Schema
	}{
		{"schema0", schema0},
		{"schema1", schema1},
	} {
		t.Run(ca.name, func(t *testing.T) {
			kp, err := newDHKeypair()
			require.NoError(t, err)

			buf := make([]byte, c1s1Size)
			c1 := C1S1{
				Time:    12345,
				Version: c1Version,
				schema:  ca.schema,
			}
			err = c1.fill(buf, genuineFPPartialKey, kp.publicKey())
			require.NoError(t, err)

			var parsed C1S1
			err = parsed.parse(buf, true)
			require.NoError(t, err)
			require.Equal(t, uint32(12345), parsed.Time)
			require.Equal(t, uint32(c1Version), parsed.Version)
			require.Equal(t, ca.schema, parsed.schema)
			require.Equal(t, kp.publicKey(), parsed.key)
			require.Equal(t, c1.digest, parsed.digest)
		})
	}
}

func TestC1S1ParseRandom(t *testing.T) {
	buf := make([]byte, c1s1Size)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	var parsed C1S1
	err = parsed.parse(buf, true)
	require.ErrorIs(t, err, errTrySimple)
}

func TestDHSharedSecret(t *testing.T) {
	k1, err := newDHKeypair()
	require.NoError(t, err)

	k2, err := newDHKeypair()
	require.NoError(t, err)

	require.Equal(t, publicKeySize, len(k1.publicKey()))
	require.Equal(t, publicKeySize, len(k2.publicKey()))

	s1 := k1.sharedSecret(k2.publicKey())
	s2 := k2.sharedSecret(k1.publicKey())
	require.Equal(t, s1, s2)
}
