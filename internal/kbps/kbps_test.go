package kbps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	in  uint64
	out uint64
}

func (c *fakeCounter) BytesReceived() uint64 { return c.in }
func (c *fakeCounter) BytesSent() uint64     { return c.out }

func TestNetworkDelta(t *testing.T) {
	var d NetworkDelta

	c1 := &fakeCounter{}
	d.SetConn(c1)

	c1.in, c1.out = 100, 200
	in, out := d.Remark()
	require.Equal(t, uint64(100), in)
	require.Equal(t, uint64(200), out)

	c1.in, c1.out = 150, 260

	// swapping the transport folds its totals in
	c2 := &fakeCounter{}
	d.SetConn(c2)
	c2.in, c2.out = 40, 10

	in, out = d.Remark()
	require.Equal(t, uint64(90), in)
	require.Equal(t, uint64(70), out)

	// removing the transport keeps what was counted
	d.SetConn(nil)
	in, out = d.Remark()
	require.Equal(t, uint64(0), in)
	require.Equal(t, uint64(0), out)
}

func TestEphemeralDelta(t *testing.T) {
	var d EphemeralDelta

	d.AddDelta(100, 50)
	d.AddDelta(20, 5)

	in, out := d.Remark()
	require.Equal(t, uint64(120), in)
	require.Equal(t, uint64(55), out)

	in, out = d.Remark()
	require.Equal(t, uint64(0), in)
	require.Equal(t, uint64(0), out)
}

func TestKbpsWindows(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cur := base
	timeNow = func() time.Time { return cur }
	defer func() { timeNow = time.Now }()

	var k Kbps
	k.Initialize()

	k.AddDelta(37500, 75000)
	cur = base.Add(30 * time.Second)
	k.Sample()

	recv := k.Recv()
	require.Equal(t, int64(10), recv.R30s)
	require.Equal(t, int64(0), recv.R1m)
	require.Equal(t, uint64(37500), recv.Total)

	send := k.Send()
	require.Equal(t, int64(20), send.R30s)
	require.Equal(t, uint64(75000), send.Total)

	// a second window refreshes the 30s rate and fills the 1m one
	k.AddDelta(37500, 0)
	cur = base.Add(60 * time.Second)
	k.Sample()

	recv = k.Recv()
	require.Equal(t, int64(10), recv.R30s)
	require.Equal(t, int64(10), recv.R1m)
	require.Equal(t, uint64(75000), recv.Total)

	send = k.Send()
	require.Equal(t, int64(0), send.R30s)
	require.Equal(t, int64(10), send.R1m)
}

func TestKbpsDrain(t *testing.T) {
	var d EphemeralDelta
	d.AddDelta(1000, 2000)

	var k Kbps
	k.Initialize()
	k.Drain(&d)

	require.Equal(t, uint64(1000), k.Recv().Total)
	require.Equal(t, uint64(2000), k.Send().Total)
}
