package rtmp

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/handshake"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

// serverHarness drives the server side of a client under test.
type serverHarness struct {
	mr *message.Reader
	mw *message.Writer
}

func newServerHarness(t *testing.T, nconn net.Conn) *serverHarness {
	bc := bytecounter.NewReadWriter(nconn)

	_, err := handshake.DoServer(bc)
	require.NoError(t, err)

	br := &readbuffer.Buffer{Reader: bc.Reader}
	br.Initialize()

	return &serverHarness{
		mr: message.NewReader(br, bc.Reader, nil),
		mw: message.NewWriter(nconn, bc.Writer, false),
	}
}

func (h *serverHarness) read(t *testing.T) message.Message {
	msg, err := h.mr.Read()
	require.NoError(t, err)
	return msg
}

func (h *serverHarness) write(t *testing.T, msg message.Message) {
	err := h.mw.Write(msg)
	require.NoError(t, err)
	err = h.mw.Flush()
	require.NoError(t, err)
}

func (h *serverHarness) readOpening(t *testing.T, app string, extraArgs amf0.Data) {
	require.Equal(t, &message.SetWindowAckSize{
		Value: 2500000,
	}, h.read(t))

	require.Equal(t, &message.SetPeerBandwidth{
		Value: 2500000,
		Type:  2,
	}, h.read(t))

	require.Equal(t, &message.SetChunkSize{
		Value: 65536,
	}, h.read(t))

	expectedArgs := amf0.Data{
		amf0.Object{
			{Key: "app", Value: app},
			{Key: "flashVer", Value: "LNX 9,0,124,2"},
			{Key: "tcUrl", Value: "rtmp://127.0.0.1:9121/" + app},
			{Key: "fpad", Value: false},
			{Key: "capabilities", Value: float64(15)},
			{Key: "audioCodecs", Value: float64(4071)},
			{Key: "videoCodecs", Value: float64(252)},
			{Key: "videoFunction", Value: float64(1)},
		},
	}
	expectedArgs = append(expectedArgs, extraArgs...)

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "connect",
		CommandID:     1,
		Arguments:     expectedArgs,
	}, h.read(t))
}

func (h *serverHarness) writeConnectResult(t *testing.T) {
	h.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "_result",
		CommandID:     1,
		Arguments: amf0.Data{
			amf0.Object{
				{Key: "fmsVer", Value: "LNX 9,0,124,2"},
				{Key: "capabilities", Value: float64(31)},
			},
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetConnection.Connect.Success"},
				{Key: "description", Value: "Connection succeeded."},
				{Key: "objectEncoding", Value: float64(0)},
			},
		},
	})
}

func TestClientPlay(t *testing.T) {
	for _, ca := range []string{
		"reset response",
		"direct start response",
	} {
		t.Run(ca, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:9121")
			require.NoError(t, err)
			defer ln.Close()

			done := make(chan struct{})

			go func() {
				nconn, err2 := ln.Accept()
				require.NoError(t, err2)
				defer nconn.Close()

				h := newServerHarness(t, nconn)
				h.readOpening(t, "stream", nil)
				h.writeConnectResult(t)

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "createStream",
					CommandID:     2,
					Arguments:     amf0.Data{nil},
				}, h.read(t))

				h.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     2,
					Arguments:     amf0.Data{nil, float64(1)},
				})

				require.Equal(t, &message.UserControlSetBufferLength{
					StreamID:     1,
					BufferLength: 0x64,
				}, h.read(t))

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID:   5,
					MessageStreamID: 1,
					Name:            "play",
					CommandID:       3,
					Arguments:       amf0.Data{nil, ""},
				}, h.read(t))

				if ca == "reset response" {
					h.write(t, statusMessage(StatusLevelStatus,
						StatusCodePlayReset, "Playing and resetting stream."))
				} else {
					h.write(t, &message.UserControlStreamBegin{
						StreamID: 1,
					})
					h.write(t, statusMessage(StatusLevelStatus,
						StatusCodePlayStart, "Started playing stream."))
				}

				h.write(t, &message.Audio{
					ChunkStreamID:   message.AudioChunkStreamID,
					MessageStreamID: 1,
					DTS:             2 * time.Second,
					Payload:         []byte{0xaf, 0x01, 0x02, 0x03},
				})

				close(done)
			}()

			u, err := url.Parse("rtmp://127.0.0.1:9121/stream")
			require.NoError(t, err)

			conn := &Client{
				URL: u,
			}
			err = conn.Initialize(context.Background())
			require.NoError(t, err)
			defer conn.Close()

			msg, err := conn.Read()
			require.NoError(t, err)
			require.Equal(t, &message.Audio{
				ChunkStreamID:   message.AudioChunkStreamID,
				MessageStreamID: 1,
				DTS:             2 * time.Second,
				Payload:         []byte{0xaf, 0x01, 0x02, 0x03},
			}, msg)

			require.NotZero(t, conn.BytesReceived())
			require.NotZero(t, conn.BytesSent())

			<-done
		})
	}
}

func TestClientPublish(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		h := newServerHarness(t, nconn)
		h.readOpening(t, "live", nil)
		h.writeConnectResult(t)

		require.Equal(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "releaseStream",
			CommandID:     2,
			Arguments:     amf0.Data{nil, "mystream?token=abc"},
		}, h.read(t))

		require.Equal(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "FCPublish",
			CommandID:     3,
			Arguments:     amf0.Data{nil, "mystream?token=abc"},
		}, h.read(t))

		require.Equal(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "createStream",
			CommandID:     4,
			Arguments:     amf0.Data{nil},
		}, h.read(t))

		// results of fire-and-forget commands must not confuse the client
		h.write(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "_result",
			CommandID:     2,
			Arguments:     amf0.Data{nil, amf0.Undefined{}},
		})
		h.write(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "_result",
			CommandID:     3,
			Arguments:     amf0.Data{nil, amf0.Undefined{}},
		})
		h.write(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "_result",
			CommandID:     4,
			Arguments:     amf0.Data{nil, float64(1)},
		})

		require.Equal(t, &message.CommandAMF0{
			ChunkStreamID:   5,
			MessageStreamID: 1,
			Name:            "publish",
			CommandID:       5,
			Arguments:       amf0.Data{nil, "mystream?token=abc", "live"},
		}, h.read(t))

		h.write(t, onFCPublishMessage())
		h.write(t, statusMessage(StatusLevelStatus,
			StatusCodePublishStart, "Started publishing stream."))

		require.Equal(t, &message.Video{
			ChunkStreamID:   message.VideoChunkStreamID,
			MessageStreamID: 1,
			DTS:             40 * time.Millisecond,
			Payload:         []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa},
		}, h.read(t))

		close(done)
	}()

	u, err := url.Parse("rtmp://127.0.0.1:9121/live/mystream?token=abc")
	require.NoError(t, err)

	conn := &Client{
		URL:     u,
		Publish: true,
	}
	err = conn.Initialize(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Write(&message.Video{
		ChunkStreamID:   message.VideoChunkStreamID,
		MessageStreamID: 1,
		DTS:             40 * time.Millisecond,
		Payload:         []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa},
	})
	require.NoError(t, err)

	<-done
}

func TestClientConnectOnly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		h := newServerHarness(t, nconn)
		h.readOpening(t, "live", amf0.Data{
			amf0.Object{
				{Key: "cluster_token", Value: "abc"},
			},
		})
		h.writeConnectResult(t)

		close(done)
	}()

	u, err := url.Parse("rtmp://127.0.0.1:9121/live")
	require.NoError(t, err)

	conn := &Client{
		URL:         u,
		ConnectOnly: true,
		ConnectArgs: amf0.Object{
			{Key: "cluster_token", Value: "abc"},
		},
	}
	err = conn.Initialize(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	<-done
}

func TestClientConnectRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		h := newServerHarness(t, nconn)
		h.readOpening(t, "live", nil)

		h.write(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "_error",
			CommandID:     1,
			Arguments: amf0.Data{
				nil,
				amf0.Object{
					{Key: "level", Value: "error"},
					{Key: "code", Value: "NetConnection.Connect.Rejected"},
					{Key: "description", Value: "connection limit reached"},
				},
			},
		})

		close(done)
	}()

	u, err := url.Parse("rtmp://127.0.0.1:9121/live")
	require.NoError(t, err)

	conn := &Client{
		URL: u,
	}
	err = conn.Initialize(context.Background())
	require.EqualError(t, err, "connect failed: NetConnection.Connect.Rejected")

	<-done
}
