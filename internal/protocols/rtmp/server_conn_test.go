package rtmp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/handshake"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

// testPeer drives the client side of a connection under test.
type testPeer struct {
	mr *message.Reader
	mw *message.Writer
}

func newTestPeer(t *testing.T, nconn net.Conn) *testPeer {
	bc := bytecounter.NewReadWriter(nconn)

	err := handshake.DoClient(bc)
	require.NoError(t, err)

	br := &readbuffer.Buffer{Reader: bc.Reader}
	br.Initialize()

	return &testPeer{
		mr: message.NewReader(br, bc.Reader, nil),
		mw: message.NewWriter(nconn, bc.Writer, false),
	}
}

func (p *testPeer) read(t *testing.T) message.Message {
	msg, err := p.mr.Read()
	require.NoError(t, err)
	return msg
}

func (p *testPeer) write(t *testing.T, msg message.Message) {
	err := p.mw.Write(msg)
	require.NoError(t, err)
	err = p.mw.Flush()
	require.NoError(t, err)
}

func (p *testPeer) writeConnect(t *testing.T, app string) {
	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "connect",
		CommandID:     1,
		Arguments: amf0.Data{
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
		},
	})
}

func (p *testPeer) readAcceptResponse(t *testing.T, objectEncoding float64) {
	require.Equal(t, &message.SetWindowAckSize{
		Value: 2500000,
	}, p.read(t))

	require.Equal(t, &message.SetPeerBandwidth{
		Value: 2500000,
		Type:  2,
	}, p.read(t))

	require.Equal(t, &message.SetChunkSize{
		Value: 65536,
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
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
				{Key: "objectEncoding", Value: objectEncoding},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "onBWDone",
		CommandID:     0,
		Arguments:     amf0.Data{nil},
	}, p.read(t))
}

func TestServerConnPlay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		sc := &ServerConn{RW: nconn}
		err2 = sc.Initialize()
		require.NoError(t, err2)

		require.Equal(t, "live", sc.App)
		require.Equal(t, "rtmp://127.0.0.1:9121/live", sc.TCURL)
		require.Equal(t, "http://example.com/player.html", sc.PageURL)
		require.Equal(t, "http://example.com/player.swf", sc.SwfURL)
		require.Equal(t, "LNX 9,0,124,2", sc.FlashVer)
		require.Equal(t, float64(3), sc.ObjectEncoding)
		require.Equal(t, amf0.Object{
			{Key: "cluster_token", Value: "abc"},
		}, sc.ConnectArgs)
		require.False(t, sc.SimpleHandshake)
		require.Nil(t, sc.ProxyRealIP)

		err2 = sc.Accept()
		require.NoError(t, err2)

		err2 = sc.Identify()
		require.NoError(t, err2)

		require.Equal(t, ConnTypePlay, sc.Type)
		require.False(t, sc.Type.IsPublish())
		require.Equal(t, "mystream?token=abc", sc.StreamKey)
		require.Equal(t, 30*time.Second, sc.Duration)

		err2 = sc.StartPlay()
		require.NoError(t, err2)

		close(done)
	}()

	nconn, err := net.Dial("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer nconn.Close()

	p := newTestPeer(t, nconn)

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "connect",
		CommandID:     1,
		Arguments: amf0.Data{
			amf0.Object{
				{Key: "app", Value: "live"},
				{Key: "flashVer", Value: "LNX 9,0,124,2"},
				{Key: "swfUrl", Value: "http://example.com/player.swf"},
				{Key: "tcUrl", Value: "rtmp://127.0.0.1:9121/live"},
				{Key: "fpad", Value: false},
				{Key: "capabilities", Value: float64(15)},
				{Key: "audioCodecs", Value: float64(4071)},
				{Key: "videoCodecs", Value: float64(252)},
				{Key: "videoFunction", Value: float64(1)},
				{Key: "pageUrl", Value: "http://example.com/player.html"},
				{Key: "objectEncoding", Value: float64(3)},
			},
			amf0.Object{
				{Key: "cluster_token", Value: "abc"},
			},
		},
	})

	p.readAcceptResponse(t, 3)

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "createStream",
		CommandID:     2,
		Arguments:     amf0.Data{nil},
	})

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "_result",
		CommandID:     2,
		Arguments:     amf0.Data{nil, float64(1)},
	}, p.read(t))

	// generic calls are answered with a null result
	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "getStreamLength",
		CommandID:     3,
		Arguments:     amf0.Data{nil, "mystream"},
	})

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "_result",
		CommandID:     3,
		Arguments:     amf0.Data{nil, nil},
	}, p.read(t))

	// user control messages in between are skipped
	p.write(t, &message.UserControlSetBufferLength{
		StreamID:     1,
		BufferLength: 3000,
	})

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "play",
		CommandID:       4,
		Arguments: amf0.Data{
			nil,
			"mystream?token=abc",
			float64(-2000),
			float64(30000),
		},
	})

	require.Equal(t, &message.UserControlStreamBegin{
		StreamID: 1,
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetStream.Play.Reset"},
				{Key: "description", Value: "Playing and resetting stream."},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetStream.Play.Start"},
				{Key: "description", Value: "Started playing stream."},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.DataAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Payload: amf0.Data{
			"|RtmpSampleAccess",
			true,
			true,
		},
	}, p.read(t))

	require.Equal(t, &message.DataAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Payload: amf0.Data{
			"onStatus",
			amf0.Object{
				{Key: "code", Value: "NetStream.Data.Start"},
			},
		},
	}, p.read(t))

	<-done
}

func TestServerConnPublish(t *testing.T) {
	for _, ca := range []string{
		"fmle",
		"flash",
		"haivision",
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

				sc := &ServerConn{RW: nconn}
				err2 = sc.Initialize()
				require.NoError(t, err2)

				err2 = sc.Accept()
				require.NoError(t, err2)

				err2 = sc.Identify()
				require.NoError(t, err2)

				switch ca {
				case "fmle":
					require.Equal(t, ConnTypePublishFMLE, sc.Type)
				case "flash":
					require.Equal(t, ConnTypePublishFlash, sc.Type)
				case "haivision":
					require.Equal(t, ConnTypePublishHaivision, sc.Type)
				}
				require.True(t, sc.Type.IsPublish())
				require.Equal(t, "mystream", sc.StreamKey)

				err2 = sc.StartPublish()
				require.NoError(t, err2)

				close(done)
			}()

			nconn, err := net.Dial("tcp", "127.0.0.1:9121")
			require.NoError(t, err)
			defer nconn.Close()

			p := newTestPeer(t, nconn)
			p.writeConnect(t, "live")
			p.readAcceptResponse(t, 0)

			switch ca {
			case "fmle":
				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "releaseStream",
					CommandID:     2,
					Arguments:     amf0.Data{nil, "mystream"},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     2,
					Arguments:     amf0.Data{nil, amf0.Undefined{}},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "FCPublish",
					CommandID:     3,
					Arguments:     amf0.Data{nil, "mystream"},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     3,
					Arguments:     amf0.Data{nil, amf0.Undefined{}},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "createStream",
					CommandID:     4,
					Arguments:     amf0.Data{nil},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     4,
					Arguments:     amf0.Data{nil, float64(1)},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID:   5,
					MessageStreamID: 1,
					Name:            "publish",
					CommandID:       5,
					Arguments:       amf0.Data{nil, "mystream", "live"},
				})

			case "flash":
				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "createStream",
					CommandID:     2,
					Arguments:     amf0.Data{nil},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     2,
					Arguments:     amf0.Data{nil, float64(1)},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID:   5,
					MessageStreamID: 1,
					Name:            "publish",
					CommandID:       3,
					Arguments:       amf0.Data{nil, "mystream", "live"},
				})

			case "haivision":
				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "createStream",
					CommandID:     2,
					Arguments:     amf0.Data{nil},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     2,
					Arguments:     amf0.Data{nil, float64(1)},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "FCPublish",
					CommandID:     3,
					Arguments:     amf0.Data{nil, "mystream"},
				})

				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "_result",
					CommandID:     3,
					Arguments:     amf0.Data{nil, amf0.Undefined{}},
				}, p.read(t))

				p.write(t, &message.CommandAMF0{
					ChunkStreamID:   5,
					MessageStreamID: 1,
					Name:            "publish",
					CommandID:       4,
					Arguments:       amf0.Data{nil, "mystream", "live"},
				})
			}

			if ca != "flash" {
				require.Equal(t, &message.CommandAMF0{
					ChunkStreamID:   5,
					MessageStreamID: 1,
					Name:            "onFCPublish",
					CommandID:       0,
					Arguments: amf0.Data{
						nil,
						amf0.Object{
							{Key: "code", Value: "NetStream.Publish.Start"},
							{Key: "description", Value: "Started publishing stream."},
						},
					},
				}, p.read(t))
			}

			require.Equal(t, &message.CommandAMF0{
				ChunkStreamID:   5,
				MessageStreamID: 1,
				Name:            "onStatus",
				CommandID:       0,
				Arguments: amf0.Data{
					nil,
					amf0.Object{
						{Key: "level", Value: "status"},
						{Key: "code", Value: "NetStream.Publish.Start"},
						{Key: "description", Value: "Started publishing stream."},
					},
				},
			}, p.read(t))

			<-done
		})
	}
}

func TestServerConnNestedCreateStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		sc := &ServerConn{RW: nconn}
		err2 = sc.Initialize()
		require.NoError(t, err2)

		err2 = sc.Accept()
		require.NoError(t, err2)

		err2 = sc.Identify()
		require.NoError(t, err2)

		require.Equal(t, ConnTypePlay, sc.Type)
		require.Equal(t, "mystream", sc.StreamKey)
		require.Less(t, sc.Duration, time.Duration(0))

		close(done)
	}()

	nconn, err := net.Dial("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer nconn.Close()

	p := newTestPeer(t, nconn)
	p.writeConnect(t, "live")
	p.readAcceptResponse(t, 0)

	for id := 2; id <= 3; id++ {
		p.write(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "createStream",
			CommandID:     id,
			Arguments:     amf0.Data{nil},
		})

		require.Equal(t, &message.CommandAMF0{
			ChunkStreamID: 3,
			Name:          "_result",
			CommandID:     id,
			Arguments:     amf0.Data{nil, float64(1)},
		}, p.read(t))
	}

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "play",
		CommandID:       4,
		Arguments:       amf0.Data{nil, "mystream"},
	})

	<-done
}

func TestServerConnPause(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		sc := &ServerConn{RW: nconn}
		err2 = sc.Initialize()
		require.NoError(t, err2)

		err2 = sc.Accept()
		require.NoError(t, err2)

		err2 = sc.Identify()
		require.NoError(t, err2)

		err2 = sc.StartPlay()
		require.NoError(t, err2)

		for _, paused := range []bool{true, false} {
			var msg message.Message
			msg, err2 = sc.Read()
			require.NoError(t, err2)

			cmd := CommandOf(msg)
			require.NotNil(t, cmd)
			require.Equal(t, "pause", cmd.Name)
			require.Equal(t, paused, cmd.Arguments[1])

			err2 = sc.WritePauseResponse(paused)
			require.NoError(t, err2)
		}

		close(done)
	}()

	nconn, err := net.Dial("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer nconn.Close()

	p := newTestPeer(t, nconn)
	p.writeConnect(t, "live")
	p.readAcceptResponse(t, 0)

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "createStream",
		CommandID:     2,
		Arguments:     amf0.Data{nil},
	})
	p.read(t) // _result

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "play",
		CommandID:       3,
		Arguments:       amf0.Data{nil, "mystream"},
	})

	for i := 0; i < 5; i++ {
		p.read(t) // play response sequence
	}

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "pause",
		CommandID:       4,
		Arguments:       amf0.Data{nil, true, float64(0)},
	})

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetStream.Pause.Notify"},
				{Key: "description", Value: "Paused stream."},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.UserControlStreamEOF{
		StreamID: 1,
	}, p.read(t))

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "pause",
		CommandID:       5,
		Arguments:       amf0.Data{nil, false, float64(0)},
	})

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetStream.Unpause.Notify"},
				{Key: "description", Value: "Unpaused stream."},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.UserControlStreamBegin{
		StreamID: 1,
	}, p.read(t))

	<-done
}

func TestServerConnUnpublish(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})

	go func() {
		nconn, err2 := ln.Accept()
		require.NoError(t, err2)
		defer nconn.Close()

		sc := &ServerConn{RW: nconn}
		err2 = sc.Initialize()
		require.NoError(t, err2)

		err2 = sc.Accept()
		require.NoError(t, err2)

		err2 = sc.Identify()
		require.NoError(t, err2)

		err2 = sc.StartPublish()
		require.NoError(t, err2)

		msg, err2 := sc.Read()
		require.NoError(t, err2)

		cmd := CommandOf(msg)
		require.NotNil(t, cmd)
		require.Equal(t, "FCUnpublish", cmd.Name)

		err2 = sc.WriteUnpublish(cmd.CommandID)
		require.NoError(t, err2)

		close(done)
	}()

	nconn, err := net.Dial("tcp", "127.0.0.1:9121")
	require.NoError(t, err)
	defer nconn.Close()

	p := newTestPeer(t, nconn)
	p.writeConnect(t, "live")
	p.readAcceptResponse(t, 0)

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "releaseStream",
		CommandID:     2,
		Arguments:     amf0.Data{nil, "mystream"},
	})
	p.read(t) // _result

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "FCPublish",
		CommandID:     3,
		Arguments:     amf0.Data{nil, "mystream"},
	})
	p.read(t) // _result

	p.write(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "createStream",
		CommandID:     4,
		Arguments:     amf0.Data{nil},
	})
	p.read(t) // _result

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "publish",
		CommandID:       5,
		Arguments:       amf0.Data{nil, "mystream", "live"},
	})
	p.read(t) // onFCPublish
	p.read(t) // onStatus

	p.write(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "FCUnpublish",
		CommandID:       6,
		Arguments:       amf0.Data{nil, "mystream"},
	})

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onFCUnpublish",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "code", Value: "NetStream.Unpublish.Success"},
				{Key: "description", Value: "Stopped publishing stream."},
			},
		},
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID: 3,
		Name:          "_result",
		CommandID:     6,
		Arguments:     amf0.Data{nil, amf0.Undefined{}},
	}, p.read(t))

	require.Equal(t, &message.CommandAMF0{
		ChunkStreamID:   5,
		MessageStreamID: 1,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: "status"},
				{Key: "code", Value: "NetStream.Unpublish.Success"},
				{Key: "description", Value: "Stopped publishing stream."},
			},
		},
	}, p.read(t))

	<-done
}

func TestServerConnRedirect(t *testing.T) {
	for _, ca := range []string{
		"accepted",
		"ignored",
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

				sc := &ServerConn{RW: nconn}
				err2 = sc.Initialize()
				require.NoError(t, err2)

				err2 = nconn.SetReadDeadline(time.Now().Add(2 * time.Second))
				require.NoError(t, err2)

				accepted, err2 := sc.Redirect("rtmp://other:1935/live/mystream")
				require.NoError(t, err2)
				require.Equal(t, ca == "accepted", accepted)

				close(done)
			}()

			nconn, err := net.Dial("tcp", "127.0.0.1:9121")
			require.NoError(t, err)
			defer nconn.Close()

			p := newTestPeer(t, nconn)
			p.writeConnect(t, "live")

			require.Equal(t, &message.CommandAMF0{
				ChunkStreamID: 5,
				Name:          "onStatus",
				CommandID:     0,
				Arguments: amf0.Data{
					nil,
					amf0.Object{
						{Key: "level", Value: "error"},
						{Key: "code", Value: "NetConnection.Connect.Rejected"},
						{Key: "description", Value: "RTMP 302 Redirect"},
						{Key: "ex", Value: amf0.Object{
							{Key: "code", Value: float64(302)},
							{Key: "redirect", Value: "rtmp://other:1935/live"},
							{Key: "redirect2", Value: "rtmp://other:1935/live/mystream"},
						}},
					},
				},
			}, p.read(t))

			if ca == "accepted" {
				p.write(t, &message.CommandAMF0{
					ChunkStreamID: 3,
					Name:          "redirected",
					CommandID:     0,
					Arguments:     amf0.Data{nil, "rtmp://other:1935/live/mystream"},
				})
			} else {
				nconn.Close()
			}

			<-done
		})
	}
}
