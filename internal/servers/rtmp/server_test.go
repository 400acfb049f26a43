package rtmp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
	"github.com/zhengqiangwang/live-server-sub002/internal/test"
)

func testConf(t *testing.T) *conf.Conf {
	cnf, _, err := conf.Load("", nil)
	require.NoError(t, err)

	v := cnf.Vhosts[conf.DefaultVhost]
	v.Realtime = true
	return cnf
}

type testSetup struct {
	manager *stream.Manager
	stats   *stats.Stats
	server  *Server
}

func newTestSetup(t *testing.T, address string, cnf *conf.Conf) *testSetup {
	manager := &stream.Manager{Parent: test.NilLogger}
	manager.Initialize()

	hk := &hooks.Client{Parent: test.NilLogger}
	hk.Initialize()

	st := &stats.Stats{Parent: test.NilLogger}
	st.Initialize()

	s := &Server{
		Address:       address,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		Conf:          cnf,
		SourceManager: manager,
		Hooks:         hk,
		Stats:         st,
		Parent:        test.NilLogger,
	}
	err := s.Initialize()
	require.NoError(t, err)

	return &testSetup{
		manager: manager,
		stats:   st,
		server:  s,
	}
}

func (ts *testSetup) close() {
	ts.server.Close()
	ts.manager.Close()
}

func TestServerPublishPlay(t *testing.T) {
	ts := newTestSetup(t, "127.0.0.1:1937", testConf(t))
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1937/live/mystream")
	require.NoError(t, err)

	publisher := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = publisher.Initialize(context.Background())
	require.NoError(t, err)
	defer publisher.Close()

	sent := &message.Video{
		ChunkStreamID:   message.VideoChunkStreamID,
		MessageStreamID: publisher.StreamID(),
		DTS:             100 * time.Millisecond,
		Payload:         []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0x05},
	}
	err = publisher.Write(sent)
	require.NoError(t, err)

	reader := &rtmp.Client{URL: u}
	err = reader.Initialize(context.Background())
	require.NoError(t, err)
	defer reader.Close()

	// the keyframe is served from the GOP cache.
	for {
		msg, err2 := reader.Read()
		require.NoError(t, err2)

		if tmsg, ok := msg.(*message.Video); ok {
			require.Equal(t, sent.Payload, tmsg.Payload)
			require.Equal(t, sent.DTS, tmsg.DTS)
			require.Equal(t, uint32(rtmp.ServerStreamID), tmsg.MessageStreamID)
			break
		}
	}
}

func TestServerStreamBusy(t *testing.T) {
	ts := newTestSetup(t, "127.0.0.1:1938", testConf(t))
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1938/live/mystream")
	require.NoError(t, err)

	first := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = first.Initialize(context.Background())
	require.NoError(t, err)
	defer first.Close()

	second := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = second.Initialize(context.Background())
	if err == nil {
		// the rejection may arrive after the publish response; the
		// connection is torn down either way.
		second.NetConn().SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = second.Read()
	}
	require.Error(t, err)
}

func TestServerVhostNotFound(t *testing.T) {
	cnf := testConf(t)
	cnf.Vhosts["known.example.com"] = cnf.Vhosts[conf.DefaultVhost]
	delete(cnf.Vhosts, conf.DefaultVhost)

	ts := newTestSetup(t, "127.0.0.1:1939", cnf)
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1939/live/mystream?vhost=unknown.example.com")
	require.NoError(t, err)

	client := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = client.Initialize(context.Background())
	require.Error(t, err)
}

func TestServerPlayDisconnect(t *testing.T) {
	ts := newTestSetup(t, "127.0.0.1:1941", testConf(t))
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1941/live/idlestream")
	require.NoError(t, err)

	// play a stream nobody publishes, so the connection sits in the
	// batch wait.
	reader := &rtmp.Client{URL: u}
	err = reader.Initialize(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ts.stats.APISummary().Clients == 1
	}, 2*time.Second, 50*time.Millisecond)

	reader.Close()

	require.Eventually(t, func() bool {
		return ts.stats.APISummary().Clients == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestServerPingRequest(t *testing.T) {
	ts := newTestSetup(t, "127.0.0.1:1942", testConf(t))
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1942/live/mystream")
	require.NoError(t, err)

	awaitPong := func(c *rtmp.Client, sent uint32) {
		c.NetConn().SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			msg, err2 := c.Read()
			require.NoError(t, err2)

			if tmsg, ok := msg.(*message.UserControlPingResponse); ok {
				require.Equal(t, sent, tmsg.ServerTime)
				break
			}
		}
	}

	publisher := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = publisher.Initialize(context.Background())
	require.NoError(t, err)
	defer publisher.Close()

	err = publisher.Write(&message.UserControlPingRequest{ServerTime: 12345})
	require.NoError(t, err)
	awaitPong(publisher, 12345)

	reader := &rtmp.Client{URL: u}
	err = reader.Initialize(context.Background())
	require.NoError(t, err)
	defer reader.Close()

	err = reader.Write(&message.UserControlPingRequest{ServerTime: 67890})
	require.NoError(t, err)
	awaitPong(reader, 67890)
}

func TestServerChunkSizeWarning(t *testing.T) {
	warned := make(chan struct{})
	var once sync.Once
	parent := test.Logger(func(level logger.Level, format string, args ...interface{}) {
		if level == logger.Warn && strings.Contains(fmt.Sprintf(format, args...), "chunk size") {
			once.Do(func() { close(warned) })
		}
	})

	manager := &stream.Manager{Parent: test.NilLogger}
	manager.Initialize()
	defer manager.Close()

	hk := &hooks.Client{Parent: test.NilLogger}
	hk.Initialize()

	st := &stats.Stats{Parent: test.NilLogger}
	st.Initialize()

	s := &Server{
		Address:       "127.0.0.1:1943",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		Conf:          testConf(t),
		SourceManager: manager,
		Hooks:         hk,
		Stats:         st,
		Parent:        parent,
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	u, err := url.Parse("rtmp://127.0.0.1:1943/live/mystream")
	require.NoError(t, err)

	publisher := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = publisher.Initialize(context.Background())
	require.NoError(t, err)
	defer publisher.Close()

	err = publisher.Write(&message.SetChunkSize{Value: 100000})
	require.NoError(t, err)

	select {
	case <-warned:
	case <-time.After(2 * time.Second):
		t.Fatal("no warning logged")
	}
}

func TestServerStats(t *testing.T) {
	ts := newTestSetup(t, "127.0.0.1:1940", testConf(t))
	defer ts.close()

	u, err := url.Parse("rtmp://127.0.0.1:1940/live/mystream")
	require.NoError(t, err)

	publisher := &rtmp.Client{
		URL:     u,
		Publish: true,
	}
	err = publisher.Initialize(context.Background())
	require.NoError(t, err)
	defer publisher.Close()

	require.Eventually(t, func() bool {
		return ts.stats.APISummary().Clients == 1
	}, 2*time.Second, 50*time.Millisecond)

	list := ts.stats.APIClientsList()
	require.Len(t, list.Items, 1)
	require.True(t, list.Items[0].Publisher)
	require.Equal(t, "fmle-publish", list.Items[0].Type)
}
