package rtmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/auth"
	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/kbps"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

// control errors consumed by the service loop.
var (
	errRepublish = errors.New("republish requested")
	errRTMPClose = errors.New("stream closed by peer")
)

var errDurationExceeded = errors.New("requested duration exceeded")

// timeout of the whole token-traverse exchange with one origin.
const tokenTraverseTimeout = 3 * time.Second

// read deadline while the peer is expected to republish or is paused.
const republishTimeout = 3 * time.Minute

// request is the identity of a connection, assembled from the connect
// and play/publish commands.
type request struct {
	vhost  string
	app    string
	stream string
	param  string
	tcURL  string
}

func (r *request) key() stream.Key {
	return stream.Key{Vhost: r.vhost, App: r.app, Stream: r.stream}
}

func (r *request) streamURL() string {
	return r.vhost + "/" + r.app + "/" + r.stream
}

// splitNameQuery separates an RTMP path element from its query.
func splitNameQuery(v string) (string, string) {
	for i := 0; i < len(v); i++ {
		if v[i] == '?' {
			return v[:i], v[i+1:]
		}
	}
	return v, ""
}

// resolveVhost picks the vhost of a connection: an explicit "vhost"
// query parameter wins over the tcUrl host.
func resolveVhost(tcURL string, appQuery string, streamQuery string) string {
	for _, q := range []string{streamQuery, appQuery} {
		if v, ok := rtmp.QueryDecode(q)["vhost"]; ok && v != "" {
			return v
		}
	}

	if u, err := url.Parse(tcURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return conf.DefaultVhost
}

func joinQueries(a string, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "&" + b
}

type conn struct {
	parentCtx     context.Context
	readTimeout   time.Duration
	writeTimeout  time.Duration
	wg            *sync.WaitGroup
	nconn         net.Conn
	cnf           *conf.Conf
	sourceManager *stream.Manager
	hooks         *hooks.Client
	stats         *stats.Stats
	parent        *Server

	ctx       context.Context
	ctxCancel func()
	uuid      uuid.UUID
	created   time.Time
	sconn     *rtmp.ServerConn
	req       request

	// current vhost configuration, swapped by reloads.
	vhostCnf atomic.Pointer[conf.Vhost]

	rates kbps.Kbps
	netIn kbps.NetworkDelta
}

func (c *conn) initialize() {
	c.ctx, c.ctxCancel = context.WithCancel(c.parentCtx)

	c.uuid = uuid.New()
	c.created = time.Now()
	c.rates.Initialize()

	c.Log(logger.Info, "opened")

	c.wg.Add(1)
	go c.run()
}

func (c *conn) Close() {
	c.ctxCancel()
}

// Log implements logger.Writer.
func (c *conn) Log(level logger.Level, format string, args ...interface{}) {
	c.parent.Log(level, "[conn %v] "+format, append([]interface{}{c.nconn.RemoteAddr()}, args...)...)
}

func (c *conn) ip() net.IP {
	return c.nconn.RemoteAddr().(*net.TCPAddr).IP
}

// currentVhost returns the live vhost configuration, which a reload may
// swap at any moment.
func (c *conn) currentVhost() *conf.Vhost {
	return c.vhostCnf.Load()
}

// reloadConf is called by the server event loop.
func (c *conn) reloadConf(newConf *conf.Conf) {
	cur := c.vhostCnf.Load()
	if cur == nil {
		// still before connect; the next vhost lookup uses the new conf.
		c.cnf = newConf
		return
	}

	v := newConf.FindVhost(cur.Name)
	if v == nil || !v.Enabled {
		c.Log(logger.Info, "closing: vhost removed or disabled")
		c.Close()
		return
	}

	c.vhostCnf.Store(v)
	c.applySocketOptions(v)
}

func (c *conn) applySocketOptions(cnf *conf.Vhost) {
	if tc, ok := c.nconn.(*net.TCPConn); ok {
		tc.SetNoDelay(cnf.TCPNoDelay) //nolint:errcheck
	}
}

func (c *conn) run() {
	defer c.wg.Done()

	err := c.runInner()

	c.ctxCancel()

	c.parent.closeConn(c)

	if cnf := c.currentVhost(); cnf != nil {
		c.hooks.OnClose(cnf, c.event()) //nolint:errcheck
	}

	if errors.Is(err, errDurationExceeded) {
		c.Log(logger.Warn, "closed: %v", err)
	} else {
		c.Log(logger.Info, "closed: %v", err)
	}
}

func (c *conn) runInner() error {
	readerErr := make(chan error)
	go func() {
		readerErr <- c.runReader()
	}()

	select {
	case err := <-readerErr:
		c.nconn.Close()
		return err

	case <-c.ctx.Done():
		c.nconn.Close()
		<-readerErr
		return errors.New("terminated")
	}
}

func (c *conn) runReader() error {
	c.nconn.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.nconn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

	c.sconn = &rtmp.ServerConn{RW: c.nconn}
	err := c.sconn.Initialize()
	if err != nil {
		return err
	}
	c.netIn.SetConn(c.sconn)

	if c.sconn.ProxyRealIP != nil {
		c.Log(logger.Debug, "proxied connection, real ip is %v", c.sconn.ProxyRealIP)
	}

	appName, appQuery := splitNameQuery(c.sconn.App)
	c.req = request{
		vhost: resolveVhost(c.sconn.TCURL, appQuery, ""),
		app:   appName,
		param: appQuery,
		tcURL: c.sconn.TCURL,
	}

	cnf := c.cnf.FindVhost(c.req.vhost)
	if cnf == nil {
		return fmt.Errorf("vhost '%s' not found", c.req.vhost)
	}
	if !cnf.Enabled {
		return fmt.Errorf("vhost '%s' is disabled", cnf.Name)
	}
	c.req.vhost = cnf.Name
	c.vhostCnf.Store(cnf)

	err = c.hooks.OnConnect(cnf, c.event())
	if err != nil {
		return err
	}

	c.sconn.OutChunkSize = uint32(cnf.ChunkSize)
	c.sconn.OutWindowAckSize = uint32(cnf.OutAckSize)
	c.sconn.InWindowAckSize = uint32(cnf.InAckSize)

	err = c.sconn.Accept()
	if err != nil {
		return err
	}

	c.applySocketOptions(cnf)

	// service loop: control errors return here, everything else is fatal.
	republished := false
	for {
		err = c.serveSession(republished)
		switch {
		case errors.Is(err, errRepublish):
			c.Log(logger.Info, "republish requested")
			republished = true

		case errors.Is(err, errRTMPClose):
			c.Log(logger.Info, "stream closed, awaiting a new request")
			republished = true

		default:
			return err
		}
	}
}

func (c *conn) serveSession(republished bool) error {
	// a republishing encoder may take a long time to come back.
	deadline := c.readTimeout
	if republished {
		deadline = republishTimeout
	}
	c.nconn.SetReadDeadline(time.Now().Add(deadline))

	err := c.sconn.Identify()
	if err != nil {
		return err
	}

	streamName, streamQuery := splitNameQuery(c.sconn.StreamKey)
	if streamName == "" {
		return fmt.Errorf("stream name is empty")
	}
	c.req.stream = streamName
	c.req.param = joinQueries(c.req.param, streamQuery)

	cnf := c.currentVhost()

	if c.sconn.Type.IsPublish() {
		return c.runPublish(cnf)
	}
	return c.runPlay(cnf)
}

func (c *conn) event() hooks.Event {
	ev := hooks.Event{
		ClientID: c.uuid.String(),
		IP:       c.ip().String(),
		Vhost:    c.req.vhost,
		App:      c.req.app,
		Stream:   c.req.stream,
		Param:    c.req.param,
		TcURL:    c.req.tcURL,
		PageURL:  c.sconn.PageURL,
	}
	if c.sconn.Duration > 0 {
		ev.Duration = c.sconn.Duration.Seconds()
	}
	return ev
}

func (c *conn) registerClient(publisher bool) func() {
	c.stats.OnClient(&stats.Client{
		ID:         c.uuid,
		Vhost:      c.req.vhost,
		App:        c.req.app,
		Stream:     c.req.stream,
		Type:       c.sconn.Type.String(),
		RequestURL: c.req.tcURL + "/" + c.req.stream,
		IP:         c.ip().String(),
		Publisher:  publisher,
		Kbps:       &c.rates,
		Close:      c.Close,
	})

	return func() {
		c.rates.Drain(&c.netIn)
		c.stats.OnDisconnect(c.uuid)
	}
}

func (c *conn) runPlay(cnf *conf.Vhost) error {
	err := auth.Authenticate(cnf, &auth.Request{
		Action:  auth.ActionPlay,
		IP:      c.ip(),
		PageURL: c.sconn.PageURL,
	})
	if err != nil {
		return err
	}

	err = c.hooks.OnPlay(cnf, c.event())
	if err != nil {
		return err
	}

	// with an origin cluster, a play request for a stream this node does
	// not hold is pointed to the origin that does.
	if cnf.OriginCluster {
		if src := c.sourceManager.Get(c.req.key()); src == nil || !src.Active() {
			return c.redirectToOrigin(cnf)
		}
	}

	source := c.sourceManager.GetOrCreate(c.req.key(), cnf, c.req.param)
	consumer := source.CreateConsumer(cnf.GopCache && !cnf.MinLatency)
	defer source.RemoveConsumer(consumer)

	err = c.sconn.StartPlay()
	if err != nil {
		return err
	}

	unregister := c.registerClient(false)
	defer unregister()

	defer func() {
		c.hooks.OnStop(c.currentVhost(), c.event()) //nolint:errcheck
	}()

	c.Log(logger.Info, "is playing stream %s", c.req.streamURL())

	return c.playLoop(source, consumer)
}

func (c *conn) redirectToOrigin(cnf *conf.Vhost) error {
	origin := cnf.EdgeOrigins[0]
	target := fmt.Sprintf("rtmp://%s/%s/%s", origin, c.req.app, c.req.stream)

	c.Log(logger.Info, "redirecting to %s", target)

	c.nconn.SetReadDeadline(time.Now().Add(tokenTraverseTimeout))
	accepted, err := c.sconn.Redirect(target)
	if err != nil {
		return err
	}

	if accepted {
		c.Log(logger.Info, "peer accepted the redirection")
	} else {
		c.Log(logger.Warn, "peer ignored the redirection")
	}
	return fmt.Errorf("redirected to %s", target)
}

// playRecv drains the messages a player sends while receiving the
// stream: pause toggles, pings, generic calls and the close command.
func (c *conn) playRecv(consumer *stream.Consumer, recvErr chan<- error) {
	recvErr <- func() error {
		for {
			c.nconn.SetReadDeadline(time.Now().Add(republishTimeout))

			msg, err := c.sconn.Read()
			if err != nil {
				return err
			}

			switch tmsg := msg.(type) {
			case *message.UserControlPingRequest:
				err = c.sconn.Write(&message.UserControlPingResponse{
					ServerTime: tmsg.ServerTime,
				})
				if err != nil {
					return err
				}
				continue

			case *message.SetChunkSize:
				c.warnLargeChunkSize(tmsg)
				continue
			}

			cmd := rtmp.CommandOf(msg)
			if cmd == nil {
				continue
			}

			switch cmd.Name {
			case "pause":
				paused := false
				if len(cmd.Arguments) >= 2 {
					if v, ok := cmd.Arguments[1].(bool); ok {
						paused = v
					}
				}

				err = c.sconn.WritePauseResponse(paused)
				if err != nil {
					return err
				}
				consumer.OnPlayClientPause(paused)
				c.Log(logger.Debug, "pause: %v", paused)

			case "closeStream", "deleteStream", "FCUnpublish":
				return errRTMPClose

			default:
				err = c.sconn.WriteCallResponse(cmd)
				if err != nil {
					return err
				}
			}
		}
	}()

	// wake the batch wait so the play loop picks the error up.
	consumer.Interrupt()
}

// the limit is enforced only on our outbound proposal; peer values above
// it are honored after a warning.
func (c *conn) warnLargeChunkSize(msg *message.SetChunkSize) {
	if msg.Value > 65536 {
		c.Log(logger.Warn, "peer chunk size %d is above 65536", msg.Value)
	}
}

func (c *conn) playLoop(source *stream.Source, consumer *stream.Consumer) error {
	recvErr := make(chan error, 1)
	go c.playRecv(consumer, recvErr)

	// wake the batch wait when the connection is interrupted.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-c.ctx.Done():
			consumer.Interrupt()
		case <-watchDone:
		}
	}()

	var elapsed time.Duration
	var lastDTS time.Duration
	dtsValid := false
	prevCnf := c.currentVhost()

	for {
		select {
		case err := <-recvErr:
			consumer.Interrupt()
			return err
		case <-c.ctx.Done():
			return errors.New("terminated")
		default:
		}

		cnf := c.currentVhost()
		if cnf != prevCnf {
			prevCnf = cnf
			consumer.OnPlayClientPause(false)
		}

		if cnf.Realtime {
			consumer.Wait(0, 0)
		} else {
			consumer.Wait(cnf.MWMsgs, time.Duration(cnf.MWSleep))
		}

		msgs := consumer.Dump(0)
		if len(msgs) == 0 {
			continue
		}

		if consumer.SourceChanged() {
			err := c.sconn.Write(&message.UserControlStreamBegin{
				StreamID: rtmp.ServerStreamID,
			})
			if err != nil {
				return err
			}
		}

		batch := make([]message.Message, 0, len(msgs))
		for _, msg := range msgs {
			msg, dts, ok := withServerStreamID(msg)
			if ok && c.sconn.Duration > 0 {
				if dtsValid {
					if d := dts - lastDTS; d > 0 {
						elapsed += d
					}
				}
				lastDTS = dts
				dtsValid = true
			}
			batch = append(batch, msg)
		}

		c.nconn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		err := c.sconn.WriteBatch(batch)
		if err != nil {
			consumer.Interrupt()
			return err
		}

		c.rates.Drain(&c.netIn)

		if c.sconn.Duration > 0 && elapsed >= c.sconn.Duration {
			return errDurationExceeded
		}

		if v := time.Duration(cnf.SendMinInterval); v > 0 {
			time.Sleep(v)
		}
	}
}

// withServerStreamID rebinds a shared message to the message stream of
// this connection. Shared messages are never modified in place.
func withServerStreamID(msg message.Message) (message.Message, time.Duration, bool) {
	switch tmsg := msg.(type) {
	case *message.Audio:
		out := *tmsg
		out.MessageStreamID = rtmp.ServerStreamID
		return &out, tmsg.DTS, true

	case *message.Video:
		out := *tmsg
		out.MessageStreamID = rtmp.ServerStreamID
		return &out, tmsg.DTS, true

	case *message.DataAMF0:
		out := *tmsg
		out.MessageStreamID = rtmp.ServerStreamID
		return &out, 0, false
	}
	return msg, 0, false
}

func (c *conn) runPublish(cnf *conf.Vhost) error {
	err := auth.Authenticate(cnf, &auth.Request{
		Action:  auth.ActionPublish,
		IP:      c.ip(),
		PageURL: c.sconn.PageURL,
	})
	if err != nil {
		return err
	}

	if cnf.EdgeTokenTraverse {
		err = c.tokenTraverse(cnf)
		if err != nil {
			return err
		}
	}

	err = c.hooks.OnPublish(cnf, c.event())
	if err != nil {
		return err
	}

	source := c.sourceManager.GetOrCreate(c.req.key(), cnf, c.req.param)

	err = source.AcquirePublish(cnf.Edge, c.req.param)
	if err != nil {
		return err
	}
	defer func() {
		source.ReleasePublish(c.currentVhost().Edge)
		c.stats.OnUnpublish(c.req.key())
		c.hooks.OnUnpublish(c.currentVhost(), c.event()) //nolint:errcheck
	}()

	err = c.sconn.StartPublish()
	if err != nil {
		return err
	}

	unregister := c.registerClient(true)
	defer unregister()

	c.stats.OnPublish(c.req.key(), source.Properties, &c.rates)

	c.Log(logger.Info, "is publishing stream %s", c.req.streamURL())

	return c.publishLoop(cnf, source)
}

// tokenTraverse validates the connect arguments against the configured
// origins: the first origin that accepts the connect authorizes the
// publisher.
func (c *conn) tokenTraverse(cnf *conf.Vhost) error {
	for _, origin := range cnf.EdgeOrigins {
		u, err := url.Parse(fmt.Sprintf("rtmp://%s/%s", origin, c.req.app))
		if err != nil {
			continue
		}

		client := &rtmp.Client{
			URL:         u,
			ConnectOnly: true,
			ConnectArgs: c.sconn.ConnectArgs,
		}

		ctx, cancel := context.WithTimeout(c.ctx, tokenTraverseTimeout)
		err = client.Initialize(ctx)
		cancel()

		if err == nil {
			client.Close()
			c.Log(logger.Debug, "token traverse: authorized by %s", origin)
			return nil
		}

		c.Log(logger.Warn, "token traverse: origin %s rejected: %v", origin, err)
	}

	return &auth.Error{Message: "token traverse: no origin authorized the publish"}
}

func (c *conn) publishLoop(cnf *conf.Vhost, source *stream.Source) error {
	edge := cnf.Edge
	firstPacket := true
	prevCnf := cnf

	for {
		timeout := time.Duration(cnf.PublishNormalTimeout)
		if firstPacket {
			timeout = time.Duration(cnf.PublishFirstPacketTimeout)
		}
		c.nconn.SetReadDeadline(time.Now().Add(timeout))

		msg, err := c.sconn.Read()
		if err != nil {
			return err
		}

		cnf = c.currentVhost()
		if cnf != prevCnf {
			prevCnf = cnf
		}

		switch tmsg := msg.(type) {
		case *message.Audio:
			firstPacket = false
			if edge {
				err = source.OnEdgeProxyPublish(tmsg)
			} else {
				err = source.OnAudio(tmsg)
			}

		case *message.Video:
			firstPacket = false
			if edge {
				err = source.OnEdgeProxyPublish(tmsg)
			} else {
				err = source.OnVideo(tmsg)
				c.stats.OnVideoFrames(c.req.key(), 1)
			}

		case *message.DataAMF0:
			firstPacket = false
			if edge {
				err = source.OnEdgeProxyPublish(tmsg)
			} else {
				err = source.OnData(tmsg)
			}

		case *message.DataAMF3:
			firstPacket = false
			data := &message.DataAMF0{
				ChunkStreamID:   tmsg.ChunkStreamID,
				DTS:             tmsg.DTS,
				MessageStreamID: tmsg.MessageStreamID,
				Payload:         tmsg.Payload,
			}
			if edge {
				err = source.OnEdgeProxyPublish(data)
			} else {
				err = source.OnData(data)
			}

		case *message.Aggregate:
			firstPacket = false
			if edge {
				err = source.OnEdgeProxyPublish(tmsg)
			} else {
				err = source.OnAggregate(tmsg)
			}

		case *message.UserControlPingRequest:
			err = c.sconn.Write(&message.UserControlPingResponse{
				ServerTime: tmsg.ServerTime,
			})

		case *message.SetChunkSize:
			c.warnLargeChunkSize(tmsg)

		default:
			if cmd := rtmp.CommandOf(msg); cmd != nil {
				switch cmd.Name {
				case "FCUnpublish":
					err = c.sconn.WriteUnpublish(cmd.CommandID)
					if err != nil {
						return err
					}
					return errRepublish

				case "closeStream", "deleteStream":
					return errRTMPClose

				default:
					err = c.sconn.WriteCallResponse(cmd)
				}
			}
		}
		if err != nil {
			return err
		}

		c.rates.Drain(&c.netIn)
	}
}
