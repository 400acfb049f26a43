package rtmp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/handshake"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

func clientAddress(u *url.URL) string {
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "1935")
	}
	return u.Host
}

// Client is a client-side RTMP connection.
type Client struct {
	// the RTMP URL of the peer.
	URL *url.URL

	// open the stream in publish mode.
	Publish bool

	// stop after the connect exchange, without joining a stream.
	// Used to probe another server.
	ConnectOnly bool

	// additional object appended to the connect command.
	ConnectArgs amf0.Object

	nconn     net.Conn
	bc        *bytecounter.ReadWriter
	mr        *message.Reader
	mw        *message.Writer
	wmu       sync.Mutex
	commandID int
	pending   map[int]string
	streamID  uint32
}

// Initialize dials the peer and performs the opening sequence.
// The context bounds the dial; when it carries a deadline, the deadline
// covers the whole sequence.
func (c *Client) Initialize(ctx context.Context) error {
	if c.URL.Scheme != "rtmp" {
		return fmt.Errorf("unsupported scheme: %s", c.URL.Scheme)
	}

	pathWithQuery := c.URL.Path
	if c.URL.RawQuery != "" {
		pathWithQuery += "?" + c.URL.RawQuery
	}
	app, streamKey := splitPath(pathWithQuery)

	d := net.Dialer{}
	nconn, err := d.DialContext(ctx, "tcp", clientAddress(c.URL))
	if err != nil {
		return err
	}
	c.nconn = nconn

	if deadline, ok := ctx.Deadline(); ok {
		err = c.nconn.SetDeadline(deadline)
		if err != nil {
			c.nconn.Close()
			return err
		}
	}

	err = c.initialize(app, streamKey)
	if err != nil {
		c.nconn.Close()
		return err
	}

	err = c.nconn.SetDeadline(time.Time{})
	if err != nil {
		c.nconn.Close()
		return err
	}

	return nil
}

func (c *Client) initialize(app string, streamKey string) error {
	c.pending = make(map[int]string)

	c.bc = bytecounter.NewReadWriter(c.nconn)

	err := handshake.DoClient(c.bc)
	if err != nil {
		return err
	}

	br := &readbuffer.Buffer{Reader: c.bc.Reader}
	br.Initialize()

	c.mr = message.NewReader(br, c.bc.Reader, func(count uint32) error {
		return c.writeMessages(&message.Acknowledge{Value: count})
	})
	c.mw = message.NewWriter(c.nconn, c.bc.Writer, true)

	connectArgs := amf0.Data{
		amf0.Object{
			{Key: "app", Value: app},
			{Key: "flashVer", Value: "LNX 9,0,124,2"},
			{Key: "tcUrl", Value: c.URL.Scheme + "://" + c.URL.Host + "/" + app},
			{Key: "fpad", Value: false},
			{Key: "capabilities", Value: float64(15)},
			{Key: "audioCodecs", Value: float64(4071)},
			{Key: "videoCodecs", Value: float64(252)},
			{Key: "videoFunction", Value: float64(1)},
		},
	}
	if c.ConnectArgs != nil {
		connectArgs = append(connectArgs, c.ConnectArgs)
	}

	connectID := c.nextCommandID("connect")

	err = c.writeMessages(
		&message.SetWindowAckSize{
			Value: defaultWindowAckSize,
		},
		&message.SetPeerBandwidth{
			Value: defaultPeerBandwidth,
			Type:  2,
		},
		&message.SetChunkSize{
			Value: defaultChunkSize,
		},
		&message.CommandAMF0{
			ChunkStreamID: commandChunkStreamID,
			Name:          "connect",
			CommandID:     connectID,
			Arguments:     connectArgs,
		},
	)
	if err != nil {
		return err
	}

	res, err := c.awaitResult(connectID)
	if err != nil {
		return err
	}

	if code, ok := statusProperty(res, "code"); ok && code != StatusCodeConnectSuccess {
		return fmt.Errorf("connect rejected: %s", code)
	}

	if c.ConnectOnly {
		return nil
	}

	if c.Publish {
		return c.startPublishing(streamKey)
	}
	return c.startReading(streamKey)
}

func (c *Client) startReading(streamKey string) error {
	sid, err := c.createStream()
	if err != nil {
		return err
	}
	c.streamID = sid

	playID := c.nextCommandID("play")

	err = c.writeMessages(
		&message.UserControlSetBufferLength{
			StreamID:     sid,
			BufferLength: 0x64,
		},
		&message.CommandAMF0{
			ChunkStreamID:   streamChunkStreamID,
			MessageStreamID: sid,
			Name:            "play",
			CommandID:       playID,
			Arguments: amf0.Data{
				nil,
				streamKey,
			},
		},
	)
	if err != nil {
		return err
	}

	return c.awaitStatus(StatusCodePlayStart, StatusCodePlayReset)
}

func (c *Client) startPublishing(streamKey string) error {
	err := c.writeMessages(
		&message.CommandAMF0{
			ChunkStreamID: commandChunkStreamID,
			Name:          "releaseStream",
			CommandID:     c.nextCommandID("releaseStream"),
			Arguments: amf0.Data{
				nil,
				streamKey,
			},
		},
		&message.CommandAMF0{
			ChunkStreamID: commandChunkStreamID,
			Name:          "FCPublish",
			CommandID:     c.nextCommandID("FCPublish"),
			Arguments: amf0.Data{
				nil,
				streamKey,
			},
		},
	)
	if err != nil {
		return err
	}

	sid, err := c.createStream()
	if err != nil {
		return err
	}
	c.streamID = sid

	err = c.writeMessages(&message.CommandAMF0{
		ChunkStreamID:   streamChunkStreamID,
		MessageStreamID: sid,
		Name:            "publish",
		CommandID:       c.nextCommandID("publish"),
		Arguments: amf0.Data{
			nil,
			streamKey,
			"live",
		},
	})
	if err != nil {
		return err
	}

	return c.awaitStatus(StatusCodePublishStart)
}

func (c *Client) createStream() (uint32, error) {
	createID := c.nextCommandID("createStream")

	err := c.writeMessages(&message.CommandAMF0{
		ChunkStreamID: commandChunkStreamID,
		Name:          "createStream",
		CommandID:     createID,
		Arguments: amf0.Data{
			nil,
		},
	})
	if err != nil {
		return 0, err
	}

	res, err := c.awaitResult(createID)
	if err != nil {
		return 0, err
	}

	if len(res.Arguments) < 2 {
		return 0, fmt.Errorf("invalid createStream result: %+v", res)
	}

	sid, ok := res.Arguments[1].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid createStream result: %+v", res)
	}

	return uint32(sid), nil
}

func (c *Client) nextCommandID(name string) int {
	c.commandID++
	c.pending[c.commandID] = name
	return c.commandID
}

// awaitResult reads until the result of a given command arrives.
// Results of commands sent without waiting are discarded on the way.
func (c *Client) awaitResult(commandID int) (*message.CommandAMF0, error) {
	for {
		cmd, err := c.readCommand()
		if err != nil {
			return nil, err
		}

		if cmd.Name != "_result" && cmd.Name != "_error" {
			continue
		}

		name, ok := c.pending[cmd.CommandID]
		if !ok {
			continue
		}
		delete(c.pending, cmd.CommandID)

		if cmd.CommandID != commandID {
			continue
		}

		if cmd.Name == "_error" {
			if code, ok := statusProperty(cmd, "code"); ok {
				return nil, fmt.Errorf("%s failed: %s", name, code)
			}
			return nil, fmt.Errorf("%s failed", name)
		}

		return cmd, nil
	}
}

// awaitStatus reads until one of the given status codes arrives.
func (c *Client) awaitStatus(codes ...string) error {
	for {
		cmd, err := c.readCommand()
		if err != nil {
			return err
		}

		if cmd.Name != "onStatus" {
			continue
		}

		code, ok := statusProperty(cmd, "code")
		if !ok {
			continue
		}

		for _, expected := range codes {
			if code == expected {
				return nil
			}
		}

		if level, ok := statusProperty(cmd, "level"); ok && level == StatusLevelError {
			return fmt.Errorf("stream rejected: %s", code)
		}
	}
}

func (c *Client) readCommand() (*message.CommandAMF0, error) {
	for {
		msg, err := c.Read()
		if err != nil {
			return nil, err
		}

		if cmd := CommandOf(msg); cmd != nil {
			return cmd, nil
		}
	}
}

func (c *Client) writeMessages(msgs ...message.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	for _, msg := range msgs {
		err := c.mw.Write(msg)
		if err != nil {
			return err
		}
	}

	return c.mw.Flush()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nconn.Close()
}

// NetConn returns the underlying net.Conn, to set deadlines on it.
func (c *Client) NetConn() net.Conn {
	return c.nconn
}

// StreamID returns the stream ID assigned by the peer during createStream.
func (c *Client) StreamID() uint32 {
	return c.streamID
}

// BytesReceived returns the number of bytes received.
func (c *Client) BytesReceived() uint64 {
	return c.bc.Reader.Count()
}

// BytesSent returns the number of bytes sent.
func (c *Client) BytesSent() uint64 {
	return c.bc.Writer.Count()
}

// Read reads a message.
func (c *Client) Read() (message.Message, error) {
	for {
		msg, err := c.mr.Read()
		if err != nil {
			return nil, err
		}

		if ack, ok := msg.(*message.Acknowledge); ok {
			c.mw.SetAcknowledgeValue(ack.Value)
			continue
		}

		return msg, nil
	}
}

// Write writes a message.
func (c *Client) Write(msg message.Message) error {
	return c.writeMessages(msg)
}

// WriteBatch writes a group of messages with a single network write.
func (c *Client) WriteBatch(msgs []message.Message) error {
	return c.writeMessages(msgs...)
}
