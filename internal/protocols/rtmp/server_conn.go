package rtmp

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/handshake"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/readbuffer"
)

const (
	defaultWindowAckSize = 2500000
	defaultPeerBandwidth = 2500000
	defaultChunkSize     = 65536

	// maximum nesting of createStream commands during identification.
	createStreamMaxDepth = 3
)

// ConnType is the type of a server-side connection.
type ConnType int

// connection types.
const (
	ConnTypePlay ConnType = iota
	ConnTypePublishFMLE
	ConnTypePublishFlash
	ConnTypePublishHaivision
)

// IsPublish reports whether the peer is a publisher.
func (t ConnType) IsPublish() bool {
	return t != ConnTypePlay
}

// String implements fmt.Stringer.
func (t ConnType) String() string {
	switch t {
	case ConnTypePlay:
		return "play"
	case ConnTypePublishFMLE:
		return "fmle-publish"
	case ConnTypePublishFlash:
		return "flash-publish"
	case ConnTypePublishHaivision:
		return "haivision-publish"
	}
	return "unknown"
}

func objectOrArray(in interface{}) (amf0.Object, bool) {
	switch o := in.(type) {
	case amf0.Object:
		return o, true

	case amf0.ECMAArray:
		return amf0.Object(o), true

	default:
		return nil, false
	}
}

// ServerConn is a server-side RTMP connection.
type ServerConn struct {
	RW io.ReadWriter

	// size of outgoing chunks. It defaults to 65536.
	OutChunkSize uint32

	// window acknowledgement size requested to the peer.
	// It defaults to 2500000.
	OutWindowAckSize uint32

	// window acknowledgement size applied to incoming data.
	// Zero keeps the protocol default.
	InWindowAckSize uint32

	// filled by Initialize
	App             string
	TCURL           string
	PageURL         string
	SwfURL          string
	FlashVer        string
	ObjectEncoding  float64
	ConnectArgs     amf0.Object
	SimpleHandshake bool
	ProxyRealIP     net.IP

	// filled by Identify
	Type      ConnType
	StreamKey string
	Duration  time.Duration

	connectCmd    *message.CommandAMF0
	connectObject amf0.Object
	bc            *bytecounter.ReadWriter
	mr            *message.Reader
	mw            *message.Writer
	wmu           sync.Mutex
}

// Initialize performs the handshake and reads the connect command.
// The connection is not replied to until Accept is called, allowing
// the caller to reject or redirect it first.
func (c *ServerConn) Initialize() error {
	c.bc = bytecounter.NewReadWriter(c.RW)

	hres, err := handshake.DoServer(c.bc)
	if err != nil {
		return err
	}
	c.SimpleHandshake = hres.Simple
	c.ProxyRealIP = hres.ProxyRealIP

	br := &readbuffer.Buffer{Reader: c.bc.Reader}
	br.Initialize()

	c.mr = message.NewReader(br, c.bc.Reader, func(count uint32) error {
		return c.writeMessages(&message.Acknowledge{Value: count})
	})
	c.mw = message.NewWriter(c.RW, c.bc.Writer, false)

	c.connectCmd, err = readCommand(c.mr)
	if err != nil {
		return err
	}

	if c.connectCmd.Name != "connect" {
		return fmt.Errorf("unexpected command: %+v", c.connectCmd)
	}

	if len(c.connectCmd.Arguments) < 1 {
		return fmt.Errorf("invalid connect command: %+v", c.connectCmd)
	}

	var ok bool
	c.connectObject, ok = objectOrArray(c.connectCmd.Arguments[0])
	if !ok {
		return fmt.Errorf("invalid connect command: %+v", c.connectCmd)
	}

	c.App, ok = c.connectObject.GetString("app")
	if !ok {
		return fmt.Errorf("invalid connect command: %+v", c.connectCmd)
	}

	c.TCURL, ok = c.connectObject.GetString("tcUrl")
	if !ok {
		c.TCURL, ok = c.connectObject.GetString("tcurl")
		if !ok {
			return fmt.Errorf("invalid connect command: %+v", c.connectCmd)
		}
	}

	// some encoders wrap the URL in single quotes
	c.TCURL = strings.Trim(c.TCURL, "'")

	c.PageURL, _ = c.connectObject.GetString("pageUrl")
	c.SwfURL, _ = c.connectObject.GetString("swfUrl")
	c.FlashVer, _ = c.connectObject.GetString("flashVer")
	c.ObjectEncoding, _ = c.connectObject.GetFloat64("objectEncoding")

	if len(c.connectCmd.Arguments) >= 2 {
		if args, ok := objectOrArray(c.connectCmd.Arguments[1]); ok {
			c.ConnectArgs = args
		}
	}

	return nil
}

// Accept replies to the connect command, accepting the connection.
func (c *ServerConn) Accept() error {
	outWindow := c.OutWindowAckSize
	if outWindow == 0 {
		outWindow = defaultWindowAckSize
	}

	outChunkSize := c.OutChunkSize
	if outChunkSize == 0 {
		outChunkSize = defaultChunkSize
	}

	if c.InWindowAckSize != 0 {
		c.mr.SetWindowAckSize(c.InWindowAckSize)
	}

	return c.writeMessages(
		&message.SetWindowAckSize{
			Value: outWindow,
		},
		&message.SetPeerBandwidth{
			Value: defaultPeerBandwidth,
			Type:  2,
		},
		&message.SetChunkSize{
			Value: outChunkSize,
		},
		&message.CommandAMF0{
			ChunkStreamID: c.connectCmd.ChunkStreamID,
			Name:          "_result",
			CommandID:     c.connectCmd.CommandID,
			Arguments: amf0.Data{
				amf0.Object{
					{Key: "fmsVer", Value: "LNX 9,0,124,2"},
					{Key: "capabilities", Value: float64(31)},
				},
				amf0.Object{
					{Key: "level", Value: StatusLevelStatus},
					{Key: "code", Value: StatusCodeConnectSuccess},
					{Key: "description", Value: "Connection succeeded."},
					{Key: "objectEncoding", Value: c.ObjectEncoding},
				},
			},
		},
		&message.CommandAMF0{
			ChunkStreamID: commandChunkStreamID,
			Name:          "onBWDone",
			CommandID:     0,
			Arguments:     amf0.Data{nil},
		},
	)
}

// Redirect rejects the connection, pointing the peer to another server.
// It reports whether the peer acknowledged the redirection with a call
// carrying a string argument. Read errors are swallowed, since the peer
// is free to just disconnect; the caller bounds the wait with a read
// deadline.
func (c *ServerConn) Redirect(rtmpURL string) (bool, error) {
	tcURL := rtmpURL
	if i := strings.LastIndexByte(rtmpURL, '/'); i > 0 {
		tcURL = rtmpURL[:i]
	}

	err := c.writeMessages(&message.CommandAMF0{
		ChunkStreamID: streamChunkStreamID,
		Name:          "onStatus",
		CommandID:     0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: StatusLevelError},
				{Key: "code", Value: StatusCodeConnectRejected},
				{Key: "description", Value: "RTMP 302 Redirect"},
				{Key: "ex", Value: amf0.Object{
					{Key: "code", Value: float64(302)},
					{Key: "redirect", Value: tcURL},
					{Key: "redirect2", Value: rtmpURL},
				}},
			},
		},
	})
	if err != nil {
		return false, err
	}

	for {
		cmd, err := readCommand(c.mr)
		if err != nil {
			return false, nil //nolint:nilerr
		}

		if _, ok := reservedCommands[cmd.Name]; ok {
			continue
		}

		if len(cmd.Arguments) >= 2 {
			if _, ok := cmd.Arguments[1].(string); ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Identify classifies the peer, replying to the commands it sends until
// play or publish is requested. It can be called again after an
// unpublish to serve a republish on the same connection.
func (c *ServerConn) Identify() error {
	for {
		cmd, err := readCommand(c.mr)
		if err != nil {
			return err
		}

		switch cmd.Name {
		case "createStream":
			return c.identifyCreateStream(cmd, createStreamMaxDepth)

		case "releaseStream":
			return c.identifyEncoderPublish(cmd, ConnTypePublishFMLE)

		case "FCPublish":
			return c.identifyEncoderPublish(cmd, ConnTypePublishFMLE)

		case "play":
			return c.identifyPlay(cmd)

		case "publish":
			return c.identifyFlashPublish(cmd)

		default:
			err = c.WriteCallResponse(cmd)
			if err != nil {
				return err
			}
		}
	}
}

func (c *ServerConn) identifyCreateStream(cmd *message.CommandAMF0, depth int) error {
	if depth <= 0 {
		return fmt.Errorf("createStream recursion too deep")
	}

	err := c.writeMessages(&message.CommandAMF0{
		ChunkStreamID: cmd.ChunkStreamID,
		Name:          "_result",
		CommandID:     cmd.CommandID,
		Arguments: amf0.Data{
			nil,
			float64(ServerStreamID),
		},
	})
	if err != nil {
		return err
	}

	for {
		cmd, err = readCommand(c.mr)
		if err != nil {
			return err
		}

		switch cmd.Name {
		case "createStream":
			return c.identifyCreateStream(cmd, depth-1)

		case "FCPublish":
			// FCPublish after createStream identifies a Haivision encoder
			return c.identifyEncoderPublish(cmd, ConnTypePublishHaivision)

		case "play":
			return c.identifyPlay(cmd)

		case "publish":
			return c.identifyFlashPublish(cmd)

		default:
			err = c.WriteCallResponse(cmd)
			if err != nil {
				return err
			}
		}
	}
}

func (c *ServerConn) identifyPlay(cmd *message.CommandAMF0) error {
	err := c.setStreamKey(cmd)
	if err != nil {
		return err
	}

	c.Type = ConnTypePlay

	c.Duration = -1
	if len(cmd.Arguments) >= 4 {
		if v, ok := cmd.Arguments[3].(float64); ok && v > 0 {
			c.Duration = time.Duration(v) * time.Millisecond
		}
	}

	return nil
}

func (c *ServerConn) identifyEncoderPublish(cmd *message.CommandAMF0, typ ConnType) error {
	err := c.setStreamKey(cmd)
	if err != nil {
		return err
	}

	c.Type = typ

	return c.writeMessages(&message.CommandAMF0{
		ChunkStreamID: cmd.ChunkStreamID,
		Name:          "_result",
		CommandID:     cmd.CommandID,
		Arguments: amf0.Data{
			nil,
			amf0.Undefined{},
		},
	})
}

func (c *ServerConn) identifyFlashPublish(cmd *message.CommandAMF0) error {
	err := c.setStreamKey(cmd)
	if err != nil {
		return err
	}

	c.Type = ConnTypePublishFlash
	return nil
}

func (c *ServerConn) setStreamKey(cmd *message.CommandAMF0) error {
	if len(cmd.Arguments) < 2 {
		return fmt.Errorf("invalid %s command: %+v", cmd.Name, cmd)
	}

	key, ok := cmd.Arguments[1].(string)
	if !ok {
		return fmt.Errorf("invalid %s command: %+v", cmd.Name, cmd)
	}

	c.StreamKey = key
	return nil
}

// StartPlay sends the play response sequence.
func (c *ServerConn) StartPlay() error {
	return c.writeMessages(
		&message.UserControlStreamBegin{
			StreamID: ServerStreamID,
		},
		statusMessage(StatusLevelStatus, StatusCodePlayReset, "Playing and resetting stream."),
		statusMessage(StatusLevelStatus, StatusCodePlayStart, "Started playing stream."),
		&message.DataAMF0{
			ChunkStreamID:   streamChunkStreamID,
			MessageStreamID: ServerStreamID,
			Payload: amf0.Data{
				"|RtmpSampleAccess",
				true,
				true,
			},
		},
		&message.DataAMF0{
			ChunkStreamID:   streamChunkStreamID,
			MessageStreamID: ServerStreamID,
			Payload: amf0.Data{
				"onStatus",
				amf0.Object{
					{Key: "code", Value: StatusCodeDataStart},
				},
			},
		},
	)
}

// StartPublish sends the publish response sequence of the identified
// publisher variant. For encoder publishers it keeps replying to setup
// commands until the publish command arrives.
func (c *ServerConn) StartPublish() error {
	switch c.Type {
	case ConnTypePublishFMLE, ConnTypePublishHaivision:
		return c.startEncoderPublish()

	case ConnTypePublishFlash:
		return c.writeMessages(
			statusMessage(StatusLevelStatus, StatusCodePublishStart, "Started publishing stream."),
		)

	default:
		return fmt.Errorf("connection is not a publisher")
	}
}

func (c *ServerConn) startEncoderPublish() error {
	for {
		cmd, err := readCommand(c.mr)
		if err != nil {
			return err
		}

		switch cmd.Name {
		case "releaseStream", "FCPublish":
			err = c.writeMessages(&message.CommandAMF0{
				ChunkStreamID: cmd.ChunkStreamID,
				Name:          "_result",
				CommandID:     cmd.CommandID,
				Arguments: amf0.Data{
					nil,
					amf0.Undefined{},
				},
			})

		case "createStream":
			err = c.writeMessages(&message.CommandAMF0{
				ChunkStreamID: cmd.ChunkStreamID,
				Name:          "_result",
				CommandID:     cmd.CommandID,
				Arguments: amf0.Data{
					nil,
					float64(ServerStreamID),
				},
			})

		case "publish":
			return c.writeMessages(
				onFCPublishMessage(),
				statusMessage(StatusLevelStatus, StatusCodePublishStart, "Started publishing stream."),
			)

		default:
			err = c.WriteCallResponse(cmd)
		}
		if err != nil {
			return err
		}
	}
}

func onFCPublishMessage() *message.CommandAMF0 {
	return &message.CommandAMF0{
		ChunkStreamID:   streamChunkStreamID,
		MessageStreamID: ServerStreamID,
		Name:            "onFCPublish",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "code", Value: StatusCodePublishStart},
				{Key: "description", Value: "Started publishing stream."},
			},
		},
	}
}

// WriteUnpublish acknowledges an FCUnpublish command.
func (c *ServerConn) WriteUnpublish(commandID int) error {
	return c.writeMessages(
		&message.CommandAMF0{
			ChunkStreamID:   streamChunkStreamID,
			MessageStreamID: ServerStreamID,
			Name:            "onFCUnpublish",
			CommandID:       0,
			Arguments: amf0.Data{
				nil,
				amf0.Object{
					{Key: "code", Value: StatusCodeUnpublishSuccess},
					{Key: "description", Value: "Stopped publishing stream."},
				},
			},
		},
		&message.CommandAMF0{
			ChunkStreamID: commandChunkStreamID,
			Name:          "_result",
			CommandID:     commandID,
			Arguments: amf0.Data{
				nil,
				amf0.Undefined{},
			},
		},
		statusMessage(StatusLevelStatus, StatusCodeUnpublishSuccess, "Stopped publishing stream."),
	)
}

// WritePauseResponse acknowledges a pause or unpause command.
func (c *ServerConn) WritePauseResponse(paused bool) error {
	if paused {
		return c.writeMessages(
			statusMessage(StatusLevelStatus, StatusCodePauseNotify, "Paused stream."),
			&message.UserControlStreamEOF{
				StreamID: ServerStreamID,
			},
		)
	}

	return c.writeMessages(
		statusMessage(StatusLevelStatus, StatusCodeUnpauseNotify, "Unpaused stream."),
		&message.UserControlStreamBegin{
			StreamID: ServerStreamID,
		},
	)
}

// WriteCallResponse acknowledges a call command with a null result, when
// the peer expects one.
func (c *ServerConn) WriteCallResponse(cmd *message.CommandAMF0) error {
	// zero means the peer does not expect a response
	if cmd.CommandID == 0 || cmd.Name == "_result" || cmd.Name == "_error" {
		return nil
	}

	return c.writeMessages(&message.CommandAMF0{
		ChunkStreamID: cmd.ChunkStreamID,
		Name:          "_result",
		CommandID:     cmd.CommandID,
		Arguments: amf0.Data{
			nil,
			nil,
		},
	})
}

func (c *ServerConn) writeMessages(msgs ...message.Message) error {
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

// BytesReceived returns the number of bytes received.
func (c *ServerConn) BytesReceived() uint64 {
	return c.bc.Reader.Count()
}

// BytesSent returns the number of bytes sent.
func (c *ServerConn) BytesSent() uint64 {
	return c.bc.Writer.Count()
}

// Read reads a message.
func (c *ServerConn) Read() (message.Message, error) {
	return c.mr.Read()
}

// Write writes a message.
func (c *ServerConn) Write(msg message.Message) error {
	return c.writeMessages(msg)
}

// WriteBatch writes a group of messages with a single network write.
func (c *ServerConn) WriteBatch(msgs []message.Message) error {
	return c.writeMessages(msgs...)
}
