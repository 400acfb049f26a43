// Package rtmp implements the RTMP protocol.
package rtmp

import (
	"strings"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

// ServerStreamID is the ID of the message stream created by createStream.
// A connection carries a single stream.
const ServerStreamID = 1

// chunk streams used by command and status messages.
const (
	commandChunkStreamID = 3
	streamChunkStreamID  = 5
)

// status levels.
const (
	StatusLevelStatus = "status"
	StatusLevelError  = "error"
)

// status codes.
const (
	StatusCodeConnectSuccess   = "NetConnection.Connect.Success"
	StatusCodeConnectRejected  = "NetConnection.Connect.Rejected"
	StatusCodeDataStart        = "NetStream.Data.Start"
	StatusCodePauseNotify      = "NetStream.Pause.Notify"
	StatusCodePlayReset        = "NetStream.Play.Reset"
	StatusCodePlayStart        = "NetStream.Play.Start"
	StatusCodePublishStart     = "NetStream.Publish.Start"
	StatusCodeUnpauseNotify    = "NetStream.Unpause.Notify"
	StatusCodeUnpublishSuccess = "NetStream.Unpublish.Success"
)

// Conn is implemented by Client and ServerConn.
type Conn interface {
	BytesReceived() uint64
	BytesSent() uint64
	Read() (message.Message, error)
	Write(msg message.Message) error
}

// commands whose name is reserved by the protocol. Anything else is a
// generic call.
var reservedCommands = map[string]struct{}{
	"_error":        {},
	"_result":       {},
	"closeStream":   {},
	"connect":       {},
	"createStream":  {},
	"deleteStream":  {},
	"FCPublish":     {},
	"FCUnpublish":   {},
	"onBWDone":      {},
	"onStatus":      {},
	"pause":         {},
	"play":          {},
	"play2":         {},
	"publish":       {},
	"receiveAudio":  {},
	"receiveVideo":  {},
	"releaseStream": {},
}

// CommandOf returns the command carried by a message, normalizing the
// AMF3 variant that some encoders use even for plain commands.
// It returns nil when the message is not a command.
func CommandOf(msg message.Message) *message.CommandAMF0 {
	switch cmd := msg.(type) {
	case *message.CommandAMF0:
		return cmd

	case *message.CommandAMF3:
		return &message.CommandAMF0{
			ChunkStreamID:   cmd.ChunkStreamID,
			MessageStreamID: cmd.MessageStreamID,
			Name:            cmd.Name,
			CommandID:       cmd.CommandID,
			Arguments:       cmd.Arguments,
		}
	}
	return nil
}

// readCommand reads messages until a command arrives.
func readCommand(mr *message.Reader) (*message.CommandAMF0, error) {
	for {
		msg, err := mr.Read()
		if err != nil {
			return nil, err
		}

		if cmd := CommandOf(msg); cmd != nil {
			return cmd, nil
		}
	}
}

func statusMessage(level string, code string, description string) *message.CommandAMF0 {
	return &message.CommandAMF0{
		ChunkStreamID:   streamChunkStreamID,
		MessageStreamID: ServerStreamID,
		Name:            "onStatus",
		CommandID:       0,
		Arguments: amf0.Data{
			nil,
			amf0.Object{
				{Key: "level", Value: level},
				{Key: "code", Value: code},
				{Key: "description", Value: description},
			},
		},
	}
}

// statusProperty extracts a string property from the objects carried by
// a status or result command.
func statusProperty(cmd *message.CommandAMF0, key string) (string, bool) {
	for _, arg := range cmd.Arguments {
		if obj, ok := objectOrArray(arg); ok {
			if v, ok := obj.GetString(key); ok {
				return v, true
			}
		}
	}
	return "", false
}

// QueryDecode decodes the query string attached to RTMP paths.
// Unlike URL queries, it is not percent-encoded.
func QueryDecode(enc string) map[string]string {
	vals := make(map[string]string)

	for _, kv := range strings.Split(enc, "&") {
		if kv == "" {
			continue
		}

		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) == 2 {
			vals[tmp[0]] = tmp[1]
		} else {
			vals[tmp[0]] = ""
		}
	}

	return vals
}

func splitPath(path string) (string, string) {
	path = strings.TrimPrefix(path, "/")

	// the query of the app name belongs to the app name
	pos := len(path)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		pos = i
	}

	if i := strings.IndexByte(path[:pos], '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}
