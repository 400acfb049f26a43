package message

import (
	"io"

	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/bytecounter"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/rawmessage"
)

// Writer is a message writer.
type Writer struct {
	w *rawmessage.Writer
}

// NewWriter allocates a Writer.
func NewWriter(
	destination io.Writer,
	bcw *bytecounter.Writer,
	checkAcks bool,
) *Writer {
	return &Writer{
		w: rawmessage.NewWriter(destination, bcw, checkAcks),
	}
}

// Write composes a Message. It reaches the destination on the next Flush.
func (w *Writer) Write(msg Message) error {
	raw, err := msg.marshal()
	if err != nil {
		return err
	}

	err = w.w.Write(raw)
	if err != nil {
		return err
	}

	// outgoing chunk size and window take effect after the message
	// that announces them
	switch tmsg := msg.(type) {
	case *SetChunkSize:
		w.w.SetChunkSize(tmsg.Value)

	case *SetWindowAckSize:
		w.w.SetWindowAckSize(tmsg.Value)
	}

	return nil
}

// Flush sends all composed messages to the destination.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// SetAcknowledgeValue sets the byte count acknowledged by the peer.
func (w *Writer) SetAcknowledgeValue(v uint32) {
	w.w.SetAcknowledgeValue(v)
}
