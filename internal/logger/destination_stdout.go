package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

type destinationStdout struct {
	useColor bool
	out      io.Writer
	buf      bytes.Buffer
}

func newDestinationStdout() destination {
	return &destinationStdout{
		useColor: term.IsTerminal(int(os.Stdout.Fd())),
		out:      os.Stdout,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	writeTime(&d.buf, t, d.useColor)
	writeLevel(&d.buf, level, d.useColor)
	writeContent(&d.buf, format, args)
	d.out.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}
