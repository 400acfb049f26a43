package logger

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerToFile(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l := &Logger{
		Level:        Debug,
		Destinations: []Destination{DestinationFile},
		FilePath:     tempFile.Name(),
		timeNow: func() time.Time {
			return time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC)
		},
	}
	err = l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "test format %d", 123)

	byts, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.Equal(t, "2003/11/04 23:15:08 INF test format 123\n", string(byts))
}

func TestLoggerLevelFilter(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l := &Logger{
		Level:        Warn,
		Destinations: []Destination{DestinationFile},
		FilePath:     tempFile.Name(),
		timeNow: func() time.Time {
			return time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC)
		},
	}
	err = l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Debug, "hidden")
	l.Log(Info, "hidden")
	l.Log(Error, "shown")

	byts, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.Equal(t, "2003/11/04 23:15:08 ERR shown\n", string(byts))
}
