package confwatcher

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfWatcher(t *testing.T) {
	tmpf, err := os.CreateTemp(os.TempDir(), "confwatcher-")
	require.NoError(t, err)
	defer os.Remove(tmpf.Name())

	_, err = tmpf.Write([]byte("{}"))
	require.NoError(t, err)
	tmpf.Close()

	w := &ConfWatcher{FilePath: tmpf.Name()}
	err = w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	func() {
		f, err := os.OpenFile(tmpf.Name(), os.O_WRONLY|os.O_TRUNC, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("changed"))
		require.NoError(t, err)
	}()

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Error("timed out")
	}
}
