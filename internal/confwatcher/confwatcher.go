// Package confwatcher contains a configuration watcher.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// ConfWatcher is a configuration file watcher.
type ConfWatcher struct {
	FilePath string

	inner        *fsnotify.Watcher
	absolutePath string

	// out
	signal chan struct{}
	done   chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	var err error
	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// use both the absolute path and the parent directory:
	// the file can be removed and recreated by editors.
	w.absolutePath, _ = filepath.Abs(w.FilePath)
	err = w.inner.Add(filepath.Dir(w.absolutePath))
	if err != nil {
		w.inner.Close()
		return err
	}

	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	go func() {
		for range w.signal {
		}
	}()
	w.inner.Close()
	<-w.done
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastCalled time.Time

outer:
	for {
		select {
		case event := <-w.inner.Events:
			if time.Since(lastCalled) < minInterval {
				continue
			}

			evPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			if (event.Op&fsnotify.Write) == fsnotify.Write ||
				(event.Op&fsnotify.Create) == fsnotify.Create {
				if evPath != w.absolutePath {
					continue
				}

				if _, err := os.Stat(w.absolutePath); err != nil {
					continue
				}

				// wait some additional time to allow the writer to finish
				time.Sleep(additionalWait)

				lastCalled = time.Now()
				w.signal <- struct{}{}
			}

		case <-w.inner.Errors:
			break outer
		}
	}

	close(w.signal)
}

// Watch returns when the configuration file has changed.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}
