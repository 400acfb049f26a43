package httpp

import (
	"net/http"
	"os"
	"runtime/debug"
)

// exit when a panic arises, instead of recovering and logging it.
// This avoids silencing bugs.
type handlerExitOnPanic struct {
	h http.Handler
}

func (h *handlerExitOnPanic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	h.h.ServeHTTP(w, r)
}
