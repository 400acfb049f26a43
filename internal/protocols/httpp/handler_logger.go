package httpp

import (
	"net/http"

	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
)

// log requests.
type handlerLogger struct {
	h      http.Handler
	parent logger.Writer
}

func (h *handlerLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.parent.Log(logger.Debug, "[conn %v] %s %s", r.RemoteAddr, r.Method, r.URL.Path)
	h.h.ServeHTTP(w, r)
}
