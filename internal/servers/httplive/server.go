// Package httplive contains the HTTP live egress server.
package httplive

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/httpp"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

// Server is the HTTP live egress server. It transmuxes live sources
// into FLV, MPEG-TS, ADTS or MP3 progressive streams.
type Server struct {
	Address        string
	AllowOrigin    string
	TrustedProxies conf.IPNetworks
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Conf           *conf.Conf
	SourceManager  *stream.Manager
	Hooks          *hooks.Client
	Stats          *stats.Stats
	Parent         logger.Writer

	mu      sync.Mutex
	entries map[stream.Key]*liveEntry

	inner *httpp.Server
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	s.entries = make(map[stream.Key]*liveEntry)

	router := gin.New()
	router.SetTrustedProxies(s.TrustedProxies.ToTrustedProxies()) //nolint:errcheck

	router.Use(s.middlewareOrigin)

	// mounts are materialized from templates, not registered as routes.
	router.NoRoute(s.onRequest)

	s.inner = &httpp.Server{
		Address:      s.Address,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Handler:      router,
		Parent:       s,
	}
	err := s.inner.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", s.Address)

	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[HTTP] "+format, args...)
}

// Close closes the server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.inner.Close()

	s.mu.Lock()
	for key, e := range s.entries {
		e.close()
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// ReloadConf is called by core on a configuration change. Entries whose
// vhost was removed or lost the remux flag are unmounted; in-flight
// responses end when their publisher goes away.
func (s *Server) ReloadConf(newConf *conf.Conf) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Conf = newConf

	for key, e := range s.entries {
		cnf := newConf.FindVhost(key.Vhost)
		if cnf == nil || !cnf.Enabled || !cnf.HTTPRemux {
			s.Log(logger.Info, "unmounting %v: vhost removed or disabled", key)
			e.close()
			delete(s.entries, key)
		}
	}
}

func (s *Server) middlewareOrigin(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", s.AllowOrigin)
	ctx.Header("Access-Control-Allow-Credentials", "true")

	// preflight requests
	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Range")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

// requestVhost picks the vhost of a request: an explicit "vhost" query
// parameter wins over the Host header.
func requestVhost(ctx *gin.Context) string {
	if v := ctx.Query("vhost"); v != "" {
		return v
	}

	host := ctx.Request.Host
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if host != "" {
		return host
	}
	return conf.DefaultVhost
}

func (s *Server) onRequest(ctx *gin.Context) {
	if ctx.Request.Method != http.MethodGet {
		return
	}

	s.mu.Lock()
	cnf := s.Conf.FindVhost(requestVhost(ctx))
	s.mu.Unlock()

	if cnf == nil || !cnf.Enabled || !cnf.HTTPRemux {
		return
	}

	app, strm, ext, ok := matchMount(cnf.HTTPRemuxMount, ctx.Request.URL.Path)
	if !ok {
		return
	}

	key := stream.Key{Vhost: cnf.Name, App: app, Stream: strm}

	h := &handler{
		server: s,
		cnf:    cnf,
		key:    key,
		ext:    ext,
	}
	h.run(ctx)
}

// entry materializes the live entry of a mount, starting its audio fast
// cache on first use.
func (s *Server) entry(key stream.Key, source *stream.Source, fastCache time.Duration) *liveEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &liveEntry{
			source:    source,
			fastCache: fastCache,
		}
		e.initialize()
		s.entries[key] = e
		s.Log(logger.Debug, "mounted %v", key)
	}

	e.refs++
	return e
}

// release detaches a request from its entry; the last one unmounts it.
func (s *Server) release(key stream.Key, e *liveEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		e.close()
		delete(s.entries, key)
		s.Log(logger.Debug, "unmounted %v", key)
	}
}
