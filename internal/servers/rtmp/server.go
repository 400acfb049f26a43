// Package rtmp contains the RTMP server.
package rtmp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/restrictnetwork"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

type serverParent interface {
	logger.Writer
}

// Server is the RTMP server.
type Server struct {
	Address       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Conf          *conf.Conf
	SourceManager *stream.Manager
	Hooks         *hooks.Client
	Stats         *stats.Stats
	Parent        serverParent

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	ln        net.Listener
	conns     map[*conn]struct{}

	// in
	chNewConn    chan net.Conn
	chAcceptErr  chan error
	chCloseConn  chan *conn
	chReloadConf chan *conf.Conf
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	ln, err := net.Listen(restrictnetwork.Restrict("tcp", s.Address))
	if err != nil {
		return err
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	s.ln = ln
	s.conns = make(map[*conn]struct{})
	s.chNewConn = make(chan net.Conn)
	s.chAcceptErr = make(chan error)
	s.chCloseConn = make(chan *conn)
	s.chReloadConf = make(chan *conf.Conf)

	s.Log(logger.Info, "listener opened on %s", s.Address)

	l := &listener{
		ln:     s.ln,
		wg:     &s.wg,
		parent: s,
	}
	l.initialize()

	s.wg.Add(1)
	go s.run()

	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[RTMP] "+format, args...)
}

// Close closes the server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.ctxCancel()
	s.wg.Wait()
}

func (s *Server) run() {
	defer s.wg.Done()

outer:
	for {
		select {
		case err := <-s.chAcceptErr:
			s.Log(logger.Error, "%s", err)
			break outer

		case nconn := <-s.chNewConn:
			c := &conn{
				parentCtx:     s.ctx,
				readTimeout:   s.ReadTimeout,
				writeTimeout:  s.WriteTimeout,
				wg:            &s.wg,
				nconn:         nconn,
				cnf:           s.Conf,
				sourceManager: s.SourceManager,
				hooks:         s.Hooks,
				stats:         s.Stats,
				parent:        s,
			}
			c.initialize()
			s.conns[c] = struct{}{}

		case c := <-s.chCloseConn:
			delete(s.conns, c)

		case newConf := <-s.chReloadConf:
			s.Conf = newConf
			for c := range s.conns {
				c.reloadConf(newConf)
			}

		case <-s.ctx.Done():
			break outer
		}
	}

	s.ctxCancel()

	s.ln.Close()
}

// newConn is called by listener.
func (s *Server) newConn(conn net.Conn) {
	select {
	case s.chNewConn <- conn:
	case <-s.ctx.Done():
		conn.Close()
	}
}

// acceptError is called by listener.
func (s *Server) acceptError(err error) {
	select {
	case s.chAcceptErr <- err:
	case <-s.ctx.Done():
	}
}

// closeConn is called by conn.
func (s *Server) closeConn(c *conn) {
	select {
	case s.chCloseConn <- c:
	case <-s.ctx.Done():
	}
}

// ReloadConf is called by core on a configuration change. Connections
// whose vhost was removed or disabled are interrupted; the others apply
// the updated knobs at the next loop boundary.
func (s *Server) ReloadConf(newConf *conf.Conf) {
	select {
	case s.chReloadConf <- newConf:
	case <-s.ctx.Done():
	}
}
