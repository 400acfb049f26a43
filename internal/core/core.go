// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/zhengqiangwang/live-server-sub002/internal/api"
	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/confwatcher"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/rlimit"
	"github.com/zhengqiangwang/live-server-sub002/internal/servers/httplive"
	"github.com/zhengqiangwang/live-server-sub002/internal/servers/rtmp"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"live-server.yml",
	"/usr/local/etc/live-server.yml",
	"/usr/etc/live-server.yml",
	"/etc/live-server/live-server.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" optional:""`
}

// Core is an instance of the server.
type Core struct {
	ctx            context.Context
	ctxCancel      func()
	confPath       string
	conf           *conf.Conf
	logger         *logger.Logger
	sourceManager  *stream.Manager
	hooks          *hooks.Client
	stats          *stats.Stats
	rtmpServer     *rtmp.Server
	httpLiveServer *httplive.Server
	api            *api.API
	confWatcher    *confwatcher.ConfWatcher

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("live-server "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is live-server.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		p.logger = &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: p.conf.LogDestinations.ToDestinations(),
			FilePath:     p.conf.LogFile,
		}
		err = p.logger.Initialize()
		if err != nil {
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "live-server %s", version)
		if p.confPath == "" {
			p.Log(logger.Warn, "configuration file not found, using defaults")
		}

		// raise the number of file descriptors that can be opened
		// to allow the maximum possible number of clients.
		rlimit.Raise() //nolint:errcheck

		gin.SetMode(gin.ReleaseMode)
	}

	if p.sourceManager == nil {
		p.sourceManager = &stream.Manager{
			Parent: p,
		}
		p.sourceManager.Initialize()
	}

	if p.hooks == nil {
		p.hooks = &hooks.Client{
			Parent: p,
		}
		p.hooks.Initialize()
	}

	if p.stats == nil {
		p.stats = &stats.Stats{
			Parent: p,
		}
		p.stats.Initialize()
	}

	if p.conf.RTMP && p.rtmpServer == nil {
		p.rtmpServer = &rtmp.Server{
			Address:       p.conf.RTMPAddress,
			ReadTimeout:   time.Duration(p.conf.ReadTimeout),
			WriteTimeout:  time.Duration(p.conf.WriteTimeout),
			Conf:          p.conf,
			SourceManager: p.sourceManager,
			Hooks:         p.hooks,
			Stats:         p.stats,
			Parent:        p,
		}
		err = p.rtmpServer.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.HTTPServer && p.httpLiveServer == nil {
		p.httpLiveServer = &httplive.Server{
			Address:       p.conf.HTTPServerAddress,
			AllowOrigin:   p.conf.HTTPServerAllowOrigin,
			ReadTimeout:   time.Duration(p.conf.ReadTimeout),
			WriteTimeout:  time.Duration(p.conf.WriteTimeout),
			Conf:          p.conf,
			SourceManager: p.sourceManager,
			Hooks:         p.hooks,
			Stats:         p.stats,
			Parent:        p,
		}
		err = p.httpLiveServer.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.API && p.api == nil {
		p.api = &api.API{
			Address:        p.conf.APIAddress,
			AllowOrigin:    p.conf.HTTPServerAllowOrigin,
			TrustedProxies: p.conf.APITrustedProxies,
			ReadTimeout:    time.Duration(p.conf.ReadTimeout),
			WriteTimeout:   time.Duration(p.conf.WriteTimeout),
			PPROF:          p.conf.PPROF,
			Stats:          p.stats,
			Parent:         p,
		}
		err = p.api.Initialize()
		if err != nil {
			return err
		}
	}

	if initial && p.confPath != "" {
		p.confWatcher = &confwatcher.ConfWatcher{FilePath: p.confPath}
		err = p.confWatcher.Initialize()
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogFile != p.conf.LogFile

	closeRTMPServer := newConf == nil ||
		newConf.RTMP != p.conf.RTMP ||
		newConf.RTMPAddress != p.conf.RTMPAddress ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout

	closeHTTPLiveServer := newConf == nil ||
		newConf.HTTPServer != p.conf.HTTPServer ||
		newConf.HTTPServerAddress != p.conf.HTTPServerAddress ||
		newConf.HTTPServerAllowOrigin != p.conf.HTTPServerAllowOrigin ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout

	closeAPI := newConf == nil ||
		newConf.API != p.conf.API ||
		newConf.APIAddress != p.conf.APIAddress ||
		!reflect.DeepEqual(newConf.APITrustedProxies, p.conf.APITrustedProxies) ||
		newConf.PPROF != p.conf.PPROF ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout

	if newConf == nil && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if closeAPI && p.api != nil {
		p.api.Close()
		p.api = nil
	}

	if closeHTTPLiveServer && p.httpLiveServer != nil {
		p.httpLiveServer.Close()
		p.httpLiveServer = nil
	}

	if closeRTMPServer && p.rtmpServer != nil {
		p.rtmpServer.Close()
		p.rtmpServer = nil
	}

	if newConf == nil && p.sourceManager != nil {
		p.sourceManager.Close()
		p.sourceManager = nil
	}

	if closeLogger {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)

	oldConf := p.conf
	p.conf = newConf

	// propagate vhost changes to the running components.
	if p.sourceManager != nil {
		for name := range oldConf.Vhosts {
			p.sourceManager.ReloadVhost(name, newConf.Vhosts[name])
		}
	}
	if p.rtmpServer != nil {
		p.rtmpServer.ReloadConf(newConf)
	}
	if p.httpLiveServer != nil {
		p.httpLiveServer.ReloadConf(newConf)
	}

	return p.createResources(false)
}
