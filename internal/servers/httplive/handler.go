package httplive

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/hooks"
	"github.com/zhengqiangwang/live-server-sub002/internal/kbps"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/httpp"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

// handler serves one live egress request.
type handler struct {
	server *Server
	cnf    *conf.Vhost
	key    stream.Key
	ext    string

	uuid   uuid.UUID
	rates  kbps.Kbps
	sent   kbps.EphemeralDelta
	kicked chan struct{}
	once   sync.Once
}

func (h *handler) event(ctx *gin.Context) hooks.Event {
	ip, _, _ := net.SplitHostPort(httpp.RemoteAddr(ctx))
	return hooks.Event{
		ClientID: h.uuid.String(),
		IP:       ip,
		Vhost:    h.key.Vhost,
		App:      h.key.App,
		Stream:   h.key.Stream,
		Param:    ctx.Request.URL.RawQuery,
		PageURL:  ctx.Request.Referer(),
	}
}

func (h *handler) run(ctx *gin.Context) {
	h.uuid = uuid.New()
	h.rates.Initialize()
	h.kicked = make(chan struct{})

	err := h.server.Hooks.OnPlay(h.cnf, h.event(ctx))
	if err != nil {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	defer func() {
		h.server.Hooks.OnStop(h.cnf, h.event(ctx)) //nolint:errcheck
	}()

	source := h.server.SourceManager.GetOrCreate(h.key, h.cnf, ctx.Request.URL.RawQuery)

	// the audio fast cache only serves the audio-only containers; the
	// video ones start from the GOP cache instead.
	var entry *liveEntry
	if (h.ext == "aac" || h.ext == "mp3") && h.cnf.HTTPRemuxFastCache > 0 {
		entry = h.server.entry(h.key, source, time.Duration(h.cnf.HTTPRemuxFastCache))
		defer h.server.release(h.key, entry)
	}

	withVideo := h.ext == "flv" || h.ext == "ts"
	consumer := source.CreateConsumer(withVideo && h.cnf.GopCache && !h.cnf.MinLatency)
	defer source.RemoveConsumer(consumer)

	h.server.Stats.OnClient(&stats.Client{
		ID:         h.uuid,
		Vhost:      h.key.Vhost,
		App:        h.key.App,
		Stream:     h.key.Stream,
		Type:       "http-" + h.ext,
		RequestURL: ctx.Request.URL.String(),
		IP:         ctx.ClientIP(),
		Kbps:       &h.rates,
		Close: func() {
			h.once.Do(func() { close(h.kicked) })
			consumer.Interrupt()
		},
	})
	defer h.server.Stats.OnDisconnect(h.uuid)

	ctx.Header("Content-Type", muxerExtensions[h.ext])
	ctx.Header("Connection", "Keep-Alive")
	ctx.Writer.WriteHeader(http.StatusOK)

	h.server.Log(logger.Info, "[conn %s] is playing stream %v (%s)",
		httpp.RemoteAddr(ctx), h.key, h.ext)

	bw := &batchWriter{w: ctx.Writer}
	mux := newMuxer(h.ext, bw, source.Properties())

	err = h.serve(ctx, consumer, entry, mux, bw)
	h.server.Log(logger.Info, "[conn %s] closed: %v", httpp.RemoteAddr(ctx), err)
}

func (h *handler) serve(
	ctx *gin.Context,
	consumer *stream.Consumer,
	entry *liveEntry,
	mux muxer,
	bw *batchWriter,
) error {
	// wake the batch wait when the peer disconnects.
	reqDone := ctx.Request.Context().Done()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-reqDone:
			consumer.Interrupt()
		case <-watchDone:
		}
	}()

	if entry != nil {
		for _, msg := range entry.dump() {
			if err := h.dispatch(mux, msg); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-reqDone:
			return errClientGone
		case <-h.kicked:
			return errors.New("kicked by the control API")
		default:
		}

		if h.cnf.Realtime {
			consumer.Wait(0, 0)
		} else {
			consumer.Wait(h.cnf.MWMsgs, time.Duration(h.cnf.MWSleep))
		}

		msgs := consumer.Dump(0)
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			if err := h.dispatch(mux, msg); err != nil {
				return err
			}
		}

		// all tags of the batch leave in a single write.
		n, err := bw.flush()
		if err != nil {
			return err
		}
		ctx.Writer.Flush()

		h.sent.AddDelta(0, uint64(n))
		h.rates.Drain(&h.sent)

		if v := time.Duration(h.cnf.SendMinInterval); v > 0 {
			time.Sleep(v)
		}
	}
}

func (h *handler) dispatch(mux muxer, msg message.Message) error {
	switch tmsg := msg.(type) {
	case *message.Audio:
		return mux.writeAudio(tmsg)
	case *message.Video:
		return mux.writeVideo(tmsg)
	case *message.DataAMF0:
		return mux.writeMetadata(tmsg)
	}
	return nil
}
