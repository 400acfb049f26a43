package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

const (
	// timeout of the opening sequence towards the origin.
	edgeDialTimeout = 5 * time.Second

	// pause between ingest reconnections.
	edgeRetryPause = 3 * time.Second
)

// originURL builds the RTMP URL of a stream on an origin server.
// The vhost travels as a query parameter, since the Host header slot is
// taken by the origin address.
func originURL(origin string, key Key, param string) (*url.URL, error) {
	if origin == "" {
		return nil, fmt.Errorf("empty origin")
	}

	query := strings.TrimPrefix(param, "?")
	if key.Vhost != conf.DefaultVhost && !strings.Contains(query, "vhost=") {
		if query != "" {
			query += "&"
		}
		query += "vhost=" + key.Vhost
	}

	return &url.URL{
		Scheme:   "rtmp",
		Host:     origin,
		Path:     "/" + key.App + "/" + key.Stream,
		RawQuery: query,
	}, nil
}

// withStreamID returns a shallow copy of the message bound to another
// message stream ID.
func withStreamID(msg message.Message, sid uint32) message.Message {
	switch tmsg := msg.(type) {
	case *message.Audio:
		dup := *tmsg
		dup.MessageStreamID = sid
		return &dup

	case *message.Video:
		dup := *tmsg
		dup.MessageStreamID = sid
		return &dup

	case *message.DataAMF0:
		dup := *tmsg
		dup.MessageStreamID = sid
		return &dup

	case *message.DataAMF3:
		dup := *tmsg
		dup.MessageStreamID = sid
		return &dup

	case *message.Aggregate:
		dup := *tmsg
		dup.MessageStreamID = sid
		return &dup
	}
	return msg
}

// playEdge pulls the stream from an origin server while local consumers
// exist, feeding the local source as if a publisher were attached.
type playEdge struct {
	source *Source

	mu      sync.Mutex
	running bool
	gen     int
	cancel  context.CancelFunc
	client  *rtmp.Client
}

func (pe *playEdge) onClientPlay() {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if pe.running {
		return
	}
	pe.running = true
	pe.gen++

	ctx, cancel := context.WithCancel(context.Background())
	pe.cancel = cancel
	go pe.run(ctx, pe.gen)
}

func (pe *playEdge) onAllClientsStop() {
	pe.stop()
}

func (pe *playEdge) stop() {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if !pe.running {
		return
	}
	pe.running = false
	pe.cancel()

	if pe.client != nil {
		pe.client.Close()
		pe.client = nil
	}
}

func (pe *playEdge) run(ctx context.Context, gen int) {
	for {
		err := pe.runOrigin(ctx, gen)
		if err != nil && ctx.Err() == nil {
			pe.source.Log(logger.Warn, "edge ingest error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(edgeRetryPause):
		}
	}
}

// runOrigin connects to the first reachable origin and ingests the stream
// until an error occurs.
func (pe *playEdge) runOrigin(ctx context.Context, gen int) error {
	s := pe.source

	s.mu.Lock()
	origins := append([]string(nil), s.cnf.EdgeOrigins...)
	key := s.key
	param := s.param
	s.mu.Unlock()

	lastErr := fmt.Errorf("no origin configured")

	for _, origin := range origins {
		if ctx.Err() != nil {
			return nil
		}

		u, err := originURL(origin, key, param)
		if err != nil {
			lastErr = err
			continue
		}

		c := &rtmp.Client{URL: u}
		dialCtx, dialCancel := context.WithTimeout(ctx, edgeDialTimeout)
		err = c.Initialize(dialCtx)
		dialCancel()
		if err != nil {
			lastErr = err
			continue
		}

		if !pe.install(c, gen) {
			c.Close()
			return nil
		}

		s.Log(logger.Info, "edge ingesting from origin %s", origin)
		err = pe.ingest(c)
		pe.uninstall(c)
		c.Close()
		return err
	}

	return lastErr
}

func (pe *playEdge) install(c *rtmp.Client, gen int) bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if !pe.running || pe.gen != gen {
		return false
	}
	pe.client = c
	return true
}

func (pe *playEdge) uninstall(c *rtmp.Client) {
	pe.mu.Lock()
	if pe.client == c {
		pe.client = nil
	}
	pe.mu.Unlock()
}

func (pe *playEdge) ingest(c *rtmp.Client) error {
	s := pe.source

	err := s.AcquirePublish(false, "")
	if err != nil {
		return err
	}
	defer s.ReleasePublish(false)

	for {
		msg, err := c.Read()
		if err != nil {
			return err
		}

		switch tmsg := msg.(type) {
		case *message.Audio:
			err = s.OnAudio(tmsg)

		case *message.Video:
			err = s.OnVideo(tmsg)

		case *message.DataAMF0:
			err = s.OnData(tmsg)

		case *message.Aggregate:
			err = s.OnAggregate(tmsg)
		}
		if err != nil {
			return err
		}
	}
}

// publishEdge forwards a locally published stream to an origin server.
type publishEdge struct {
	source *Source

	mu     sync.Mutex
	active bool
	client *rtmp.Client
	err    error
}

func (pe *publishEdge) canPublish() bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return !pe.active
}

// reserve takes the forwarder slot without dialing.
func (pe *publishEdge) reserve() bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if pe.active {
		return false
	}
	pe.active = true
	return true
}

// start dials the first reachable origin and opens a publishing stream
// on it. The slot must have been reserved beforehand.
func (pe *publishEdge) start(param string) error {
	s := pe.source

	s.mu.Lock()
	origins := append([]string(nil), s.cnf.EdgeOrigins...)
	key := s.key
	s.mu.Unlock()

	lastErr := fmt.Errorf("no origin configured")

	for _, origin := range origins {
		u, err := originURL(origin, key, param)
		if err != nil {
			lastErr = err
			continue
		}

		c := &rtmp.Client{URL: u, Publish: true}
		ctx, cancel := context.WithTimeout(context.Background(), edgeDialTimeout)
		err = c.Initialize(ctx)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		pe.mu.Lock()
		if !pe.active {
			pe.mu.Unlock()
			c.Close()
			return fmt.Errorf("forwarder was stopped")
		}
		pe.client = c
		pe.err = nil
		pe.mu.Unlock()

		go pe.drain(c)

		s.Log(logger.Info, "edge forwarding to origin %s", origin)
		return nil
	}

	return lastErr
}

// drain absorbs the control traffic coming back from the origin.
func (pe *publishEdge) drain(c *rtmp.Client) {
	for {
		_, err := c.Read()
		if err != nil {
			pe.mu.Lock()
			if pe.client == c && pe.err == nil {
				pe.err = err
			}
			pe.mu.Unlock()
			return
		}
	}
}

// proxy forwards a publisher message to the origin.
func (pe *publishEdge) proxy(msg message.Message) error {
	pe.mu.Lock()
	c := pe.client
	err := pe.err
	pe.mu.Unlock()

	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("edge forwarder is not running")
	}

	return c.Write(withStreamID(msg, c.StreamID()))
}

func (pe *publishEdge) stop() {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	pe.active = false
	if pe.client != nil {
		pe.client.Close()
		pe.client = nil
	}
	pe.err = nil
}
