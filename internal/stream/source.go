// Package stream contains the live source hub.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/amf0"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/rtmp/message"
)

var timeNow = time.Now

// signature added to outgoing metadata.
const (
	serverName    = "live-server"
	serverVersion = "1.0.0"
)

// ErrStreamBusy is returned by AcquirePublish when another publisher
// already holds the source.
var ErrStreamBusy = errors.New("stream is busy, another publisher is active")

// Key identifies a live source.
type Key struct {
	Vhost  string
	App    string
	Stream string
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Vhost + "/" + k.App + "/" + k.Stream
}

// Source is a live source. It receives the messages of a single publisher
// and distributes them to all attached consumers, retaining whatever a
// late joiner needs in order to start decoding right away.
type Source struct {
	key    Key
	parent logger.Writer

	mu      sync.Mutex
	cnf     *conf.Vhost
	id      uuid.UUID
	active  bool
	closed  bool
	param   string
	meta    *message.DataAMF0
	audioSH *message.Audio
	videoSH *message.Video
	gop     gopCache

	consumers map[*Consumer]struct{}

	pubEdge  *publishEdge
	playEdge *playEdge

	dieAt time.Time
}

func newSource(key Key, param string, cnf *conf.Vhost, parent logger.Writer) *Source {
	s := &Source{
		key:       key,
		parent:    parent,
		cnf:       cnf,
		id:        uuid.New(),
		param:     param,
		consumers: make(map[*Consumer]struct{}),
		dieAt:     timeNow(),
	}
	s.gop.enabled = cnf.GopCache
	return s
}

// Log implements logger.Writer.
func (s *Source) Log(level logger.Level, format string, args ...interface{}) {
	s.parent.Log(level, "[source %s] "+format, append([]interface{}{s.key}, args...)...)
}

// Key returns the source key.
func (s *Source) Key() Key {
	return s.key
}

// ID returns the current source id. It is rolled at every publish.
func (s *Source) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Active reports whether a publisher is attached.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Param returns the query parameters associated with the source.
func (s *Source) Param() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.param
}

// CanPublish reports whether a new publisher can be admitted.
// On an edge node admission depends on the forwarder state instead of
// the local publisher flag.
func (s *Source) CanPublish(edge bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if edge {
		return s.publishEdgeRef().canPublish()
	}
	return !s.active
}

// AcquirePublish atomically checks admission and takes the publisher slot.
// In edge mode it also starts the forwarder towards the origin; the slot
// is released again when the forwarder cannot be started.
func (s *Source) AcquirePublish(edge bool, param string) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("source is closed")
	}

	if edge {
		pe := s.publishEdgeRef()
		if !pe.reserve() {
			s.mu.Unlock()
			return ErrStreamBusy
		}
		if param != "" {
			s.param = param
		}
		s.dieAt = time.Time{}
		s.mu.Unlock()

		// the origin is dialed outside of the source lock.
		if err := pe.start(param); err != nil {
			pe.stop()
			s.mu.Lock()
			s.refreshExpiry()
			s.mu.Unlock()
			return err
		}
		return nil
	}

	defer s.mu.Unlock()

	if s.active {
		return ErrStreamBusy
	}

	s.id = uuid.New()
	s.active = true
	s.meta = nil
	if s.cnf.GopCache {
		s.gop.clear()
	}
	s.gop.enabled = s.cnf.GopCache
	if param != "" {
		s.param = param
	}
	s.dieAt = time.Time{}

	for c := range s.consumers {
		c.sourceChanged()
	}

	return nil
}

// ReleasePublish gives the publisher slot back and wakes all consumers,
// which remain attached and wait for the next publisher.
func (s *Source) ReleasePublish(edge bool) {
	if edge {
		s.mu.Lock()
		pe := s.pubEdge
		s.mu.Unlock()

		if pe != nil {
			pe.stop()
		}

		s.mu.Lock()
		s.refreshExpiry()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}

	s.active = false
	for c := range s.consumers {
		c.sourceEOF()
	}
	s.refreshExpiry()
}

// OnAudio handles an audio message coming from the publisher.
func (s *Source) OnAudio(msg *message.Audio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("source is closed")
	}

	if msg.IsSequenceHeader() {
		s.audioSH = msg
	} else {
		s.gop.cache(msg)
	}

	s.broadcast(msg)
	return nil
}

// OnVideo handles a video message coming from the publisher.
func (s *Source) OnVideo(msg *message.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("source is closed")
	}

	if msg.IsSequenceHeader() {
		s.videoSH = msg
	} else {
		s.gop.cache(msg)
	}

	s.broadcast(msg)
	return nil
}

// OnData handles a data message coming from the publisher. Messages other
// than onMetaData are dropped.
func (s *Source) OnData(msg *message.DataAMF0) error {
	metadata, ok := metadataObject(msg.Payload)
	if !ok {
		return nil
	}
	return s.OnMetaData(msg, metadata)
}

// OnMetaData stores and broadcasts the stream metadata, stripping
// client-private keys and adding the server signature.
func (s *Source) OnMetaData(msg *message.DataAMF0, metadata amf0.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("source is closed")
	}

	enriched := make(amf0.Object, 0, len(metadata)+2)
	for _, entry := range metadata {
		if strings.HasPrefix(entry.Key, "@") {
			continue
		}
		enriched = append(enriched, entry)
	}
	enriched = enriched.Set("server", serverName)
	enriched = enriched.Set("server_version", serverVersion)

	s.meta = &message.DataAMF0{
		ChunkStreamID:   msg.ChunkStreamID,
		DTS:             msg.DTS,
		MessageStreamID: msg.MessageStreamID,
		Payload:         amf0.Data{"onMetaData", enriched},
	}

	s.broadcast(s.meta)
	return nil
}

// OnAggregate handles an aggregate message by dispatching the messages
// it contains.
func (s *Source) OnAggregate(msg *message.Aggregate) error {
	for _, sub := range msg.Split() {
		switch tmsg := sub.(type) {
		case *message.Audio:
			if err := s.OnAudio(tmsg); err != nil {
				return err
			}

		case *message.Video:
			if err := s.OnVideo(tmsg); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnEdgeProxyPublish forwards a message of a local publisher to the origin.
func (s *Source) OnEdgeProxyPublish(msg message.Message) error {
	s.mu.Lock()
	pe := s.publishEdgeRef()
	s.mu.Unlock()

	return pe.proxy(msg)
}

func (s *Source) broadcast(msg message.Message) {
	for c := range s.consumers {
		c.enqueue(msg)
	}
}

// CreateConsumer attaches a new consumer, pushing the cached metadata,
// the sequence headers and, when requested, the current GOP cache.
// On an edge node the first consumer starts the pull from the origin.
func (s *Source) CreateConsumer(dumpGop bool) *Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := newConsumer(time.Duration(s.cnf.QueueLength), s.cnf.TimeJitter)
	s.consumers[c] = struct{}{}
	s.dieAt = time.Time{}

	if s.meta != nil {
		c.enqueue(s.meta)
	}
	if s.audioSH != nil {
		c.enqueue(s.audioSH)
	}
	if s.videoSH != nil {
		c.enqueue(s.videoSH)
	}
	if dumpGop {
		s.gop.dump(c)
	}

	if s.cnf.Edge {
		s.playEdgeRef().onClientPlay()
	}

	return c
}

// RemoveConsumer detaches a consumer.
func (s *Source) RemoveConsumer(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Interrupt()
	delete(s.consumers, c)

	if len(s.consumers) == 0 {
		if s.playEdge != nil {
			s.playEdge.onAllClientsStop()
		}
		s.refreshExpiry()
	}
}

// ReloadVhost rebinds the source to an updated vhost configuration.
func (s *Source) ReloadVhost(cnf *conf.Vhost) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cnf = cnf

	if s.gop.enabled != cnf.GopCache {
		s.gop.enabled = cnf.GopCache
		s.gop.clear()
	}

	for c := range s.consumers {
		c.setQueueSize(time.Duration(cnf.QueueLength))
	}
}

func (s *Source) publishEdgeRef() *publishEdge {
	if s.pubEdge == nil {
		s.pubEdge = &publishEdge{source: s}
	}
	return s.pubEdge
}

func (s *Source) playEdgeRef() *playEdge {
	if s.playEdge == nil {
		s.playEdge = &playEdge{source: s}
	}
	return s.playEdge
}

// refreshExpiry is called with the mutex held whenever the source may
// have become idle.
func (s *Source) refreshExpiry() {
	idle := len(s.consumers) == 0 && !s.active &&
		(s.pubEdge == nil || s.pubEdge.canPublish())

	if idle {
		if s.dieAt.IsZero() {
			s.dieAt = timeNow()
		}
	} else {
		s.dieAt = time.Time{}
	}
}

func (s *Source) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dieAt.IsZero() && now.Sub(s.dieAt) > sourceCleanupPeriod
}

func (s *Source) close() {
	s.mu.Lock()
	s.closed = true
	consumers := s.consumers
	s.consumers = make(map[*Consumer]struct{})
	pe := s.pubEdge
	ple := s.playEdge
	s.mu.Unlock()

	for c := range consumers {
		c.Interrupt()
	}
	if pe != nil {
		pe.stop()
	}
	if ple != nil {
		ple.stop()
	}
}

// metadataObject extracts the metadata object of an onMetaData data
// message, unwrapping the @setDataFrame envelope used by encoders.
func metadataObject(payload amf0.Data) (amf0.Object, bool) {
	if len(payload) < 2 {
		return nil, false
	}

	name, ok := payload[0].(string)
	if !ok {
		return nil, false
	}
	rest := payload[1:]

	if name == "@setDataFrame" {
		if len(rest) < 2 {
			return nil, false
		}
		name, ok = rest[0].(string)
		if !ok {
			return nil, false
		}
		rest = rest[1:]
	}

	if name != "onMetaData" {
		return nil, false
	}

	switch tv := rest[0].(type) {
	case amf0.Object:
		return tv, true

	case amf0.ECMAArray:
		return amf0.Object(tv), true
	}
	return nil, false
}
