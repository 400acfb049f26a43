// Package stats contains the in-memory statistics registry.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/kbps"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/stream"
)

var timeNow = time.Now

// Client is a connection registered in the statistics.
// Rates and the closer are owned by the connection; the registry only
// samples them.
type Client struct {
	ID         uuid.UUID
	Vhost      string
	App        string
	Stream     string
	Type       string
	RequestURL string
	IP         string
	Publisher  bool
	Kbps       *kbps.Kbps
	Close      func()

	created time.Time
}

type streamEntry struct {
	id      uuid.UUID
	key     stream.Key
	active  bool
	frames  uint64
	props   func() stream.Properties
	pubKbps *kbps.Kbps
	clients map[uuid.UUID]*Client
}

type vhostEntry struct {
	id      uuid.UUID
	name    string
	streams map[string]*streamEntry
}

// Stats is the registry of vhosts, streams and clients.
type Stats struct {
	Parent logger.Writer

	mu      sync.Mutex
	created time.Time
	vhosts  map[string]*vhostEntry
	clients map[uuid.UUID]*Client

	// reverse maps for lookup by id.
	vhostNames  map[uuid.UUID]string
	streamNames map[uuid.UUID]stream.Key
}

// Initialize initializes the registry.
func (st *Stats) Initialize() {
	st.created = timeNow()
	st.vhosts = make(map[string]*vhostEntry)
	st.clients = make(map[uuid.UUID]*Client)
	st.vhostNames = make(map[uuid.UUID]string)
	st.streamNames = make(map[uuid.UUID]stream.Key)
}

// Log implements logger.Writer.
func (st *Stats) Log(level logger.Level, format string, args ...interface{}) {
	st.Parent.Log(level, format, args...)
}

func (st *Stats) vhostEntry(name string) *vhostEntry {
	v, ok := st.vhosts[name]
	if !ok {
		v = &vhostEntry{
			id:      uuid.New(),
			name:    name,
			streams: make(map[string]*streamEntry),
		}
		st.vhosts[name] = v
		st.vhostNames[v.id] = name
	}
	return v
}

func (st *Stats) streamEntry(key stream.Key) *streamEntry {
	v := st.vhostEntry(key.Vhost)
	name := key.App + "/" + key.Stream

	se, ok := v.streams[name]
	if !ok {
		se = &streamEntry{
			id:      uuid.New(),
			key:     key,
			clients: make(map[uuid.UUID]*Client),
		}
		v.streams[name] = se
		st.streamNames[se.id] = key
	}
	return se
}

// OnClient registers a connection.
func (st *Stats) OnClient(c *Client) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c.created = timeNow()
	st.clients[c.ID] = c

	if c.Stream != "" {
		se := st.streamEntry(stream.Key{Vhost: c.Vhost, App: c.App, Stream: c.Stream})
		se.clients[c.ID] = c
	}
}

// OnDisconnect removes a connection.
func (st *Stats) OnDisconnect(id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.clients[id]
	if !ok {
		return
	}
	delete(st.clients, id)

	if c.Stream != "" {
		if v, ok2 := st.vhosts[c.Vhost]; ok2 {
			if se, ok3 := v.streams[c.App+"/"+c.Stream]; ok3 {
				delete(se.clients, id)
			}
		}
	}
}

// OnPublish marks a stream as active. The properties callback is sampled
// on every dump, so codec parameters appear as soon as the sequence
// headers arrive.
func (st *Stats) OnPublish(key stream.Key, props func() stream.Properties, rates *kbps.Kbps) {
	st.mu.Lock()
	defer st.mu.Unlock()

	se := st.streamEntry(key)
	se.active = true
	se.props = props
	se.pubKbps = rates
}

// OnUnpublish marks a stream as inactive.
func (st *Stats) OnUnpublish(key stream.Key) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if v, ok := st.vhosts[key.Vhost]; ok {
		if se, ok2 := v.streams[key.App+"/"+key.Stream]; ok2 {
			se.active = false
			se.pubKbps = nil
		}
	}
}

// OnVideoFrames adds to the frame counter of a stream.
func (st *Stats) OnVideoFrames(key stream.Key, count int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if v, ok := st.vhosts[key.Vhost]; ok {
		if se, ok2 := v.streams[key.App+"/"+key.Stream]; ok2 {
			se.frames += uint64(count)
		}
	}
}

// KickClient closes the connection of a client.
func (st *Stats) KickClient(id uuid.UUID) error {
	st.mu.Lock()
	c, ok := st.clients[id]
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("client not found")
	}

	st.Log(logger.Info, "kicking client %s", id)
	c.Close()
	return nil
}
