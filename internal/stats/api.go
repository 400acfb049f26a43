package stats

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/kbps"
)

// APIKbps is the rate part of a statistics item.
type APIKbps struct {
	Recv30s int64 `json:"recv_30s"`
	Send30s int64 `json:"send_30s"`
	Recv5m  int64 `json:"recv_5m"`
	Send5m  int64 `json:"send_5m"`
}

func apiKbps(k *kbps.Kbps) APIKbps {
	if k == nil {
		return APIKbps{}
	}
	k.Sample()
	recv := k.Recv()
	send := k.Send()
	return APIKbps{
		Recv30s: recv.R30s,
		Send30s: send.R30s,
		Recv5m:  recv.R5m,
		Send5m:  send.R5m,
	}
}

// APISummary is the global statistics snapshot.
type APISummary struct {
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Vhosts        int     `json:"vhosts"`
	Streams       int     `json:"streams"`
	Clients       int     `json:"clients"`
}

// APIVhost is a vhost statistics item.
type APIVhost struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Streams int       `json:"streams"`
	Clients int       `json:"clients"`
}

// APIVhostList is a list of vhost statistics items.
type APIVhostList struct {
	ItemCount int         `json:"itemCount"`
	PageCount int         `json:"pageCount"`
	Items     []*APIVhost `json:"items"`
}

// APIStreamVideo is the video part of a stream statistics item.
type APIStreamVideo struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// APIStreamAudio is the audio part of a stream statistics item.
type APIStreamAudio struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// APIStream is a stream statistics item.
type APIStream struct {
	ID      uuid.UUID      `json:"id"`
	Vhost   string         `json:"vhost"`
	App     string         `json:"app"`
	Stream  string         `json:"stream"`
	Active  bool           `json:"active"`
	Clients int            `json:"clients"`
	Frames  uint64         `json:"frames"`
	Video   APIStreamVideo `json:"video"`
	Audio   APIStreamAudio `json:"audio"`
	Kbps    APIKbps        `json:"kbps"`
}

// APIStreamList is a list of stream statistics items.
type APIStreamList struct {
	ItemCount int          `json:"itemCount"`
	PageCount int          `json:"pageCount"`
	Items     []*APIStream `json:"items"`
}

// APIClient is a client statistics item.
type APIClient struct {
	ID           uuid.UUID `json:"id"`
	Vhost        string    `json:"vhost"`
	App          string    `json:"app"`
	Stream       string    `json:"stream"`
	Type         string    `json:"type"`
	RequestURL   string    `json:"requestUrl"`
	IP           string    `json:"ip"`
	Publisher    bool      `json:"publisher"`
	AliveSeconds float64   `json:"aliveSeconds"`
	Kbps         APIKbps   `json:"kbps"`
}

// APIClientList is a list of client statistics items.
type APIClientList struct {
	ItemCount int          `json:"itemCount"`
	PageCount int          `json:"pageCount"`
	Items     []*APIClient `json:"items"`
}

// APISummary returns the global snapshot.
func (st *Stats) APISummary() *APISummary {
	st.mu.Lock()
	defer st.mu.Unlock()

	streams := 0
	for _, v := range st.vhosts {
		streams += len(v.streams)
	}

	return &APISummary{
		UptimeSeconds: timeNow().Sub(st.created).Seconds(),
		Vhosts:        len(st.vhosts),
		Streams:       streams,
		Clients:       len(st.clients),
	}
}

// APIVhostsList returns the vhost list.
func (st *Stats) APIVhostsList() *APIVhostList {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := &APIVhostList{Items: []*APIVhost{}}
	for _, v := range st.vhosts {
		clients := 0
		for _, se := range v.streams {
			clients += len(se.clients)
		}
		out.Items = append(out.Items, &APIVhost{
			ID:      v.id,
			Name:    v.name,
			Streams: len(v.streams),
			Clients: clients,
		})
	}

	sort.Slice(out.Items, func(i, j int) bool {
		return out.Items[i].Name < out.Items[j].Name
	})
	return out
}

func (se *streamEntry) apiItem() *APIStream {
	item := &APIStream{
		ID:      se.id,
		Vhost:   se.key.Vhost,
		App:     se.key.App,
		Stream:  se.key.Stream,
		Active:  se.active,
		Clients: len(se.clients),
		Frames:  se.frames,
		Kbps:    apiKbps(se.pubKbps),
	}

	if se.props != nil {
		p := se.props()
		item.Video = APIStreamVideo{
			Codec:  p.VideoCodec,
			Width:  p.Width,
			Height: p.Height,
			FPS:    p.FPS,
		}
		item.Audio = APIStreamAudio{
			Codec:      p.AudioCodec,
			SampleRate: p.SampleRate,
			Channels:   p.Channels,
		}
	}
	return item
}

// APIStreamsList returns the stream list.
func (st *Stats) APIStreamsList() *APIStreamList {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := &APIStreamList{Items: []*APIStream{}}
	for _, v := range st.vhosts {
		for _, se := range v.streams {
			out.Items = append(out.Items, se.apiItem())
		}
	}

	sort.Slice(out.Items, func(i, j int) bool {
		a, b := out.Items[i], out.Items[j]
		if a.Vhost != b.Vhost {
			return a.Vhost < b.Vhost
		}
		if a.App != b.App {
			return a.App < b.App
		}
		return a.Stream < b.Stream
	})
	return out
}

func (c *Client) apiItem(now time.Time) *APIClient {
	return &APIClient{
		ID:           c.ID,
		Vhost:        c.Vhost,
		App:          c.App,
		Stream:       c.Stream,
		Type:         c.Type,
		RequestURL:   c.RequestURL,
		IP:           c.IP,
		Publisher:    c.Publisher,
		AliveSeconds: now.Sub(c.created).Seconds(),
		Kbps:         apiKbps(c.Kbps),
	}
}

// APIClientsList returns the client list.
func (st *Stats) APIClientsList() *APIClientList {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := timeNow()

	out := &APIClientList{Items: []*APIClient{}}
	for _, c := range st.clients {
		out.Items = append(out.Items, c.apiItem(now))
	}

	sort.Slice(out.Items, func(i, j int) bool {
		return out.Items[i].AliveSeconds > out.Items[j].AliveSeconds
	})
	return out
}

// APIClientsGet returns a single client by id.
func (st *Stats) APIClientsGet(id uuid.UUID) (*APIClient, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.clients[id]
	if !ok {
		return nil, false
	}
	return c.apiItem(timeNow()), true
}
