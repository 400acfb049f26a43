package conf

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
)

var reVhostName = regexp.MustCompile(`^[0-9a-zA-Z._\-]+$`)

// DefaultVhost is the name of the fallback virtual host.
const DefaultVhost = "__defaultVhost__"

// Vhost is a virtual host configuration.
type Vhost struct {
	Name string `json:"-"` // filled by Check()

	// General
	Enabled    bool `json:"enabled"`
	Realtime   bool `json:"realtime"`
	TCPNoDelay bool `json:"tcpNoDelay"`
	MinLatency bool `json:"minLatency"`

	// Chunk protocol
	ChunkSize  int `json:"chunkSize"`
	InAckSize  int `json:"inAckSize"`
	OutAckSize int `json:"outAckSize"`

	// Publishing
	PublishFirstPacketTimeout Duration `json:"publishFirstPacketTimeout"`
	PublishNormalTimeout      Duration `json:"publishNormalTimeout"`

	// Playing
	GopCache        bool       `json:"gopCache"`
	QueueLength     Duration   `json:"queueLength"`
	TimeJitter      TimeJitter `json:"timeJitter"`
	MWSleep         Duration   `json:"mwSleep"`
	MWMsgs          int        `json:"mwMsgs"`
	SendMinInterval Duration   `json:"sendMinInterval"`

	// Security
	SecurityEnabled bool          `json:"securityEnabled"`
	SecurityRules   SecurityRules `json:"securityRules"`
	ReferEnabled    bool          `json:"referEnabled"`
	Refer           []string      `json:"refer"`
	ReferPlay       []string      `json:"referPlay"`
	ReferPublish    []string      `json:"referPublish"`

	// Hooks
	HooksEnabled bool     `json:"hooksEnabled"`
	HooksSecret  string   `json:"hooksSecret"`
	OnConnect    []string `json:"onConnect"`
	OnClose      []string `json:"onClose"`
	OnPublish    []string `json:"onPublish"`
	OnUnpublish  []string `json:"onUnpublish"`
	OnPlay       []string `json:"onPlay"`
	OnStop       []string `json:"onStop"`

	// Edge
	Edge              bool     `json:"edge"`
	EdgeOrigins       []string `json:"edgeOrigins"`
	EdgeTokenTraverse bool     `json:"edgeTokenTraverse"`
	OriginCluster     bool     `json:"originCluster"`

	// HTTP remux
	HTTPRemux          bool     `json:"httpRemux"`
	HTTPRemuxMount     string   `json:"httpRemuxMount"`
	HTTPRemuxFastCache Duration `json:"httpRemuxFastCache"`
}

func (v *Vhost) setDefaults() {
	v.Enabled = true
	v.ChunkSize = 60000
	v.OutAckSize = 2500000
	v.PublishFirstPacketTimeout = 20 * Duration(time.Second)
	v.PublishNormalTimeout = 5 * Duration(time.Second)
	v.GopCache = true
	v.QueueLength = 30 * Duration(time.Second)
	v.TimeJitter = TimeJitterFull
	v.MWSleep = 350 * Duration(time.Millisecond)
	v.MWMsgs = 8
	v.HTTPRemux = true
	v.HTTPRemuxMount = "[vhost]/[app]/[stream].flv"
}

func newVhost(defaults *Vhost, partial *OptionalVhost) *Vhost {
	v := &Vhost{}
	copyStructFields(v, defaults)
	copyStructFields(v, partial.Values)
	return v
}

// Clone clones the configuration.
func (v Vhost) Clone() *Vhost {
	enc, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	var dest Vhost
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	dest.Name = v.Name

	return &dest
}

func (v *Vhost) validate(name string) error {
	v.Name = name

	if name == "" {
		return fmt.Errorf("vhost name cannot be empty")
	}

	if !reVhostName.MatchString(name) {
		return fmt.Errorf("invalid vhost name '%s'", name)
	}

	if v.ChunkSize != 0 && (v.ChunkSize < 128 || v.ChunkSize > 65536) {
		return fmt.Errorf("vhost '%s': 'chunkSize' must be between 128 and 65536", name)
	}

	if v.InAckSize < 0 {
		return fmt.Errorf("vhost '%s': 'inAckSize' cannot be negative", name)
	}

	if v.OutAckSize <= 0 {
		return fmt.Errorf("vhost '%s': 'outAckSize' must be greater than zero", name)
	}

	if v.PublishFirstPacketTimeout <= 0 {
		return fmt.Errorf("vhost '%s': 'publishFirstPacketTimeout' must be greater than zero", name)
	}

	if v.PublishNormalTimeout <= 0 {
		return fmt.Errorf("vhost '%s': 'publishNormalTimeout' must be greater than zero", name)
	}

	if v.QueueLength <= 0 {
		return fmt.Errorf("vhost '%s': 'queueLength' must be greater than zero", name)
	}

	if v.MWMsgs < 1 || v.MWMsgs > 128 {
		return fmt.Errorf("vhost '%s': 'mwMsgs' must be between 1 and 128", name)
	}

	for _, rule := range v.SecurityRules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("vhost '%s': %w", name, err)
		}
	}

	for _, urls := range [][]string{v.OnConnect, v.OnClose, v.OnPublish, v.OnUnpublish, v.OnPlay, v.OnStop} {
		for _, u := range urls {
			if _, err := url.Parse(u); err != nil || !strings.HasPrefix(u, "http") {
				return fmt.Errorf("vhost '%s': invalid hook URL '%s'", name, u)
			}
		}
	}

	if (v.Edge || v.EdgeTokenTraverse || v.OriginCluster) && len(v.EdgeOrigins) == 0 {
		return fmt.Errorf("vhost '%s': 'edgeOrigins' cannot be empty in edge or origin-cluster mode", name)
	}

	if v.HTTPRemux {
		if v.HTTPRemuxMount == "" {
			return fmt.Errorf("vhost '%s': 'httpRemuxMount' cannot be empty", name)
		}
	}

	if v.HTTPRemuxFastCache < 0 {
		return fmt.Errorf("vhost '%s': 'httpRemuxFastCache' cannot be negative", name)
	}

	return nil
}

// Equal checks whether two Vhosts are equal.
func (v *Vhost) Equal(other *Vhost) bool {
	return reflect.DeepEqual(v, other)
}
