// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf/decrypt"
	"github.com/zhengqiangwang/live-server-sub002/internal/conf/env"
	"github.com/zhengqiangwang/live-server-sub002/internal/conf/yamlwrapper"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
)

func sortedKeys(vhosts map[string]*OptionalVhost) []string {
	ret := make([]string, len(vhosts))
	i := 0
	for name := range vhosts {
		ret[i] = name
		i++
	}
	sort.Strings(ret)
	return ret
}

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

func copyStructFields(dest interface{}, source interface{}) {
	rvsource := reflect.ValueOf(source).Elem()
	rvdest := reflect.ValueOf(dest)
	nf := rvsource.NumField()
	var zero reflect.Value

	for i := 0; i < nf; i++ {
		fnew := rvsource.Field(i)
		f := rvdest.Elem().FieldByName(rvsource.Type().Field(i).Name)
		if f == zero {
			continue
		}

		if fnew.Kind() == reflect.Pointer {
			if !fnew.IsNil() {
				if f.Kind() == reflect.Ptr {
					f.Set(fnew)
				} else {
					f.Set(fnew.Elem())
				}
			}
		} else {
			f.Set(fnew)
		}
	}
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogFile         string          `json:"logFile"`
	ReadTimeout     Duration        `json:"readTimeout"`
	WriteTimeout    Duration        `json:"writeTimeout"`
	WriteQueueSize  int             `json:"writeQueueSize"`

	// RTMP server
	RTMP              bool       `json:"rtmp"`
	RTMPAddress       string     `json:"rtmpAddress"`
	ReadBufferSize    StringSize `json:"readBufferSize"`
	ReadBufferMaxSize StringSize `json:"readBufferMaxSize"`

	// HTTP live server
	HTTPServer            bool   `json:"httpServer"`
	HTTPServerAddress     string `json:"httpServerAddress"`
	HTTPServerAllowOrigin string `json:"httpServerAllowOrigin"`

	// Control API
	API               bool       `json:"api"`
	APIAddress        string     `json:"apiAddress"`
	APITrustedProxies IPNetworks `json:"apiTrustedProxies"`
	PPROF             bool       `json:"pprof"`

	// Vhost defaults
	VhostDefaults Vhost `json:"vhostDefaults"`

	// Vhosts
	OptionalVhosts map[string]*OptionalVhost `json:"vhosts"`
	Vhosts         map[string]*Vhost         `json:"-"` // filled by Validate()
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{LogDestination(logger.DestinationStdout)}
	conf.LogFile = "live-server.log"
	conf.ReadTimeout = 10 * Duration(time.Second)
	conf.WriteTimeout = 10 * Duration(time.Second)
	conf.WriteQueueSize = 512

	// RTMP server
	conf.RTMP = true
	conf.RTMPAddress = ":1935"
	conf.ReadBufferSize = 128 * 1024
	conf.ReadBufferMaxSize = 256 * 1024

	// HTTP live server
	conf.HTTPServer = true
	conf.HTTPServerAddress = ":8080"
	conf.HTTPServerAllowOrigin = "*"

	// Control API
	conf.APIAddress = ":1985"

	conf.VhostDefaults.setDefaults()
}

// Load loads a Conf.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load("LS", conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	if key, ok := os.LookupEnv("LS_CONFKEY"); ok {
		byts, err = decrypt.Decrypt(key, byts)
		if err != nil {
			return "", err
		}
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General

	if conf.ReadTimeout <= 0 {
		return fmt.Errorf("'readTimeout' must be greater than zero")
	}
	if conf.WriteTimeout <= 0 {
		return fmt.Errorf("'writeTimeout' must be greater than zero")
	}
	if (conf.WriteQueueSize & (conf.WriteQueueSize - 1)) != 0 {
		return fmt.Errorf("'writeQueueSize' must be a power of two")
	}

	// RTMP server

	if conf.ReadBufferSize < 4096 {
		return fmt.Errorf("'readBufferSize' must be at least 4096")
	}
	if conf.ReadBufferMaxSize > 256*1024 {
		return fmt.Errorf("'readBufferMaxSize' cannot exceed 256K")
	}
	if conf.ReadBufferSize > conf.ReadBufferMaxSize {
		return fmt.Errorf("'readBufferSize' cannot exceed 'readBufferMaxSize'")
	}

	// Vhosts

	if conf.OptionalVhosts == nil {
		conf.OptionalVhosts = map[string]*OptionalVhost{
			DefaultVhost: nil,
		}
	}

	if _, ok := conf.OptionalVhosts[DefaultVhost]; !ok {
		conf.OptionalVhosts[DefaultVhost] = nil
	}

	conf.Vhosts = make(map[string]*Vhost)

	for _, name := range sortedKeys(conf.OptionalVhosts) {
		optional := conf.OptionalVhosts[name]
		if optional == nil {
			optional = &OptionalVhost{
				Values: newOptionalVhostValues(),
			}
			conf.OptionalVhosts[name] = optional
		}

		vconf := newVhost(&conf.VhostDefaults, optional)
		conf.Vhosts[name] = vconf

		err := vconf.validate(name)
		if err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}

// FindVhost returns the configuration of the vhost with the given name,
// falling back to the default vhost.
func (conf *Conf) FindVhost(name string) *Vhost {
	if v, ok := conf.Vhosts[name]; ok {
		return v
	}
	return conf.Vhosts[DefaultVhost]
}
