package stream

import (
	"sync"
	"time"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
)

const (
	// grace period before an idle source is destroyed.
	sourceCleanupPeriod = 30 * time.Second

	sourceCleanupInterval = time.Second
)

// Manager is the registry of live sources.
type Manager struct {
	Parent logger.Writer

	mu      sync.Mutex
	sources map[Key]*Source
	done    chan struct{}
}

// Initialize initializes the manager.
func (m *Manager) Initialize() {
	m.sources = make(map[Key]*Source)
	m.done = make(chan struct{})
	go m.runCleaner()
}

// Close closes the manager and tears down all sources.
func (m *Manager) Close() {
	close(m.done)

	m.mu.Lock()
	sources := m.sources
	m.sources = make(map[Key]*Source)
	m.mu.Unlock()

	for _, s := range sources {
		s.close()
	}
}

// Log implements logger.Writer.
func (m *Manager) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, format, args...)
}

// GetOrCreate returns the source of the given key, creating it if needed.
func (m *Manager) GetOrCreate(key Key, cnf *conf.Vhost, param string) *Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[key]
	if !ok {
		s = newSource(key, param, cnf, m)
		m.sources[key] = s
		m.Log(logger.Debug, "source %s created", key)
	}
	return s
}

// Get returns the source of the given key, or nil.
func (m *Manager) Get(key Key) *Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[key]
}

// ReloadVhost rebinds all sources of a vhost to an updated configuration.
// A nil or disabled configuration tears the sources down; their consumers
// are woken and their connections terminate on their own.
func (m *Manager) ReloadVhost(name string, cnf *conf.Vhost) {
	m.mu.Lock()
	var tornDown []*Source
	for key, s := range m.sources {
		if key.Vhost != name {
			continue
		}

		if cnf == nil || !cnf.Enabled {
			tornDown = append(tornDown, s)
			delete(m.sources, key)
		} else {
			s.ReloadVhost(cnf)
		}
	}
	m.mu.Unlock()

	for _, s := range tornDown {
		s.close()
		m.Log(logger.Info, "source %s destroyed (vhost removed)", s.Key())
	}
}

func (m *Manager) runCleaner() {
	t := time.NewTicker(sourceCleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-m.done:
			return

		case <-t.C:
			m.removeExpired()
		}
	}
}

func (m *Manager) removeExpired() {
	now := timeNow()

	m.mu.Lock()
	var expired []*Source
	for key, s := range m.sources {
		if s.expired(now) {
			expired = append(expired, s)
			delete(m.sources, key)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
		m.Log(logger.Info, "source %s destroyed (idle)", s.Key())
	}
}
