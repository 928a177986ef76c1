// internal/endpoint/store.go
package endpoint

import "sync"

// Listener is notified after an endpoint's pool configuration was set.
// Implementations must be comparable (typically pointers): the store keeps
// listeners in a set.
type Listener interface {
	EndpointPoolConfigChanged(ep Endpoint, cfg PoolConfig)
}

// Store holds per-endpoint pool configuration.
type Store struct {
	mu        sync.RWMutex
	configs   map[Endpoint]PoolConfig
	listeners map[Listener]struct{}
}

func NewStore() *Store {
	return &Store{
		configs:   make(map[Endpoint]PoolConfig),
		listeners: make(map[Listener]struct{}),
	}
}

// Get returns the configured policy or the default for the endpoint kind.
func (s *Store) Get(ep Endpoint) PoolConfig {
	s.mu.RLock()
	cfg, ok := s.configs[ep]
	s.mu.RUnlock()
	if !ok {
		return DefaultPoolConfig(ep.Kind)
	}
	return cfg
}

// IsConfigured reports whether an explicit configuration exists for ep.
func (s *Store) IsConfigured(ep Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.configs[ep]
	return ok
}

// Set replaces the configuration of ep; nil resets it to the default.
// Every listener is called exactly once with the effective configuration,
// after the value is committed and outside the store lock.
func (s *Store) Set(ep Endpoint, cfg *PoolConfig) {
	s.mu.Lock()
	effective := DefaultPoolConfig(ep.Kind)
	if cfg == nil {
		delete(s.configs, ep)
	} else {
		effective = *cfg
		s.configs[ep] = effective
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l.EndpointPoolConfigChanged(ep, effective)
	}
}

// Endpoints lists endpoints with explicit configuration.
func (s *Store) Endpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Endpoint, 0, len(s.configs))
	for ep := range s.configs {
		out = append(out, ep)
	}
	return out
}

func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) RemoveListener(l Listener) {
	s.mu.Lock()
	delete(s.listeners, l)
	s.mu.Unlock()
}
