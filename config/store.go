package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ListenerID identifies a registered config change listener.
type ListenerID string

// Listener receives a copy of the configuration. It is invoked once at
// registration time with the current value and again after every persisted
// change.
type Listener func(cfg Config)

// Store owns the persisted configuration and its change listeners. Readers
// always see a consistent snapshot: updates replace the whole value under
// the lock, never individual fields in place.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config

	listenersMu     sync.RWMutex
	listeners       map[ListenerID]Listener
	listenerCounter uint64
}

// Open loads the config file at path (or defaults when absent) and returns
// a store bound to that path.
func Open(path string) (*Store, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		path:      path,
		cfg:       *cfg,
		listeners: make(map[ListenerID]Listener),
	}, nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Identity returns a copy of the current identity snapshot.
func (s *Store) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Identity
}

// HasBrokerURI reports whether an outbound broker has been configured
// explicitly (as opposed to relying on discovery).
func (s *Store) HasBrokerURI() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.MQTT.URI != ""
}

// Update applies fn to a copy of the configuration, persists it and
// notifies listeners. The config seen by readers is swapped atomically;
// partial modifications are never visible.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	next := s.cfg
	fn(&next)
	next.sanitize()
	s.cfg = next
	s.mu.Unlock()

	if err := write(s.path, &next); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.notify(next)
	return nil
}

// AddListener registers cb and immediately delivers the current config to
// it. The returned ID can be used to remove the listener later.
func (s *Store) AddListener(cb Listener) ListenerID {
	s.mu.RLock()
	current := s.cfg
	s.mu.RUnlock()

	s.listenersMu.Lock()
	id := ListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&s.listenerCounter, 1)))
	s.listeners[id] = cb
	s.listenersMu.Unlock()

	cb(current)
	return id
}

// RemoveListener removes a previously registered listener.
func (s *Store) RemoveListener(id ListenerID) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, id)
}

// notify calls all listeners outside the data lock to avoid deadlocks with
// listeners that read back through the store.
func (s *Store) notify(cfg Config) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, cb := range s.listeners {
		listeners = append(listeners, cb)
	}
	s.listenersMu.RUnlock()

	for _, cb := range listeners {
		cb(cfg)
	}
}
