// Package discovery locates the tracking server's MQTT broker on the local
// network via mDNS/DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	serviceType = "_catlocator._tcp"
	domain      = "local."

	browseTimeout   = 5 * time.Second
	requeryInterval = 15 * time.Second
)

// Listener is notified with the broker URI whenever discovery produces a
// new one. A listener registered after a broker was already found is called
// immediately with the last known URI.
type Listener func(uri string)

// ListenerID identifies a registered listener for removal.
type ListenerID int

// Browser periodically queries for the tracking server and derives a broker
// URI from its TXT record. Notifications fire only when the URI changes.
type Browser struct {
	log *logrus.Logger

	mu        sync.Mutex
	lastURI   string
	listeners map[ListenerID]Listener
	nextID    ListenerID

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
	interval  time.Duration
}

// NewBrowser creates a stopped browser.
func NewBrowser(log *logrus.Logger) *Browser {
	if log == nil {
		log = logrus.New()
	}
	return &Browser{
		log:       log,
		listeners: make(map[ListenerID]Listener),
		stop:      make(chan struct{}),
		interval:  requeryInterval,
	}
}

// Start launches the periodic query loop.
func (b *Browser) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

// Close stops the query loop.
func (b *Browser) Close() {
	b.closeOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}

// AddListener registers a change listener, replaying the last discovered
// URI to it right away if one exists.
func (b *Browser) AddListener(cb Listener) ListenerID {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = cb
	last := b.lastURI
	b.mu.Unlock()

	if last != "" {
		cb(last)
	}
	return id
}

// RemoveListener unregisters a listener.
func (b *Browser) RemoveListener(id ListenerID) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// BrokerURI returns the last discovered URI, or "" when none yet.
func (b *Browser) BrokerURI() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastURI
}

func (b *Browser) run() {
	defer b.wg.Done()

	for {
		b.query()
		select {
		case <-time.After(b.interval):
		case <-b.stop:
			return
		}
	}
}

// query runs one browse round and feeds any usable entries through update.
func (b *Browser) query() {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		b.log.WithError(err).Warn("mDNS resolver unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if uri, ok := brokerURIFromEntry(entry); ok {
				b.update(uri)
			}
		}
	}()

	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		b.log.WithError(err).Warn("mDNS browse failed")
		cancel()
		<-done
		return
	}

	<-ctx.Done()
	<-done
}

// update records a discovered URI and notifies listeners when it changed.
func (b *Browser) update(uri string) {
	b.mu.Lock()
	if uri == b.lastURI {
		b.mu.Unlock()
		return
	}
	b.lastURI = uri
	listeners := make([]Listener, 0, len(b.listeners))
	for _, cb := range b.listeners {
		listeners = append(listeners, cb)
	}
	b.mu.Unlock()

	b.log.WithField("uri", uri).Info("tracking server located")
	for _, cb := range listeners {
		cb(uri)
	}
}

// brokerURIFromEntry derives the broker URI from a service entry. The TXT
// record can carry mqtt_port, host and a tls/secure flag; anything missing
// falls back to the entry's own host and port.
func brokerURIFromEntry(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil {
		return "", false
	}

	host := txtValue(entry.Text, "host")
	if host == "" {
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	host = qualifyHost(host)
	if host == "" {
		return "", false
	}

	port := entry.Port
	if v := txtValue(entry.Text, "mqtt_port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return "", false
		}
		port = p
	}
	if port <= 0 {
		return "", false
	}

	scheme := "mqtt"
	if isTruthy(txtValue(entry.Text, "tls")) || isTruthy(txtValue(entry.Text, "secure")) {
		scheme = "mqtts"
	}

	return fmt.Sprintf("%s://%s:%d", scheme, host, port), true
}

// txtValue extracts a key=value pair from a TXT record.
func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, kv := range txt {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimSpace(kv[len(prefix):])
		}
	}
	return ""
}

// qualifyHost appends the .local suffix to bare hostnames so they resolve
// through mDNS.
func qualifyHost(host string) string {
	host = strings.TrimSpace(strings.TrimSuffix(host, "."))
	if host == "" {
		return ""
	}
	if !strings.Contains(host, ".") {
		return host + ".local"
	}
	return host
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
