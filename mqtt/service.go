// Package mqtt maintains the broker connection and publishes beacon
// readings over it.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"taglink/config"
)

// ErrNotReady reports that no broker connection is available right now.
// Callers treat it as transient and retry.
var ErrNotReady = errors.New("mqtt transport not ready")

// MaxSubscriptions bounds the subscription registry.
const MaxSubscriptions = 8

const (
	connectTimeout = 5 * time.Second
	tokenTimeout   = 2 * time.Second
)

// MessageHandler receives inbound messages for a subscribed topic.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	topic   string
	handler MessageHandler
}

// Service owns a single paho client. It prefers the operator-configured
// broker URI and falls back to a discovered one; a change to either while
// running triggers a reconnect. Subscriptions registered through Subscribe
// survive reconnects: they are re-applied on every connect.
type Service struct {
	log *logrus.Logger

	mu            sync.RWMutex
	cfg           config.MQTTConfig
	discoveredURI string
	clientID      string
	client        pahomqtt.Client
	running       bool
	subs          []subscription
}

// NewService creates a service for the given broker configuration. The
// client ID should be the node's scanner ID so brokers can tell nodes apart.
func NewService(cfg config.MQTTConfig, clientID string, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		log:      log,
		cfg:      cfg,
		clientID: clientID,
	}
}

// ValidateURI checks that a broker URI is usable: mqtt:// or mqtts://
// scheme and a non-empty host.
func ValidateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid broker URI: %w", err)
	}
	if u.Scheme != "mqtt" && u.Scheme != "mqtts" {
		return fmt.Errorf("invalid broker URI scheme %q: want mqtt or mqtts", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("broker URI %q has no host", uri)
	}
	return nil
}

// brokerAddr translates a broker URI into the paho address form and the TLS
// configuration to use with it. Default ports are 1883 plain, 8883 TLS.
func brokerAddr(uri string, skipVerify bool) (string, *tls.Config, error) {
	if err := ValidateURI(uri); err != nil {
		return "", nil, err
	}
	u, _ := url.Parse(uri)

	host := u.Hostname()
	port := u.Port()

	if u.Scheme == "mqtts" {
		if port == "" {
			port = "8883"
		}
		tlsConfig := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipVerify,
		}
		return fmt.Sprintf("ssl://%s:%s", host, port), tlsConfig, nil
	}

	if port == "" {
		port = "1883"
	}
	return fmt.Sprintf("tcp://%s:%s", host, port), nil, nil
}

// SetDiscoveredURI records a broker URI learned from mDNS. It only matters
// when no URI is configured; in that case a change reconnects the service.
func (s *Service) SetDiscoveredURI(uri string) {
	s.mu.Lock()
	if s.discoveredURI == uri {
		s.mu.Unlock()
		return
	}
	s.discoveredURI = uri
	restart := s.running && s.cfg.URI == ""
	s.mu.Unlock()

	s.log.WithField("uri", uri).Info("discovered MQTT broker")
	if restart {
		s.restart()
	}
}

// UpdateConfig installs a new broker configuration, reconnecting if the
// service is running and anything changed.
func (s *Service) UpdateConfig(cfg config.MQTTConfig) {
	s.mu.Lock()
	if s.cfg == cfg {
		s.mu.Unlock()
		return
	}
	s.cfg = cfg
	restart := s.running
	s.mu.Unlock()

	if restart {
		s.restart()
	}
}

// BrokerURI returns the URI the service is using (or would use), and where
// it came from: "configured", "discovered", or "" when there is none.
func (s *Service) BrokerURI() (uri, source string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.URI != "" {
		return s.cfg.URI, "configured"
	}
	if s.discoveredURI != "" {
		return s.discoveredURI, "discovered"
	}
	return "", ""
}

// Connected reports whether the client currently has a broker connection.
func (s *Service) Connected() bool {
	s.mu.RLock()
	client := s.client
	running := s.running
	s.mu.RUnlock()
	return running && client != nil && client.IsConnected()
}

// Start connects to the broker. Without a URI from either source it fails;
// the caller keeps the service stopped and calls Start again once discovery
// delivers one.
func (s *Service) Start() error {
	s.mu.RLock()
	if s.running {
		s.mu.RUnlock()
		return nil
	}
	uri, source := "", ""
	if s.cfg.URI != "" {
		uri, source = s.cfg.URI, "configured"
	} else if s.discoveredURI != "" {
		uri, source = s.discoveredURI, "discovered"
	}
	cfg := s.cfg
	clientID := s.clientID
	s.mu.RUnlock()

	if uri == "" {
		return fmt.Errorf("no broker URI configured or discovered")
	}

	addr, tlsConfig, err := brokerAddr(uri, cfg.TLSSkipVerify)
	if err != nil {
		return err
	}

	// Build options without holding the lock.
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(addr)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.log.WithField("broker", addr).Info("MQTT connected")
		s.applySubscriptions(c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.log.WithError(err).Warn("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	s.log.WithFields(logrus.Fields{"broker": addr, "source": source}).Info("connecting to MQTT broker")

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// With ConnectRetry set paho keeps trying in the background, so
		// the client is kept rather than torn down.
		s.log.Warn("MQTT connect still pending; retrying in background")
	} else if token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", addr, token.Error())
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	s.client = client
	s.running = true
	s.mu.Unlock()

	return nil
}

// Stop disconnects from the broker. Subscriptions stay registered and are
// re-applied on the next Start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(500)
	}
}

func (s *Service) restart() {
	s.Stop()
	if err := s.Start(); err != nil {
		s.log.WithError(err).Error("MQTT restart failed")
	}
}

// Publish sends one message at QoS 1. It returns ErrNotReady when no
// connection is available so the caller can requeue.
func (s *Service) Publish(topic, payload string) error {
	s.mu.RLock()
	client := s.client
	running := s.running
	s.mu.RUnlock()

	if !running || client == nil || !client.IsConnected() {
		return ErrNotReady
	}

	token := client.Publish(topic, 1, false, []byte(payload))
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a topic handler. The subscription is applied now if
// connected and re-applied automatically after every reconnect. The
// registry is bounded; registering beyond MaxSubscriptions fails.
func (s *Service) Subscribe(topic string, handler MessageHandler) error {
	s.mu.Lock()
	for _, sub := range s.subs {
		if sub.topic == topic {
			s.mu.Unlock()
			return fmt.Errorf("already subscribed to %s", topic)
		}
	}
	if len(s.subs) >= MaxSubscriptions {
		s.mu.Unlock()
		return fmt.Errorf("subscription limit (%d) reached", MaxSubscriptions)
	}
	s.subs = append(s.subs, subscription{topic: topic, handler: handler})
	client := s.client
	running := s.running
	s.mu.Unlock()

	if running && client != nil && client.IsConnected() {
		s.subscribe(client, topic, handler)
	}
	return nil
}

// applySubscriptions re-subscribes everything in the registry. Runs on the
// paho connect callback.
func (s *Service) applySubscriptions(client pahomqtt.Client) {
	s.mu.RLock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		s.subscribe(client, sub.topic, sub.handler)
	}
}

func (s *Service) subscribe(client pahomqtt.Client, topic string, handler MessageHandler) {
	token := client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(tokenTimeout) {
		s.log.WithField("topic", topic).Warn("subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("subscribe failed")
		return
	}
	s.log.WithField("topic", topic).Info("subscribed")
}
