// Package web exposes a small read-only HTTP surface for monitoring the
// node: a health probe and a status snapshot.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"taglink/config"
	"taglink/scan"
)

// BrokerStatus is the transport view reported by the status endpoint.
// *mqtt.Service satisfies it.
type BrokerStatus interface {
	Connected() bool
	BrokerURI() (uri, source string)
}

// PipelineStatus is the scan pipeline view reported by the status endpoint.
// *scan.Engine satisfies it.
type PipelineStatus interface {
	Stats() scan.Stats
	DebugEnabled() bool
}

// Server serves the monitoring endpoints.
type Server struct {
	log       *logrus.Logger
	config    config.WebConfig
	scannerID string
	store     *config.Store
	broker    BrokerStatus
	pipeline  PipelineStatus

	startTime time.Time
	router    chi.Router
	server    *http.Server
	running   bool
	mu        sync.RWMutex
}

// NewServer creates the monitoring server. Start must be called to listen.
func NewServer(cfg config.WebConfig, scannerID string, store *config.Store, broker BrokerStatus, pipeline PipelineStatus, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		log:       log,
		config:    cfg,
		scannerID: scannerID,
		store:     store,
		broker:    broker,
		pipeline:  pipeline,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	s.router = r
}

// corsMiddleware adds CORS headers so dashboards can poll the endpoints.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins listening. Disabled configuration is a silent no-op so main
// can call it unconditionally.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled || s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(s.log.WriterLevel(logrus.DebugLevel), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.log.WithError(err).Error("web server stopped")
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	s.log.WithField("addr", addr).Info("web server listening")
	return nil
}

// Stop halts the server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is listening.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

type mqttStatus struct {
	Connected bool   `json:"connected"`
	BrokerURI string `json:"broker_uri,omitempty"`
	Source    string `json:"source,omitempty"`
}

type statusResponse struct {
	ScannerID     string          `json:"scanner_id"`
	BeaconID      string          `json:"beacon_id"`
	Location      config.Location `json:"location"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Debug         bool            `json:"debug"`
	MQTT          mqttStatus      `json:"mqtt"`
	Pipeline      scan.Stats      `json:"pipeline"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	id := s.store.Identity()
	uri, source := s.broker.BrokerURI()

	resp := statusResponse{
		ScannerID:     s.scannerID,
		BeaconID:      id.BeaconID,
		Location:      id.Location,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Debug:         s.pipeline.DebugEnabled(),
		MQTT: mqttStatus{
			Connected: s.broker.Connected(),
			BrokerURI: uri,
			Source:    source,
		},
		Pipeline: s.pipeline.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Debug("failed to write status response")
	}
}
