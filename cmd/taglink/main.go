// Taglink - BLE tag tracking node
//
// Scans for BLE tag advertisements and publishes sighting readings to the
// tracking server's MQTT broker, locating the broker via mDNS when it is
// not configured explicitly.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"taglink/config"
	"taglink/control"
	"taglink/discovery"
	"taglink/identity"
	"taglink/mqtt"
	"taglink/radio"
	"taglink/scan"
	"taglink/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	debug := flag.Bool("debug", false, "Log every advertisement seen")
	flag.Parse()

	if *showVersion {
		fmt.Printf("taglink %s\n", Version)
		os.Exit(0)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	store, err := config.Open(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg := store.Get()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if *debug || cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	scannerID := identity.ScannerID()
	log.WithField("scanner_id", scannerID).Info("taglink starting")

	// Broker transport. It stays stopped until a broker URI is known from
	// configuration or discovery.
	mqttSvc := mqtt.NewService(cfg.MQTT, scannerID, log)

	// Scan pipeline.
	params := radio.ScanParams{
		Interval:         time.Duration(cfg.Scan.IntervalMS) * time.Millisecond,
		Window:           time.Duration(cfg.Scan.WindowMS) * time.Millisecond,
		FilterPolicy:     cfg.Scan.FilterPolicy,
		Passive:          cfg.Scan.Passive,
		FilterDuplicates: cfg.Scan.FilterDuplicates,
	}
	engine := scan.NewEngine(radio.NewBLERadio(log), mqttSvc, scannerID, params, log)
	if *debug || cfg.Debug {
		engine.SetDebug(true)
	}

	// Config changes flow to the pipeline and the transport. The listener
	// fires immediately with the current snapshot, seeding both.
	store.AddListener(func(cfg config.Config) {
		engine.OnIdentityChanged(cfg.Identity)
		mqttSvc.UpdateConfig(cfg.MQTT)
	})

	// Broker discovery fills in for a missing configured URI.
	browser := discovery.NewBrowser(log)
	browser.AddListener(func(uri string) {
		mqttSvc.SetDiscoveredURI(uri)
		if !mqttSvc.Connected() {
			if err := mqttSvc.Start(); err != nil {
				log.WithError(err).Warn("MQTT start failed")
			}
		}
	})
	browser.Start()

	if store.HasBrokerURI() {
		if err := mqttSvc.Start(); err != nil {
			log.WithError(err).Warn("MQTT start failed; will retry on discovery")
		}
	} else {
		log.Info("no broker configured; waiting for mDNS discovery")
	}

	if err := engine.Start(); err != nil {
		log.WithError(err).Fatal("failed to start BLE scanning")
	}

	// Shutdown on signal or on a remote reset command.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ctrl, err := control.New(store, mqttSvc, scannerID, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create beacon control")
	}
	ctrl.SetRestartFunc(func() {
		// Exit cleanly; the service supervisor restarts the process.
		shutdown <- syscall.SIGTERM
	})
	if err := ctrl.Start(); err != nil {
		log.WithError(err).Error("beacon control unavailable")
	}

	webServer := web.NewServer(cfg.Web, scannerID, store, mqttSvc, engine, log)
	if err := webServer.Start(); err != nil {
		log.WithError(err).Error("web server unavailable")
	}

	sig := <-shutdown
	log.WithField("signal", sig.String()).Info("shutting down")

	if err := webServer.Stop(); err != nil {
		log.WithError(err).Warn("web server shutdown failed")
	}
	engine.Close()
	browser.Close()
	mqttSvc.Stop()
}
