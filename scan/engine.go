package scan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"taglink/config"
	"taglink/mqtt"
	"taglink/radio"
)

// Publisher is the outbound capability the engine hands readings to.
// Implementations signal transient unavailability with mqtt.ErrNotReady,
// which selects the retry path; any other error is treated as
// non-transient.
type Publisher interface {
	Publish(topic, payload string) error
}

// Backoffs applied by the publish worker.
const (
	defaultRetryBackoff = 500 * time.Millisecond
	defaultErrorBackoff = 250 * time.Millisecond
)

// missingIDLogInterval rate-limits the unconfigured-beacon warning.
const missingIDLogInterval = 5 * time.Second

// Engine owns the scan pipeline: it dispatches radio discovery events
// through parse, rate limit and format, and drains the publish queue with a
// dedicated worker. Construct with NewEngine, then Start; it runs until
// Close.
type Engine struct {
	log       *logrus.Logger
	radio     radio.Radio
	pub       Publisher
	scannerID string
	params    radio.ScanParams

	identity atomic.Pointer[config.Identity]
	interval atomic.Int64 // time.Duration; 0 disables suppression

	cache *TagCache
	queue *queue[Message]
	debug *debugSink

	// Overridable in tests.
	now          func() time.Time
	retryBackoff time.Duration
	errorBackoff time.Duration

	mu       sync.Mutex
	started  bool
	scanning bool

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	stats            engineStats
	lastMissingIDLog atomic.Int64 // unix nanos
}

// NewEngine wires a pipeline around the given radio and publisher. The
// scanner ID is used for inventory topics when no beacon identity is
// configured.
func NewEngine(r radio.Radio, pub Publisher, scannerID string, params radio.ScanParams, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}

	e := &Engine{
		log:          log,
		radio:        r,
		pub:          pub,
		scannerID:    scannerID,
		params:       params,
		cache:        NewTagCache(),
		queue:        newQueue[Message](PublishQueueDepth),
		debug:        newDebugSink(log),
		now:          time.Now,
		retryBackoff: defaultRetryBackoff,
		errorBackoff: defaultErrorBackoff,
		stop:         make(chan struct{}),
	}
	e.interval.Store(int64(config.DefaultReportingIntervalMS) * int64(time.Millisecond))
	return e
}

// Start launches the workers and the first scan. It is idempotent. A scan
// that cannot start is a hard error: the node is useless without one.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.publishWorker()
	go e.debugWorker()

	return e.startScan()
}

// Close stops the workers. The radio scan itself is not cancelled; the
// only lifecycle control for scanning is process exit.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// OnIdentityChanged installs a new identity snapshot. The whole struct is
// replaced atomically so readers never observe a partial update. A
// non-positive interval in the update is ignored: it must not silently
// disable an already-configured rate limit.
func (e *Engine) OnIdentityChanged(id config.Identity) {
	snapshot := id
	e.identity.Store(&snapshot)

	if iv := id.Interval(); iv > 0 {
		e.interval.Store(int64(iv))
	}
}

// SetDebug toggles the diagnostic advertisement dump. Enabling flushes any
// stale captures so only fresh traffic is shown.
func (e *Engine) SetDebug(enable bool) {
	e.debug.setEnabled(enable)
	if enable {
		e.log.Info("advertisement debug logging enabled")
	} else {
		e.log.Info("advertisement debug logging disabled")
	}
}

// DebugEnabled reports whether the diagnostic dump is active.
func (e *Engine) DebugEnabled() bool {
	return e.debug.isEnabled()
}

// startScan requests a scan unless one is already running.
func (e *Engine) startScan() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scanning {
		return nil
	}
	if err := e.radio.Scan(e.params, e); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	e.scanning = true
	e.log.Info("BLE scanning started")
	return nil
}

// HandleDiscovery dispatches one advertising report through the pipeline.
// It runs in the radio event context: every step here is non-blocking.
func (e *Engine) HandleDiscovery(ev radio.DiscoveryEvent) {
	e.stats.events.Add(1)
	e.debug.capture(ev)

	now := e.now()
	interval := time.Duration(e.interval.Load())
	if !e.cache.Admit(ev.Addr, now, interval) {
		e.stats.suppressed.Add(1)
		return
	}

	fields := ParseFields(ev.Data)

	var id config.Identity
	if p := e.identity.Load(); p != nil {
		id = *p
	}
	if id.BeaconID == "" {
		e.warnMissingBeaconID(now)
	}

	msg, truncated := Format(ev, fields, id, e.scannerID, now)
	if truncated {
		e.stats.truncated.Add(1)
		e.log.WithField("addr", ev.Addr.String()).Warn("reading payload truncated")
	}

	if !e.queue.trySend(msg) {
		e.stats.dropped.Add(1)
		e.log.WithField("topic", msg.Topic).Warn("publish queue full; dropping message")
		return
	}
	e.stats.enqueued.Add(1)
}

// HandleScanComplete restarts scanning. The controller can end a scan on
// its own; the node never stays idle.
func (e *Engine) HandleScanComplete() {
	e.mu.Lock()
	e.scanning = false
	e.mu.Unlock()

	select {
	case <-e.stop:
		return
	default:
	}

	if err := e.startScan(); err != nil {
		e.log.WithError(err).Error("failed to restart scan")
	}
}

// publishWorker is the single consumer of the publish queue.
func (e *Engine) publishWorker() {
	defer e.wg.Done()

	for {
		msg, ok := e.queue.receive(e.stop)
		if !ok {
			return
		}

		err := e.pub.Publish(msg.Topic, msg.Payload)
		switch {
		case err == nil:
			e.stats.published.Add(1)
			if e.debug.isEnabled() {
				e.log.WithField("topic", msg.Topic).Debug("published reading")
			}

		case errors.Is(err, mqtt.ErrNotReady):
			e.stats.retries.Add(1)
			e.log.WithField("topic", msg.Topic).Warn("transport not ready; retrying")
			if !e.sleep(e.retryBackoff) {
				return
			}
			// The retry competes with fresh messages for queue space;
			// under a sustained outage old readings lose out.
			if !e.queue.trySend(msg) {
				e.stats.dropped.Add(1)
				e.log.WithField("topic", msg.Topic).Warn("publish queue full; dropping retried message")
			}

		default:
			e.stats.publishErrors.Add(1)
			e.log.WithError(err).WithField("topic", msg.Topic).Warn("publish failed")
			if !e.sleep(e.errorBackoff) {
				return
			}
		}
	}
}

// sleep waits for d or until the engine is closed. Returns false on close.
func (e *Engine) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-e.stop:
		return false
	}
}

func (e *Engine) warnMissingBeaconID(now time.Time) {
	last := e.lastMissingIDLog.Load()
	if now.UnixNano()-last < int64(missingIDLogInterval) {
		return
	}
	if e.lastMissingIDLog.CompareAndSwap(last, now.UnixNano()) {
		e.log.Warn("beacon ID not configured; sending discovery inventory only")
	}
}

// engineStats are the pipeline counters, updated lock-free from both the
// event context and the worker.
type engineStats struct {
	events        atomic.Uint64
	enqueued      atomic.Uint64
	published     atomic.Uint64
	suppressed    atomic.Uint64
	dropped       atomic.Uint64
	retries       atomic.Uint64
	publishErrors atomic.Uint64
	truncated     atomic.Uint64
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	EventsSeen    uint64 `json:"events_seen"`
	Enqueued      uint64 `json:"enqueued"`
	Published     uint64 `json:"published"`
	Suppressed    uint64 `json:"suppressed"`
	Dropped       uint64 `json:"dropped"`
	Retries       uint64 `json:"retries"`
	PublishErrors uint64 `json:"publish_errors"`
	Truncated     uint64 `json:"truncated"`
	QueueDepth    int    `json:"queue_depth"`
}

// Stats returns a snapshot of the pipeline counters.
func (e *Engine) Stats() Stats {
	return Stats{
		EventsSeen:    e.stats.events.Load(),
		Enqueued:      e.stats.enqueued.Load(),
		Published:     e.stats.published.Load(),
		Suppressed:    e.stats.suppressed.Load(),
		Dropped:       e.stats.dropped.Load(),
		Retries:       e.stats.retries.Load(),
		PublishErrors: e.stats.publishErrors.Load(),
		Truncated:     e.stats.truncated.Load(),
		QueueDepth:    e.queue.depth(),
	}
}

// debugWorker drains the diagnostic capture queue at low priority.
func (e *Engine) debugWorker() {
	defer e.wg.Done()
	e.debug.run(e.stop)
}
