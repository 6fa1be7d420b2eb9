package server

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaia-mud/gaia/pkg/events"
)

// Metrics holds Prometheus metric descriptors for the game server.
type Metrics struct {
	game *Game

	sessionsConnected *prometheus.GaugeVec
	objectsCached     prometheus.Gauge
	objectsDirty      prometheus.Gauge
	commandsTotal     prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	failuresTotal     prometheus.Counter
	ticksTotal        prometheus.Counter
	tickTargets       prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	memoryHeapBytes   prometheus.Gauge
	goroutines        prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the game.
func NewMetrics(game *Game) *Metrics {
	m := &Metrics{
		game: game,
		sessionsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gaia_sessions_connected",
			Help: "Number of currently connected sessions by transport.",
		}, []string{"transport"}),
		objectsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_objects_cached",
			Help: "Number of objects resident in the world cache.",
		}),
		objectsDirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_objects_dirty",
			Help: "Number of cached objects awaiting write-back.",
		}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gaia_commands_processed_total",
			Help: "Total input lines processed since server start.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_events_total",
			Help: "Total bus events emitted, by event type.",
		}, []string{"type"}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gaia_softcode_failures_total",
			Help: "Total softcode evaluation failures since server start.",
		}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gaia_ticks_total",
			Help: "Total scheduler ticks completed.",
		}),
		tickTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_tick_targets",
			Help: "Objects swept on the most recent tick.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaia_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	prometheus.MustRegister(
		m.sessionsConnected,
		m.objectsCached,
		m.objectsDirty,
		m.commandsTotal,
		m.eventsTotal,
		m.failuresTotal,
		m.ticksTotal,
		m.tickTargets,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	game.Bus.SubscribeGlobal(m)
	return m
}

// Receive implements events.Subscriber: the collector taps the bus
// globally and counts every delivered event by type.
func (m *Metrics) Receive(ev events.Event) {
	m.eventsTotal.WithLabelValues(ev.Type.String()).Inc()
}

// Closed implements events.Subscriber; the collector lives as long as the
// game does.
func (m *Metrics) Closed() bool { return false }

// CommandProcessed counts one processed input line.
func (m *Metrics) CommandProcessed() { m.commandsTotal.Inc() }

// SoftcodeFailure counts one failed evaluation.
func (m *Metrics) SoftcodeFailure() { m.failuresTotal.Inc() }

// TickCompleted counts a finished scheduler sweep over n targets.
func (m *Metrics) TickCompleted(n int) {
	m.ticksTotal.Inc()
	m.tickTargets.Set(float64(n))
}

// ConnectionOpened / ConnectionClosed track live sessions per transport.
func (m *Metrics) ConnectionOpened(transport string) {
	m.sessionsConnected.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	m.sessionsConnected.WithLabelValues(transport).Dec()
}

// Update refreshes all gauge metrics from current game state.
func (m *Metrics) Update() {
	m.objectsCached.Set(float64(m.game.Cache.Len()))
	m.objectsDirty.Set(float64(m.game.Cache.DirtyCount()))
	m.uptimeSeconds.Set(m.game.Uptime().Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		promhttp.Handler().ServeHTTP(w, r)
	})
}
