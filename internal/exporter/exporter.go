// Package exporter serves the controller's live status over HTTP: Prometheus
// gauges on /metrics, the latest status as JSON on /status and /healthz.
package exporter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/telemetry"
)

const (
	namespace       = "profilectl"
	shutdownTimeout = 5 * time.Second
	DefaultListen   = "127.0.0.1:9797"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

func DefaultConfig() Config {
	return Config{Listen: DefaultListen}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New().Wrap(ErrInvalidListen, err).WithData(c.Listen)
	}
	return nil
}

type gauges struct {
	profile        *prometheus.GaugeVec
	severity       prometheus.Gauge
	emergency      prometheus.Gauge
	degraded       prometheus.Gauge
	phaseRemaining prometheus.Gauge
	trend          prometheus.Gauge
	zoneTemp       *prometheus.GaugeVec
	zoneFan        *prometheus.GaugeVec
	zoneSeverity   *prometheus.GaugeVec
	zoneSlope      *prometheus.GaugeVec
	zoneActive     *prometheus.GaugeVec
	ticks          prometheus.Counter
	writes         prometheus.Counter
	readErrors     prometheus.Counter
}

func newGauges(reg prometheus.Registerer) gauges {
	factory := promauto.With(reg)

	return gauges{
		profile: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profile",
			Help:      "Asserted platform profile (1 for the current one)",
		}, []string{"profile"}),
		severity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "severity",
			Help:      "Global severity (0 cool, 1 warm, 2 hot)",
		}),
		emergency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emergency_locked",
			Help:      "Whether the emergency lock is engaged",
		}),
		degraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensors_degraded",
			Help:      "Whether the last tick had no zone readings",
		}),
		phaseRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_remaining_seconds",
			Help:      "Time left in the current cadence phase",
		}),
		trend: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trend",
			Help:      "Most adverse weighted trend among warm and hot zones",
		}),
		zoneTemp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_temperature_celsius",
			Help:      "Temperature a zone is judged by",
		}, []string{"zone"}),
		zoneFan: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_fan_rpm",
			Help:      "Slowest fan of a zone",
		}, []string{"zone"}),
		zoneSeverity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_severity",
			Help:      "Effective severity of a zone",
		}, []string{"zone"}),
		zoneSlope: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_slope_celsius_per_second",
			Help:      "Temperature slope over the trend window",
		}, []string{"zone"}),
		zoneActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_active",
			Help:      "Whether a zone reported on the last tick",
		}, []string{"zone"}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks",
		}),
		writes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_writes_total",
			Help:      "Writes to the profile node",
		}),
		readErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_read_errors_total",
			Help:      "Sensor entries that failed to read",
		}),
	}
}

// Exporter keeps the latest status and serves it.
type Exporter struct {
	log      logger.Logger
	registry *prometheus.Registry
	gauges   gauges
	router   *mux.Router

	mu   sync.RWMutex
	last *telemetry.Status
}

func New(log logger.Logger) *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		log:      log,
		registry: reg,
		gauges:   newGauges(reg),
		router:   mux.NewRouter(),
	}

	e.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	e.router.HandleFunc("/status", e.statusHandler).Methods(http.MethodGet)
	e.router.HandleFunc("/healthz", e.healthHandler).Methods(http.MethodGet)
	e.router.Use(e.loggingMiddleware)

	return e
}

// Publish updates the gauges and the served status.
func (e *Exporter) Publish(_ context.Context, s telemetry.Status) error {
	g := e.gauges

	for _, p := range []profile.Profile{profile.Balanced, profile.Performance} {
		v := 0.0
		if p == s.Profile {
			v = 1
		}
		g.profile.WithLabelValues(p.String()).Set(v)
	}

	g.severity.Set(float64(s.Severity))
	g.emergency.Set(boolGauge(s.Emergency))
	g.degraded.Set(boolGauge(s.Degraded))
	g.phaseRemaining.Set(s.Remaining.Seconds())
	g.trend.Set(s.Trend)
	g.ticks.Inc()
	if s.Written {
		g.writes.Inc()
	}
	g.readErrors.Add(float64(s.Errors))

	for _, z := range s.Zones {
		g.zoneActive.WithLabelValues(z.Name).Set(boolGauge(z.Active))
		if !z.Known {
			continue
		}
		g.zoneTemp.WithLabelValues(z.Name).Set(z.Temperature)
		g.zoneSeverity.WithLabelValues(z.Name).Set(float64(z.Effective))
		g.zoneSlope.WithLabelValues(z.Name).Set(z.Slope)
		if z.HasFan {
			g.zoneFan.WithLabelValues(z.Name).Set(z.FanSpeed)
		}
	}

	e.mu.Lock()
	e.last = &s
	e.mu.Unlock()

	return nil
}

func (e *Exporter) Handler() http.Handler {
	return e.router
}

// Run serves until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, listen string) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errFactory.Wrap(ErrServe, err)
	}

	server := &http.Server{
		Handler:      e.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		e.log.Info().Str("listen", ln.Addr().String()).Msg("Exporter listening")
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return errFactory.Wrap(ErrServe, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrServe, err)
	}
	<-serveErr

	e.log.Debug().Msg("Exporter stopped")

	return nil
}

func (e *Exporter) latest() (telemetry.Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.last == nil {
		return telemetry.Status{}, false
	}
	return *e.last, true
}

func (e *Exporter) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s, ok := e.latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no status yet"})
		return
	}

	writeJSON(w, http.StatusOK, s)
}

func (e *Exporter) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s, ok := e.latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"tick":      s.Tick,
		"degraded":  s.Degraded,
		"emergency": s.Emergency,
	})
}

func (e *Exporter) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		e.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
