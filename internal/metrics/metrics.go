// Package metrics exposes Prometheus instrumentation for the enforcer daemon.
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

var lifecycleStates = []domain.LifecycleState{
	domain.StateStopped,
	domain.StateStarting,
	domain.StateRunning,
	domain.StateRestarting,
	domain.StateStopping,
}

// Metrics holds all daemon metrics on a private registry.
type Metrics struct {
	Ticks              *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	Triggers           *prometheus.CounterVec
	InterstitialCloses *prometheus.CounterVec
	LifecycleState     *prometheus.GaugeVec
	CapabilityGranted  prometheus.Gauge
	Restarts           prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appguard",
			Name:      "ticks_total",
			Help:      "Enforcement ticks by outcome",
		}, []string{"outcome"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "appguard",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one enforcement tick",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
		}),
		Triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appguard",
			Name:      "interstitial_triggers_total",
			Help:      "Interstitials shown per target",
		}, []string{"target"}),
		InterstitialCloses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appguard",
			Name:      "interstitial_closes_total",
			Help:      "Interstitial closes by reason",
		}, []string{"reason"}),
		LifecycleState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "appguard",
			Name:      "lifecycle_state",
			Help:      "1 for the current daemon lifecycle state",
		}, []string{"state"}),
		CapabilityGranted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "appguard",
			Name:      "capability_granted",
			Help:      "1 when the foreground query capability is granted",
		}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "appguard",
			Name:      "restarts_total",
			Help:      "Poll loop restarts after unexpected teardown",
		}),
		registry: reg,
	}
}

// ObserveTick records one tick outcome and its duration.
func (m *Metrics) ObserveTick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(d.Seconds())
}

// ObserveTrigger counts an interstitial shown for target.
func (m *Metrics) ObserveTrigger(target string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(target).Inc()
}

// ObserveClose counts an interstitial close.
func (m *Metrics) ObserveClose(reason string) {
	if m == nil {
		return
	}
	m.InterstitialCloses.WithLabelValues(reason).Inc()
}

// SetState marks state as current.
func (m *Metrics) SetState(state domain.LifecycleState) {
	if m == nil {
		return
	}
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.LifecycleState.WithLabelValues(string(s)).Set(v)
	}
}

// SetCapability records the capability flag.
func (m *Metrics) SetCapability(granted bool) {
	if m == nil {
		return
	}
	if granted {
		m.CapabilityGranted.Set(1)
	} else {
		m.CapabilityGranted.Set(0)
	}
}

// IncRestart counts a RESTARTING transition.
func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
