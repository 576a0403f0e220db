package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catengine"

// Telemetry owns the Prometheus registry and the engine's collectors.
type Telemetry struct {
	registry *prometheus.Registry
	server   *http.Server

	sessionsStarted   prometheus.Counter
	answers           *prometheus.CounterVec
	itemsSelected     *prometheus.CounterVec
	sessionStops      *prometheus.CounterVec
	recalibratedItems *prometheus.CounterVec
	recalibrationRun  prometheus.Histogram
}

// TelemetryOptions configures the metrics endpoint. A zero port disables it.
type TelemetryOptions struct {
	MetricsPort    int
	IncludeRuntime bool
}

// NewTelemetry registers every collector on a private registry.
func NewTelemetry(opts TelemetryOptions) *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry: reg,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Exam sessions started.",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers scored, by correctness.",
		}, []string{"correct"}),
		itemsSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_selected_total",
			Help:      "Items selected, by policy source or first-item heuristic.",
		}, []string{"source"}),
		sessionStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_stops_total",
			Help:      "Stop decisions, by condition.",
		}, []string{"reason"}),
		recalibratedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalibration_items_total",
			Help:      "Items processed by recalibration runs, by outcome.",
		}, []string{"outcome"}),
		recalibrationRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalibration_run_seconds",
			Help:      "Wall time of recalibration runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(t.sessionsStarted, t.answers, t.itemsSelected, t.sessionStops, t.recalibratedItems, t.recalibrationRun)
	if opts.IncludeRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if opts.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return t
}

func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics until ctx is done. It returns nil immediately
// when no port was configured.
func (t *Telemetry) Serve(ctx context.Context) error {
	if t == nil || t.server == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- t.server.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(shutdownCtx)
	}
}

func (t *Telemetry) SessionStarted() {
	if t == nil {
		return
	}
	t.sessionsStarted.Inc()
}

func (t *Telemetry) AnswerRecorded(correct bool) {
	if t == nil {
		return
	}
	t.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (t *Telemetry) ItemSelected(source string) {
	if t == nil {
		return
	}
	t.itemsSelected.WithLabelValues(source).Inc()
}

func (t *Telemetry) SessionStopped(reasons []string) {
	if t == nil {
		return
	}
	sorted := append([]string(nil), reasons...)
	sort.Strings(sorted)
	for _, r := range sorted {
		t.sessionStops.WithLabelValues(r).Inc()
	}
}

// ObserveRecalibration satisfies recalibration.Observer.
func (t *Telemetry) ObserveRecalibration(updated, skipped, failed int, took time.Duration) {
	if t == nil {
		return
	}
	t.recalibratedItems.WithLabelValues("updated").Add(float64(updated))
	t.recalibratedItems.WithLabelValues("skipped").Add(float64(skipped))
	t.recalibratedItems.WithLabelValues("failed").Add(float64(failed))
	t.recalibrationRun.Observe(took.Seconds())
}
