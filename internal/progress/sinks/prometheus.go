package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
)

// PrometheusSink exports verification progress via Prometheus. Run starts are
// derived from status snapshots flipping to running.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	items        *prometheus.CounterVec
	sessionReady prometheus.Gauge
	loginCodes   prometheus.Counter

	mu      sync.Mutex
	running bool
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wavalidator_runs_started_total",
			Help: "Total verification runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wavalidator_runs_completed_total",
			Help: "Total verification runs finished, partitioned by report persistence.",
		}, []string{"report"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wavalidator_runs_running",
			Help: "1 while a verification run is in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavalidator_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wavalidator_items_total",
			Help: "Verified identifiers partitioned by result and deciding tier.",
		}, []string{"result", "via"}),
		sessionReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wavalidator_session_ready",
			Help: "1 when the authenticated session is ready for lookups.",
		}),
		loginCodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wavalidator_login_codes_total",
			Help: "Login QR codes surfaced by the session.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.items,
		s.sessionReady,
		s.loginCodes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindArtifact:
		s.loginCodes.Inc()
	case progress.KindReady:
		s.sessionReady.Set(1)
	case progress.KindUnready:
		s.sessionReady.Set(0)
	case progress.KindStatus:
		s.handleStatus(evt)
	case progress.KindProgress:
		via := string(evt.Item.Via)
		if via == "" {
			via = "none"
		}
		s.items.WithLabelValues(string(evt.Item.Result), via).Inc()
	case progress.KindDone:
		label := "persisted"
		if evt.ReportID == "" {
			label = "failed"
		}
		s.runsCompleted.WithLabelValues(label).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) handleStatus(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := evt.Snapshot.Running
	if running == s.running {
		return
	}
	s.running = running
	if running {
		s.runsStarted.Inc()
		s.runsRunning.Set(1)
		return
	}
	s.runsRunning.Set(0)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
