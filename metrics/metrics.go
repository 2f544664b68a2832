package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claims"

// Recorder exports intake, upload, notification and status metrics.
// A nil *Recorder is a no-op.
type Recorder struct {
	intakes        *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadBytes    prometheus.Counter
	notifications  *prometheus.CounterVec
	statusUpdates  *prometheus.CounterVec
	gatherer       prometheus.Gatherer
}

// New registers the collectors on reg (the default registry when nil).
// Collectors already registered on reg are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		r.gatherer = g
	}

	var err error
	if r.intakes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intake_total",
		Help:      "Claim submissions by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if r.uploadDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Latency of blob uploads per file role.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"role", "outcome"})); err != nil {
		return nil, err
	}
	if r.uploadBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Cumulative size of successfully uploaded claim files.",
	})); err != nil {
		return nil, err
	}
	if r.notifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Background notification tasks by kind and outcome.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if r.statusUpdates, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_updates_total",
		Help:      "Claim status changes by target status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Recorder) RecordIntake(err error) {
	if r == nil {
		return
	}
	r.intakes.WithLabelValues(outcome(err)).Inc()
}

func (r *Recorder) RecordUpload(role string, duration time.Duration, size int64, err error) {
	if r == nil {
		return
	}
	r.uploadDuration.WithLabelValues(role, outcome(err)).Observe(duration.Seconds())
	if err == nil && size > 0 {
		r.uploadBytes.Add(float64(size))
	}
}

func (r *Recorder) RecordNotification(kind string, err error) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(kind, outcome(err)).Inc()
}

func (r *Recorder) RecordStatusUpdate(status string) {
	if r == nil {
		return
	}
	r.statusUpdates.WithLabelValues(status).Inc()
}

// Handler serves the registry the recorder was created with.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
