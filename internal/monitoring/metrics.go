// Package monitoring records bot metrics.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is what the scheduler reports. Status labels are short words
// ("ok", "error", "duplicate").
type Metrics interface {
	CycleCompleted(d time.Duration, failedChains int)
	Fetch(chainID, status string, d time.Duration)
	Notify(chainID, status string)
	Watermark(chainID string, value uint64)
	PersistError(chainID string)
}

var _ Metrics = (*Prometheus)(nil)

type Prometheus struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	notifyTotal   *prometheus.CounterVec
	watermark     *prometheus.GaugeVec
	persistErrors *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "govbot_cycles_total", Help: "Check cycles run"},
			[]string{"status"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "govbot_cycle_duration_seconds", Help: "Check cycle latency", Buckets: prometheus.DefBuckets},
		),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "govbot_fetch_total", Help: "Proposal fetches"},
			[]string{"chain", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "govbot_fetch_duration_seconds", Help: "Proposal fetch latency", Buckets: prometheus.DefBuckets},
			[]string{"chain"},
		),
		notifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "govbot_notify_total", Help: "Notification attempts"},
			[]string{"chain", "status"},
		),
		watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "govbot_watermark", Help: "Highest proposal ID reported"},
			[]string{"chain"},
		),
		persistErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "govbot_persist_errors_total", Help: "Failed watermark writes"},
			[]string{"chain"},
		),
	}
	reg.MustRegister(p.cycles, p.cycleDuration, p.fetchTotal, p.fetchDuration, p.notifyTotal, p.watermark, p.persistErrors)
	return p
}

func (p *Prometheus) CycleCompleted(d time.Duration, failedChains int) {
	status := "ok"
	if failedChains > 0 {
		status = "partial"
	}
	p.cycles.WithLabelValues(status).Inc()
	p.cycleDuration.Observe(d.Seconds())
}

func (p *Prometheus) Fetch(chainID, status string, d time.Duration) {
	p.fetchTotal.WithLabelValues(chainID, status).Inc()
	p.fetchDuration.WithLabelValues(chainID).Observe(d.Seconds())
}

func (p *Prometheus) Notify(chainID, status string) {
	p.notifyTotal.WithLabelValues(chainID, status).Inc()
}

func (p *Prometheus) Watermark(chainID string, value uint64) {
	p.watermark.WithLabelValues(chainID).Set(float64(value))
}

func (p *Prometheus) PersistError(chainID string) {
	p.persistErrors.WithLabelValues(chainID).Inc()
}

// Noop discards everything. Useful for tests or when metrics are disabled.
type Noop struct{}

func (Noop) CycleCompleted(time.Duration, int) {}
func (Noop) Fetch(string, string, time.Duration) {}
func (Noop) Notify(string, string) {}
func (Noop) Watermark(string, uint64) {}
func (Noop) PersistError(string) {}
