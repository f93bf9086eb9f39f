package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/dropfetch/internal/model"
)

// Namespace prefixes every metric name.
const Namespace = "dropfetch"

// Phases of the in-progress gauge.
const (
	PhaseResolving   = "resolving"
	PhaseDownloading = "downloading"
)

// Metrics holds the collectors. It implements progress.Sink and is safe
// for concurrent use.
type Metrics struct {
	urls       *prometheus.CounterVec
	targets    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	bytes      prometheus.Histogram
	inProgress *prometheus.GaugeVec
	rateWait   prometheus.Histogram

	mu   sync.Mutex
	last map[string]string
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		urls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "urls_total",
				Help:      "Input URLs by terminal state.",
			},
			[]string{"state"},
		),
		targets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "targets_total",
				Help:      "Resolved targets by terminal state.",
			},
			[]string{"state"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "failures_total",
				Help:      "Terminal failures by kind.",
			},
			[]string{"kind"},
		),
		// 1KB to 1GB
		bytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "download_bytes",
			Help:      "Size of completed downloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 10, 7),
		}),
		inProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "in_progress",
				Help:      "URLs being resolved and targets being downloaded.",
			},
			[]string{"phase"},
		),
		rateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time requests waited for a rate limit grant.",
			Buckets:   prometheus.DefBuckets,
		}),
		last: make(map[string]string),
	}

	for _, c := range []prometheus.Collector{m.urls, m.targets, m.failures, m.bytes, m.inProgress, m.rateWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Emit implements progress.Sink.
func (m *Metrics) Emit(e model.Event) {
	key, phase := m.subject(e)

	m.mu.Lock()
	prev := m.last[key]
	if e.Terminal() {
		delete(m.last, key)
	} else {
		m.last[key] = e.State
	}
	m.mu.Unlock()

	if prev == phase && e.State != phase {
		m.inProgress.WithLabelValues(phase).Dec()
	}
	if e.State == phase && prev != phase {
		m.inProgress.WithLabelValues(phase).Inc()
	}
	if !e.Terminal() {
		return
	}

	if e.Subject == model.SubjectURL {
		m.urls.WithLabelValues(e.State).Inc()
	} else {
		m.targets.WithLabelValues(e.State).Inc()
	}
	switch {
	case e.Subject == model.SubjectURL && e.URLState == model.URLCrawlFailed,
		e.Subject == model.SubjectTarget && e.TargetState == model.TargetDownloadFailed:
		m.failures.WithLabelValues(e.Kind).Inc()
	case e.Subject == model.SubjectTarget && e.TargetState == model.TargetCompleted:
		m.bytes.Observe(float64(e.Bytes))
	}
}

// subject returns the tracking key of the event's subject and the phase
// that counts as in progress for it.
func (m *Metrics) subject(e model.Event) (key, phase string) {
	if e.Subject == model.SubjectURL {
		return "url|" + e.URL, PhaseResolving
	}
	return "target|" + e.URL + "|" + e.Target, PhaseDownloading
}

// ObserveGrant records how long a rate limit grant was waited for. Its
// signature matches ratelimit.GrantFunc.
func (m *Metrics) ObserveGrant(_ string, _ time.Time, waited time.Duration) {
	m.rateWait.Observe(waited.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
