package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec // admission outcomes by scope
	WaitTimeouts    prometheus.Counter
	CacheLookups    *prometheus.CounterVec // hit / miss
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitlite_requests_total",
				Help: "Total HTTP requests handled by the ops API",
			},
			[]string{"path", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admitlite_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitlite_decisions_total",
				Help: "Admission decisions by outcome and denying scope",
			},
			[]string{"outcome", "scope"},
		),
		WaitTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admitlite_wait_timeouts_total",
				Help: "Bounded waits that gave up before being admitted",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitlite_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Decisions, m.WaitTimeouts, m.CacheLookups)
	return m
}

// Allowed / Denied feed the decision counter; scope is empty for
// allowed decisions and the denying check ("second".."day","backoff")
// otherwise.
func (m *Metrics) Allowed()            { m.Decisions.WithLabelValues("allowed", "").Inc() }
func (m *Metrics) Denied(scope string) { m.Decisions.WithLabelValues("denied", scope).Inc() }

func (m *Metrics) CacheHit()  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.CacheLookups.WithLabelValues("miss").Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// pathLabel collapses per-key cache paths so label cardinality stays
// bounded by the fixed ops path set.
func pathLabel(p string) string {
	if strings.HasPrefix(p, "/v1/cache/") {
		return "/v1/cache/{key}"
	}
	return p
}

// Middleware records per-request metrics, labelled by URL path.
func (m *Metrics) Middleware(skip map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			path := pathLabel(r.URL.Path)
			m.RequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
