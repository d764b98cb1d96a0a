package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	authResultsTotal    *prometheus.CounterVec
	tokenRotationsTotal prometheus.Counter
)

// MetricsConfig agrupa lo necesario para exponer /metrics.
type MetricsConfig struct {
	Registry prometheus.Registerer

	// GlobalPool, si está seteado, registra un collector con stats del pool.
	GlobalPool func() *pgxpool.Stat
}

// RegisterMetrics inicializa las métricas y devuelve el handler de /metrics.
func RegisterMetrics(cfg MetricsConfig) (http.Handler, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	var regErr error
	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		authResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_results_total",
			Help: "Resultados del gate de autenticación por tipo",
		}, []string{"result"})

		tokenRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_rotations_total",
			Help: "Rotaciones de refresh token exitosas",
		})

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, authResultsTotal, tokenRotationsTotal,
		} {
			if err := registry.Register(c); err != nil {
				regErr = err
				return
			}
		}
		if cfg.GlobalPool != nil {
			if err := registry.Register(newPoolCollector(cfg.GlobalPool)); err != nil {
				regErr = err
			}
		}
	})
	if regErr != nil {
		return nil, regErr
	}
	return promhttp.Handler(), nil
}

// ObserveAuthResult alimenta auth_results_total; se cuelga del OnResult del gate.
func ObserveAuthResult(kind auth.Kind) {
	if authResultsTotal == nil {
		return
	}
	authResultsTotal.WithLabelValues(kind.String()).Inc()
}

// ObserveRotation cuenta una rotación exitosa.
func ObserveRotation() {
	if tokenRotationsTotal != nil {
		tokenRotationsTotal.Inc()
	}
}

// WithHTTPMetrics instrumenta cada request. Usa el patrón de la ruta (no la
// URL cruda) para no explotar la cardinalidad.
func WithHTTPMetrics(routePattern func(r *http.Request) string) middlewares.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpRequestsTotal == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type metricsRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (m *metricsRecorder) WriteHeader(code int) {
	if !m.wroteHeader {
		m.status = code
		m.wroteHeader = true
	}
	m.ResponseWriter.WriteHeader(code)
}

// poolCollector expone stats del pool global de pgx.
type poolCollector struct {
	stats func() *pgxpool.Stat

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
}

func newPoolCollector(stats func() *pgxpool.Stat) *poolCollector {
	return &poolCollector{
		stats:    stats,
		acquired: prometheus.NewDesc("pg_pool_acquired_conns", "Conexiones adquiridas", nil, nil),
		idle:     prometheus.NewDesc("pg_pool_idle_conns", "Conexiones idle", nil, nil),
		total:    prometheus.NewDesc("pg_pool_total_conns", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	if st == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(st.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.TotalConns()))
}
