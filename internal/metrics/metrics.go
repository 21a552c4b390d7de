// Package metrics собирает Prometheus-метрики аутентификации и HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Значения метки flow.
const (
	FlowRegister  = "register"
	FlowLogin     = "login"
	FlowFederated = "federated"
	FlowRefresh   = "refresh"
)

// Значения метки result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Значения метки kind.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Recorder - контракт, которым пользуются сервис и HTTP-слой.
type Recorder interface {
	RecordAuthAttempt(flow, result string)
	RecordTokenIssued(kind string)
	RecordHTTPStatus(statusCode int)
	RecordHTTPLatency(d time.Duration)
}

// Collector - реализация Recorder на prometheus.
type Collector struct {
	authAttempts *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)

// NewCollector создает Collector и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_attempts_total",
			Help: "Authentication attempts by flow and result.",
		}, []string{"flow", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_tokens_issued_total",
			Help: "Issued tokens by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_http_requests_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backoffice_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.authAttempts, c.tokensIssued, c.httpRequests, c.httpLatency)

	return c
}

func (c *Collector) RecordAuthAttempt(flow, result string) {
	c.authAttempts.WithLabelValues(flow, result).Inc()
}

func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordHTTPLatency(d time.Duration) {
	c.httpLatency.Observe(d.Seconds())
}

// Nop ничего не записывает.
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordTokenIssued(string)         {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordHTTPLatency(time.Duration)  {}

// Handler возвращает HTTP-обработчик для скрейпа Prometheus.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
