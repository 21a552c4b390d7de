package middleware

import (
	"net/http"
	"time"

	"github.com/pribylovaa/shop-backoffice/internal/metrics"
)

// Metrics считает ответы по статусу и длительность обработки.
func Metrics(rec metrics.Recorder) Middleware {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			rec.RecordHTTPStatus(sw.code())
			rec.RecordHTTPLatency(time.Since(start))
		})
	}
}
