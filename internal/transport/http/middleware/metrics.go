package httpmw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cwrk-planet/command-relay/internal/metrics"
	"github.com/cwrk-planet/command-relay/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// Metrics считает запросы по шаблону маршрута, а не по сырому пути, чтобы коды комнат не раздували кардинальность.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &httputil.StatusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
