package httpmw

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cwrk-planet/command-relay/internal/metrics"
	"github.com/cwrk-planet/command-relay/internal/ratelimit"
	"github.com/cwrk-planet/command-relay/pkg/httputil"
	"github.com/cwrk-planet/command-relay/pkg/logger"
)

// RateLimit ограничивает запросы на маршрут по IP клиента. nil limiter: пропускает всё.
func RateLimit(l ratelimit.Limiter, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), route+":"+clientIP(r))
			if err != nil {
				// best-effort: недоступный лимитер не должен ронять релей
				logger.FromContext(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				retry := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				metrics.RateLimitHits.WithLabelValues(route).Inc()
				httputil.Error(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP: RemoteAddr после middleware.RealIP; порт отбрасывается.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
