package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/command-relay/internal/metrics"
	"github.com/cwrk-planet/command-relay/internal/ratelimit"
	httpmw "github.com/cwrk-planet/command-relay/internal/transport/http/middleware"
	"github.com/cwrk-planet/command-relay/internal/transport/ws"
	"github.com/cwrk-planet/command-relay/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler *Handler
	WS      *ws.Server
	Limiter ratelimit.Limiter // nil: без ограничений
	CORS    []string
	Timeout time.Duration
	Metrics bool
}

func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	h := d.Handler

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareTracing)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareLogging)
	r.Use(httpmw.Metrics)

	if len(d.CORS) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORS,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", httputil.HeaderRequestID},
			ExposedHeaders: []string{httputil.HeaderRequestID, "Retry-After"},
			MaxAge:         300,
		}))
	}

	// WS живёт дольше любого таймаута запроса
	if d.WS != nil {
		r.Get("/ws/rooms/{room_code}", d.WS.HandleWS)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(d.Timeout))

		pr.With(httpmw.RateLimit(d.Limiter, "host")).Post("/host", h.Host)
		pr.Post("/join/{room_code}", h.Join)
		pr.With(httpmw.RateLimit(d.Limiter, "send")).Post("/send/{room_code}", h.Send)
		pr.Get("/receive/{room_code}", h.Receive)

		pr.Route("/rooms/{room_code}", func(rr chi.Router) {
			rr.Get("/", h.RoomInfo)
			rr.Delete("/", h.CloseRoom)
		})
		pr.Get("/stats", h.Stats)
		if h.audit != nil {
			pr.Get("/audit/{room_code}", h.AuditHistory)
		}
	})

	if d.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
