package httputil

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/command-relay/pkg/logger"

	"github.com/google/uuid"
)

type ctxKey string

const (
	HeaderRequestID        = "X-Request-ID"
	ctxKeyReqID     ctxKey = "req_id"
)

// MiddlewareRequestID пробрасывает/генерирует X-Request-ID и кладёт в контекст логгер с ним.
func MiddlewareRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)

		ctx := context.WithValue(r.Context(), ctxKeyReqID, reqID)
		ctx = logger.IntoContext(ctx, logger.L().With(slog.String("req_id", reqID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID достаёт request id из контекста.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyReqID).(string)
	return v, ok
}
