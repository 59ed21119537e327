package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/service"
	"github.com/cwrk-planet/command-relay/pkg/httputil"
	"github.com/cwrk-planet/command-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// запас на обёртку {"command": ...} поверх лимита самой команды
const envelopeOverhead = 1 << 10

// AuditReader отдаёт журнал жизненного цикла комнаты; nil: аудит выключен.
type AuditReader interface {
	History(ctx context.Context, roomCode string, limit int) ([]domain.AuditEvent, error)
}

type Handler struct {
	svc          *service.RelayService
	audit        AuditReader
	maxBodyBytes int64
}

func NewHandler(svc *service.RelayService, maxCommandBytes int) *Handler {
	if maxCommandBytes <= 0 {
		maxCommandBytes = service.DefaultMaxCommandBytes
	}
	return &Handler{
		svc:          svc,
		maxBodyBytes: int64(maxCommandBytes) + envelopeOverhead,
	}
}

// POST /host
func (h *Handler) Host(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.Host(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, HostResponse{RoomCode: code})
}

// POST /join/{room_code}
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "room_code")
	if err := h.svc.Join(r.Context(), code); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, JoinResponse{Status: "joined", RoomCode: code})
}

// POST /send/{room_code}
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "room_code")

	var req SendRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.FromContext(r.Context()).Debug("handler.Send.Decode", logger.Err(err))
		httputil.Error(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if err := h.svc.Send(r.Context(), code, req.Command); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// GET /receive/{room_code}
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.svc.Receive(r.Context(), chi.URLParam(r, "room_code"), service.TransportHTTP)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, ReceiveResponse{Commands: cmds})
}

// GET /rooms/{room_code}
func (h *Handler) RoomInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Info(r.Context(), chi.URLParam(r, "room_code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, RoomInfoResponse{
		RoomCode:       info.Code,
		CreatedAt:      info.CreatedAt,
		LastActivityAt: info.LastActivityAt,
		Pending:        info.Pending,
	})
}

// DELETE /rooms/{room_code}
func (h *Handler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "room_code")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats()
	httputil.JSON(w, http.StatusOK, StatsResponse{
		Rooms:        st.Rooms,
		CreatedTotal: st.Created,
		ExpiredTotal: st.Expired,
		ClosedTotal:  st.Closed,
	})
}

// WithAudit включает GET /audit/{room_code}.
func (h *Handler) WithAudit(a AuditReader) *Handler {
	h.audit = a
	return h
}

// GET /audit/{room_code}?limit=
func (h *Handler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	items, err := h.audit.History(r.Context(), chi.URLParam(r, "room_code"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := AuditHistoryResponse{Items: make([]AuditItem, 0, len(items))}
	for _, ev := range items {
		resp.Items = append(resp.Items, AuditItem{
			ID:      ev.ID,
			Kind:    ev.Kind,
			Pending: ev.Pending,
			At:      ev.At,
		})
	}
	httputil.JSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := httpErr(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("relay request failed", logger.Err(err))
	}
	httputil.Error(w, status, msg)
}

func httpErr(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound, "Room not found"
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest, "Invalid payload"
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests, "Queue full"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
