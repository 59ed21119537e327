package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/relay"
	"github.com/cwrk-planet/command-relay/internal/service"
	"github.com/cwrk-planet/command-relay/pkg/httputil"
	"github.com/cwrk-planet/command-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type RelaySvc interface {
	Room(code string) (*relay.Room, error)
	Send(ctx context.Context, code string, cmd domain.Command) error
}

type Config struct {
	PingEvery    time.Duration // 15s
	PollEvery    time.Duration // 5s, страховка на случай пропущенного notify
	WriteTimeout time.Duration // 5s
	ReadLimit    int64         // 1 MiB
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	svc      RelaySvc
	cfg      Config
}

func NewServer(hub *Hub, svc RelaySvc, cfg Config) *Server {
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 15 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &Server{
		hub: hub,
		svc: svc,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS: GET /ws/rooms/{room_code}
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "room_code")
	room, err := s.svc.Room(code)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "Room not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		logger.FromContext(r.Context()).Warn("ws upgrade failed", logger.Err(err))
		return
	}

	c := newWsConn(conn, code, s.cfg.WriteTimeout)
	s.hub.Add(c)
	defer s.hub.Remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pushLoop(ctx, c, room)
	s.readLoop(ctx, c)

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", slog.String("room_code", code), logger.Err(err))
	}
}

// readLoop держит дедлайн чтения по pong и принимает команды от участников.
func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.Send(ErrorMessage{Error: "Invalid payload"})
			continue
		}
		if err := s.svc.Send(ctx, c.code, in.Command); err != nil {
			_ = c.Send(ErrorMessage{Error: errorText(err)})
			if errors.Is(err, domain.ErrRoomNotFound) {
				return
			}
		}
	}
}

// pushLoop выгружает очередь по сигналу append или по таймеру и шлёт непустые пачки.
func (s *Server) pushLoop(ctx context.Context, c *wsConn, room *relay.Room) {
	ping := time.NewTicker(s.cfg.PingEvery)
	defer ping.Stop()
	poll := time.NewTicker(s.cfg.PollEvery)
	defer poll.Stop()

	q := room.Queue()
	if !s.flush(c, room) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-q.Done():
			c.closeWith(websocket.CloseGoingAway, "room closed")
			return
		case <-q.Notify():
			if !s.flush(c, room) {
				return
			}
		case <-poll.C:
			if !s.flush(c, room) {
				return
			}
		case <-ping.C:
			if err := c.ping(); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// flush returns false once the connection should stop.
func (s *Server) flush(c *wsConn, room *relay.Room) bool {
	// соединение уже закрыто: команды остаются в очереди для следующего получателя
	select {
	case <-c.closed:
		return false
	default:
	}
	cmds, err := room.DrainAll()
	if err != nil {
		c.closeWith(websocket.CloseGoingAway, "room closed")
		return false
	}
	if len(cmds) == 0 {
		return true
	}
	service.ObserveDrain(service.TransportWS, len(cmds))
	if err := c.Send(Batch{Commands: cmds}); err != nil {
		// команды уже изъяты из очереди: доставка at-most-once
		slog.Warn("ws push failed", slog.String("room_code", c.code), slog.Int("lost", len(cmds)), logger.Err(err))
		_ = c.Close()
		return false
	}
	return true
}

func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "Invalid payload"
	case errors.Is(err, domain.ErrQueueFull):
		return "Queue full"
	default:
		return "Internal error"
	}
}
