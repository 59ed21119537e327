package grpcx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/service"
	"github.com/cwrk-planet/command-relay/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Handler struct {
	svc       *service.RelayService
	pollEvery time.Duration
}

func NewHandler(svc *service.RelayService) *Handler {
	return &Handler{svc: svc, pollEvery: 5 * time.Second}
}

func (h *Handler) Host(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	code, err := h.svc.Host(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(code), nil
}

func (h *Handler) Join(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.svc.Join(ctx, in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

// Send ждёт JSON {"room_code": "...", "command": <любое JSON-значение>}, как POST /send.
func (h *Handler) Send(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	req, err := decodeSend(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	if err := h.svc.Send(ctx, req.RoomCode, req.Command); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (h *Handler) Receive(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	cmds, err := h.svc.Receive(ctx, in.GetValue(), service.TransportGRPC)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(encodeBatch(cmds)), nil
}

func (h *Handler) Close(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.svc.Close(ctx, in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (h *Handler) Info(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	info, err := h.svc.Info(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"room_code":        info.Code,
		"created_at":       info.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_activity_at": info.LastActivityAt.UTC().Format(time.RFC3339Nano),
		"pending":          info.Pending,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Subscribe стримит непустые выгрузки очереди, пока комната жива и клиент на связи.
func (h *Handler) Subscribe(in *wrapperspb.StringValue, stream SubscribeStream) error {
	room, err := h.svc.Room(in.GetValue())
	if err != nil {
		return mapErr(err)
	}
	q := room.Queue()
	poll := time.NewTicker(h.pollEvery)
	defer poll.Stop()

	flush := func() error {
		// клиент уже ушёл: не вынимаем команды, которые некому отдать
		if err := stream.Context().Err(); err != nil {
			return err
		}
		cmds, err := room.DrainAll()
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			return nil
		}
		service.ObserveDrain(service.TransportGRPC, len(cmds))
		if err := stream.Send(wrapperspb.Bytes(encodeBatch(cmds))); err != nil {
			// команды уже изъяты из очереди: доставка at-most-once
			logger.FromContext(stream.Context()).Warn("grpc push failed",
				slog.String("room_code", in.GetValue()), slog.Int("lost", len(cmds)), logger.Err(err))
			return err
		}
		return nil
	}

	for {
		if err := flush(); err != nil {
			if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		select {
		case <-stream.Context().Done():
			return nil
		case <-q.Done():
			return nil
		case <-q.Notify():
		case <-poll.C:
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, "Room not found")
	case errors.Is(err, domain.ErrInvalidPayload):
		return status.Error(codes.InvalidArgument, "Invalid payload")
	case errors.Is(err, domain.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, "Queue full")
	case errors.Is(err, domain.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "Too many requests")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Server владеет grpc.Server и слушающим сокетом.
type Server struct {
	addr string
	gs   *grpc.Server
	ln   net.Listener
}

func NewServer(addr string, h RelayServer) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	Register(gs, h)
	return &Server{addr: addr, gs: gs}
}

// Run слушает addr и блокирует до завершения ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	s.ln = ln
	slog.Info("grpc listen", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.gs.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.stop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) stop() {
	done := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Error("grpc graceful stop timeout; forcing stop")
		s.gs.Stop()
	}
	slog.Info("grpc stopped")
}
