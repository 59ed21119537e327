package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/metrics"
	"github.com/cwrk-planet/command-relay/internal/relay"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
	TransportWS   = "ws"

	DefaultMaxCommandBytes = 64 << 10

	auditBuffer  = 256
	auditTimeout = 3 * time.Second
)

// AuditSink persists room lifecycle events. Implemented by postgres.AuditRepository.
type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type Config struct {
	MaxCommandBytes int
	Audit           AuditSink
}

type RelayService struct {
	reg             *relay.Registry
	maxCommandBytes int

	audit   AuditSink
	auditCh chan domain.AuditEvent
}

// NewRelayService owns the registry; opts configure code generation, expiry and queue limits.
func NewRelayService(cfg Config, opts ...relay.Option) (*RelayService, error) {
	if cfg.MaxCommandBytes <= 0 {
		cfg.MaxCommandBytes = DefaultMaxCommandBytes
	}
	s := &RelayService{
		maxCommandBytes: cfg.MaxCommandBytes,
		audit:           cfg.Audit,
	}
	if s.audit != nil {
		s.auditCh = make(chan domain.AuditEvent, auditBuffer)
	}

	reg, err := relay.NewRegistry(append(opts, relay.WithRemoveHook(s.onRemove))...)
	if err != nil {
		return nil, fmt.Errorf("relay.NewRegistry: %w", err)
	}
	s.reg = reg
	return s, nil
}

// Host создаёт пустую комнату и возвращает её код.
func (s *RelayService) Host(ctx context.Context) (string, error) {
	code, err := s.reg.CreateRoom()
	if err != nil {
		return "", fmt.Errorf("registry.CreateRoom: %w", err)
	}
	metrics.RoomsCreated.Inc()
	metrics.RoomsActive.Inc()
	slog.DebugContext(ctx, "room created", slog.String("room_code", code))
	s.enqueueAudit(domain.AuditEvent{RoomCode: code, Kind: "created"})
	return code, nil
}

// Join только проверяет существование комнаты и продлевает её жизнь.
func (s *RelayService) Join(ctx context.Context, code string) error {
	if !relay.IsValidCode(code) {
		return domain.ErrRoomNotFound
	}
	return s.reg.JoinRoom(code)
}

// Send кладёт команду в хвост очереди комнаты.
func (s *RelayService) Send(ctx context.Context, code string, cmd domain.Command) error {
	if cmd.IsEmpty() {
		metrics.CommandsRejected.WithLabelValues("invalid").Inc()
		return domain.ErrInvalidPayload
	}
	if len(cmd) > s.maxCommandBytes {
		metrics.CommandsRejected.WithLabelValues("too_large").Inc()
		return fmt.Errorf("%w: command is %d bytes, limit %d", domain.ErrInvalidPayload, len(cmd), s.maxCommandBytes)
	}
	if !json.Valid(cmd) {
		metrics.CommandsRejected.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: command is not a JSON value", domain.ErrInvalidPayload)
	}

	room, err := s.room(code)
	if err != nil {
		return err
	}
	dropped, err := room.Append(cmd)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			metrics.CommandsRejected.WithLabelValues("queue_full").Inc()
			slog.WarnContext(ctx, "queue full", slog.String("room_code", code))
		}
		return err
	}
	metrics.CommandsSent.Inc()
	if dropped > 0 {
		metrics.CommandsDropped.Add(float64(dropped))
	}
	return nil
}

// Receive забирает все накопленные команды; пустая очередь даёт пустой срез.
func (s *RelayService) Receive(ctx context.Context, code, transport string) ([]domain.Command, error) {
	room, err := s.room(code)
	if err != nil {
		return nil, err
	}
	cmds, err := room.DrainAll()
	if err != nil {
		return nil, err
	}
	ObserveDrain(transport, len(cmds))
	return cmds, nil
}

// Close removes the room and discards whatever is still queued.
func (s *RelayService) Close(ctx context.Context, code string) error {
	if !relay.IsValidCode(code) {
		return domain.ErrRoomNotFound
	}
	return s.reg.RemoveRoom(code)
}

// Info returns a snapshot of the room without refreshing its activity.
func (s *RelayService) Info(ctx context.Context, code string) (domain.RoomInfo, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.RoomInfo{}, err
	}
	return room.Info(), nil
}

func (s *RelayService) Stats() relay.Stats { return s.reg.Stats() }

// Room gives push transports direct access to the room handle.
func (s *RelayService) Room(code string) (*relay.Room, error) { return s.room(code) }

// Run sweeps idle rooms and flushes audit events until ctx is done.
func (s *RelayService) Run(ctx context.Context, sweepInterval time.Duration) error {
	var wg sync.WaitGroup
	if s.auditCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.auditLoop(ctx)
		}()
	}
	s.reg.Run(ctx, sweepInterval)
	wg.Wait()
	return nil
}

// ObserveDrain records a drain result for the given transport.
func ObserveDrain(transport string, n int) {
	if n == 0 {
		return
	}
	metrics.CommandsDelivered.WithLabelValues(transport).Add(float64(n))
	metrics.DrainBatchSize.Observe(float64(n))
}

func (s *RelayService) room(code string) (*relay.Room, error) {
	if !relay.IsValidCode(code) {
		return nil, domain.ErrRoomNotFound
	}
	return s.reg.GetRoom(code)
}

func (s *RelayService) onRemove(info domain.RoomInfo, reason domain.RemoveReason) {
	metrics.RoomsActive.Dec()
	metrics.RoomsRemoved.WithLabelValues(string(reason)).Inc()
	slog.Info("room removed",
		slog.String("room_code", info.Code),
		slog.String("reason", string(reason)),
		slog.Int("pending", info.Pending),
		slog.Duration("age", time.Since(info.CreatedAt)),
	)
	s.enqueueAudit(domain.AuditEvent{RoomCode: info.Code, Kind: string(reason), Pending: info.Pending})
}

// enqueueAudit never blocks a relay operation; a full buffer loses the event.
func (s *RelayService) enqueueAudit(ev domain.AuditEvent) {
	if s.auditCh == nil {
		return
	}
	ev.At = time.Now()
	select {
	case s.auditCh <- ev:
	default:
		metrics.AuditFailures.Inc()
		slog.Warn("audit buffer full, event dropped", slog.String("room_code", ev.RoomCode), slog.String("kind", ev.Kind))
	}
}

// auditLoop пишет события по одному; при остановке дописывает то, что уже в буфере.
func (s *RelayService) auditLoop(ctx context.Context) {
	for {
		select {
		case ev := <-s.auditCh:
			s.writeAudit(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.auditCh:
					s.writeAudit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (s *RelayService) writeAudit(ctx context.Context, ev domain.AuditEvent) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.audit.Record(wctx, ev); err != nil {
		metrics.AuditFailures.Inc()
		slog.Error("audit.Record", slog.Any("err", err), slog.String("room_code", ev.RoomCode))
	}
}
