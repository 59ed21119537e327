package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (m *memSink) Record(_ context.Context, ev domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T, cfg Config, opts ...relay.Option) *RelayService {
	t.Helper()
	s, err := NewRelayService(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestRelayService_HostSendReceive(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})

	code, err := s.Host(ctx)
	require.NoError(t, err)
	require.True(t, relay.IsValidCode(code))

	require.NoError(t, s.Join(ctx, code))
	require.NoError(t, s.Send(ctx, code, domain.Command(`"move_left"`)))
	require.NoError(t, s.Send(ctx, code, domain.Command(`{"action":"jump","power":3}`)))

	cmds, err := s.Receive(ctx, code, TransportHTTP)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, `"move_left"`, string(cmds[0]))
	assert.Equal(t, `{"action":"jump","power":3}`, string(cmds[1]))

	cmds, err = s.Receive(ctx, code, TransportHTTP)
	require.NoError(t, err)
	assert.NotNil(t, cmds)
	assert.Empty(t, cmds)
}

func TestRelayService_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})

	for _, code := range []string{"zz99", "", "UPPER", "bad code", strings.Repeat("a", 64)} {
		assert.ErrorIs(t, s.Join(ctx, code), domain.ErrRoomNotFound, code)
		assert.ErrorIs(t, s.Send(ctx, code, domain.Command(`1`)), domain.ErrRoomNotFound, code)
		_, err := s.Receive(ctx, code, TransportHTTP)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound, code)
		assert.ErrorIs(t, s.Close(ctx, code), domain.ErrRoomNotFound, code)
		_, err = s.Info(ctx, code)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound, code)
	}
}

func TestRelayService_SendValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{MaxCommandBytes: 16})
	code, err := s.Host(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		cmd     domain.Command
		wantErr error
	}{
		{name: "string", cmd: domain.Command(`"ok"`)},
		{name: "number", cmd: domain.Command(`42`)},
		{name: "empty", cmd: nil, wantErr: domain.ErrInvalidPayload},
		{name: "null", cmd: domain.Command(`null`), wantErr: domain.ErrInvalidPayload},
		{name: "not json", cmd: domain.Command(`{oops`), wantErr: domain.ErrInvalidPayload},
		{name: "too large", cmd: domain.Command(`"` + strings.Repeat("x", 32) + `"`), wantErr: domain.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Send(ctx, code, tt.cmd)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	cmds, err := s.Receive(ctx, code, TransportHTTP)
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
}

func TestRelayService_QueueFull(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{}, relay.WithQueueLimit(1, domain.OverflowReject))
	code, err := s.Host(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Send(ctx, code, domain.Command(`1`)))
	assert.ErrorIs(t, s.Send(ctx, code, domain.Command(`2`)), domain.ErrQueueFull)
}

func TestRelayService_InfoDoesNotTouch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	s := newTestService(t, Config{}, relay.WithClock(clock), relay.WithIdleTimeout(time.Minute))
	code, err := s.Host(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, code, domain.Command(`"a"`)))

	advance(40 * time.Second)
	info, err := s.Info(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, info.Code)
	assert.Equal(t, 1, info.Pending)
	assert.True(t, info.LastActivityAt.Before(clock()))

	advance(30 * time.Second)
	_, err = s.Info(ctx, code)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.EqualValues(t, 1, s.Stats().Expired)
}

func TestRelayService_CloseAndAudit(t *testing.T) {
	sink := &memSink{}
	s := newTestService(t, Config{Audit: sink})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, time.Hour)
		close(done)
	}()

	code, err := s.Host(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, code, domain.Command(`"bye"`)))
	require.NoError(t, s.Close(ctx, code))
	assert.ErrorIs(t, s.Close(ctx, code), domain.ErrRoomNotFound)
	assert.ErrorIs(t, s.Send(ctx, code, domain.Command(`1`)), domain.ErrRoomNotFound)

	require.Eventually(t, func() bool {
		return len(sink.kinds()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"created", "closed"}, sink.kinds())

	sink.mu.Lock()
	closed := sink.events[1]
	sink.mu.Unlock()
	assert.Equal(t, code, closed.RoomCode)
	assert.Equal(t, 1, closed.Pending)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRelayService_AuditFailureDoesNotBreakRelay(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	s := newTestService(t, Config{Audit: sink})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, time.Hour) }()

	code, err := s.Host(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, code, domain.Command(`true`)))
	cmds, err := s.Receive(ctx, code, TransportGRPC)
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}

func TestRelayService_IdleRoomRejectsSendAndReceive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := newTestService(t, Config{}, relay.WithClock(clock), relay.WithIdleTimeout(time.Minute))
	sendCode, err := s.Host(ctx)
	require.NoError(t, err)
	recvCode, err := s.Host(ctx)
	require.NoError(t, err)
	joinCode, err := s.Host(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, recvCode, domain.Command(`"stale"`)))

	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()

	assert.ErrorIs(t, s.Send(ctx, sendCode, domain.Command(`1`)), domain.ErrRoomNotFound)
	_, err = s.Receive(ctx, recvCode, TransportHTTP)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, s.Join(ctx, joinCode), domain.ErrRoomNotFound)
	assert.EqualValues(t, 3, s.Stats().Expired)
}
