package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistry_Scenario(t *testing.T) {
	r := newTestRegistry(t, WithCodeGenerator(func() string { return "a1b2" }))

	code, err := r.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if code != "a1b2" {
		t.Fatalf("expected a1b2, got %q", code)
	}

	room, err := r.GetRoom(code)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	_, _ = room.Append(domain.Command(`"move_left"`))
	_, _ = room.Append(domain.Command(`"jump"`))

	got, err := room.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if len(got) != 2 || string(got[0]) != `"move_left"` || string(got[1]) != `"jump"` {
		t.Fatalf("unexpected drain: %s", got)
	}
	if got, _ := room.DrainAll(); len(got) != 0 {
		t.Fatalf("expected empty second drain, got %s", got)
	}

	if _, err := r.GetRoom("zz99"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_CollisionRetries(t *testing.T) {
	codes := []string{"aaaa", "aaaa", "aaaa", "bbbb"}
	i := 0
	r := newTestRegistry(t, WithCodeGenerator(func() string {
		c := codes[i]
		i++
		return c
	}))

	first, err := r.CreateRoom()
	if err != nil || first != "aaaa" {
		t.Fatalf("first room: code=%q err=%v", first, err)
	}
	second, err := r.CreateRoom()
	if err != nil {
		t.Fatalf("second room: %v", err)
	}
	if second != "bbbb" {
		t.Fatalf("expected collision to be retried into bbbb, got %q", second)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 rooms, got %d", r.Len())
	}
}

func TestRegistry_CodeSpaceExhausted(t *testing.T) {
	r := newTestRegistry(t, WithCodeGenerator(func() string { return "same" }))
	if _, err := r.CreateRoom(); err != nil {
		t.Fatalf("first CreateRoom: %v", err)
	}
	if _, err := r.CreateRoom(); !errors.Is(err, domain.ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
}

func TestRegistry_ConcurrentCreateUnique(t *testing.T) {
	r := newTestRegistry(t)

	const n = 2000
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := r.CreateRoom()
			if err != nil {
				t.Errorf("CreateRoom: %v", err)
				return
			}
			mu.Lock()
			codes[code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(codes) != n {
		t.Fatalf("expected %d distinct codes, got %d", n, len(codes))
	}
	if r.Len() != n {
		t.Fatalf("expected %d rooms, got %d", n, r.Len())
	}
}

func TestRegistry_Isolation(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.CreateRoom()
	b, _ := r.CreateRoom()

	ra, _ := r.GetRoom(a)
	rb, _ := r.GetRoom(b)
	_, _ = ra.Append(domain.Command(`"for-a"`))

	got, _ := rb.DrainAll()
	if len(got) != 0 {
		t.Fatalf("room b saw commands of room a: %s", got)
	}
	got, _ = ra.DrainAll()
	if len(got) != 1 {
		t.Fatalf("room a lost its command")
	}
}

func TestRegistry_JoinAndExists(t *testing.T) {
	r := newTestRegistry(t)
	code, _ := r.CreateRoom()

	if !r.RoomExists(code) {
		t.Fatal("room should exist")
	}
	if err := r.JoinRoom(code); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if r.RoomExists("nope") {
		t.Fatal("unknown room should not exist")
	}
	if err := r.JoinRoom("nope"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_RemoveRoom(t *testing.T) {
	var (
		gotInfo   domain.RoomInfo
		gotReason domain.RemoveReason
	)
	r := newTestRegistry(t, WithRemoveHook(func(info domain.RoomInfo, reason domain.RemoveReason) {
		gotInfo, gotReason = info, reason
	}))
	code, _ := r.CreateRoom()
	room, _ := r.GetRoom(code)
	_, _ = room.Append(domain.Command(`1`))

	if err := r.RemoveRoom(code); err != nil {
		t.Fatalf("RemoveRoom: %v", err)
	}
	if gotReason != domain.RemoveReasonClosed || gotInfo.Code != code || gotInfo.Pending != 1 {
		t.Fatalf("unexpected hook call: %+v %q", gotInfo, gotReason)
	}

	// старый хэндл больше не принимает команды
	if _, err := room.Append(domain.Command(`2`)); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("stale handle append: expected ErrRoomNotFound, got %v", err)
	}
	if err := r.RemoveRoom(code); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("second remove: expected ErrRoomNotFound, got %v", err)
	}
	for _, op := range []func() error{
		func() error { return r.JoinRoom(code) },
		func() error { _, err := r.GetRoom(code); return err },
	} {
		if err := op(); !errors.Is(err, domain.ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound after remove, got %v", err)
		}
	}
	if st := r.Stats(); st.Closed != 1 || st.Rooms != 0 || st.Created != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRegistry_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	var reasons []domain.RemoveReason
	r := newTestRegistry(t,
		WithClock(clock.Now),
		WithIdleTimeout(time.Minute),
		WithRemoveHook(func(_ domain.RoomInfo, reason domain.RemoveReason) {
			reasons = append(reasons, reason)
		}),
	)
	code, _ := r.CreateRoom()

	clock.Advance(59 * time.Second)
	if err := r.JoinRoom(code); err != nil {
		t.Fatalf("join before timeout: %v", err)
	}

	// join обновил активность: ещё минута жизни
	clock.Advance(59 * time.Second)
	if !r.RoomExists(code) {
		t.Fatal("room should still be alive after join refresh")
	}

	clock.Advance(2 * time.Second)
	if r.RoomExists(code) {
		t.Fatal("idle room must not be reported as existing")
	}
	if _, err := r.GetRoom(code); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expired room should be detached, len=%d", r.Len())
	}
	if len(reasons) != 1 || reasons[0] != domain.RemoveReasonExpired {
		t.Fatalf("unexpected hook reasons: %v", reasons)
	}
}

func TestRegistry_SweepOnlyIdleRooms(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, WithClock(clock.Now), WithIdleTimeout(time.Minute))

	idle, _ := r.CreateRoom()
	busy, _ := r.CreateRoom()

	clock.Advance(45 * time.Second)
	room, _ := r.GetRoom(busy)
	_, _ = room.Append(domain.Command(`"ping"`))

	clock.Advance(30 * time.Second)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept room, got %d", n)
	}
	if r.RoomExists(idle) {
		t.Fatal("idle room survived sweep")
	}
	if !r.RoomExists(busy) {
		t.Fatal("busy room was swept")
	}
	if st := r.Stats(); st.Expired != 1 {
		t.Fatalf("expected 1 expired, got %+v", st)
	}
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r := newTestRegistry(t, WithIdleTimeout(time.Millisecond))
	code, _ := r.CreateRoom()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("room %s was never swept", code)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
