package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

var errCodeCollision = errors.New("room code already in use")

// RemoveHook is called after a room left the registry, outside of any lock.
type RemoveHook func(info domain.RoomInfo, reason domain.RemoveReason)

type Option func(*Registry)

func WithCodeGenerator(gen func() string) Option {
	return func(r *Registry) { r.gen = gen }
}

// WithIdleTimeout sets the inactivity period after which a room expires. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithQueueLimit caps every room queue at max commands (0 = unbounded).
func WithQueueLimit(max int, policy domain.OverflowPolicy) Option {
	return func(r *Registry) {
		r.maxQueueLen = max
		r.policy = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithRemoveHook(h RemoveHook) Option {
	return func(r *Registry) { r.onRemove = h }
}

// Registry is the single owner of all live rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	gen         func() string
	idleTimeout time.Duration
	maxQueueLen int
	policy      domain.OverflowPolicy
	now         func() time.Time
	onRemove    RemoveHook

	created atomic.Int64
	expired atomic.Int64
	closed  atomic.Int64
}

func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		rooms:  make(map[string]*Room),
		now:    time.Now,
		policy: domain.OverflowReject,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gen == nil {
		gen, err := NewCodeGenerator(DefaultCodeLength)
		if err != nil {
			return nil, err
		}
		r.gen = gen
	}
	return r, nil
}

// CreateRoom registers an empty room under a fresh code. Collisions with live
// rooms are retried, never overwritten.
func (r *Registry) CreateRoom() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := r.gen()
		if err := r.insert(code); err != nil {
			if errors.Is(err, errCodeCollision) {
				continue
			}
			return "", err
		}
		r.created.Add(1)
		return code, nil
	}
	return "", domain.ErrCodeSpaceExhausted
}

func (r *Registry) insert(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[code]; ok {
		return errCodeCollision
	}
	now := r.now()
	r.rooms[code] = &Room{
		code:      code,
		createdAt: now,
		queue:     newQueue(r.maxQueueLen, r.policy, r.now),
	}
	return nil
}

// RoomExists is a pure lookup; an idle-expired room that was not swept yet counts as absent.
func (r *Registry) RoomExists(code string) bool {
	r.mu.RLock()
	room, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	last, closed := room.queue.activity()
	return !closed && !r.isIdle(last)
}

// JoinRoom confirms that the room exists and refreshes its activity.
func (r *Registry) JoinRoom(code string) error {
	room, err := r.GetRoom(code)
	if err != nil {
		return err
	}
	return room.queue.touch()
}

// GetRoom returns the live room for code. Idle rooms are expired lazily here.
func (r *Registry) GetRoom(code string) (*Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	if r.idleTimeout > 0 && room.queue.closeIfIdle(r.now().Add(-r.idleTimeout)) {
		r.detach(room, domain.RemoveReasonExpired)
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// RemoveRoom deletes the room and discards its pending commands.
func (r *Registry) RemoveRoom(code string) error {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
	if !ok {
		return domain.ErrRoomNotFound
	}

	info := room.Info()
	if !room.queue.close() {
		// уже закрыта по таймауту; hook вызовет detach
		return domain.ErrRoomNotFound
	}
	r.closed.Add(1)
	if r.onRemove != nil {
		r.onRemove(info, domain.RemoveReasonClosed)
	}
	return nil
}

// Sweep removes every room idle for longer than the idle timeout and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.RLock()
	candidates := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		candidates = append(candidates, room)
	}
	r.mu.RUnlock()

	removed := 0
	for _, room := range candidates {
		if room.queue.closeIfIdle(cutoff) {
			r.detach(room, domain.RemoveReasonExpired)
			removed++
		}
	}
	return removed
}

// Run sweeps idle rooms every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTimeout <= 0 || interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of rooms currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

type Stats struct {
	Rooms   int
	Created int64
	Expired int64
	Closed  int64
}

func (r *Registry) Stats() Stats {
	return Stats{
		Rooms:   r.Len(),
		Created: r.created.Load(),
		Expired: r.expired.Load(),
		Closed:  r.closed.Load(),
	}
}

// detach drops a closed room from the map if it is still registered under its code.
func (r *Registry) detach(room *Room, reason domain.RemoveReason) {
	r.mu.Lock()
	if cur, ok := r.rooms[room.code]; ok && cur == room {
		delete(r.rooms, room.code)
	}
	r.mu.Unlock()

	if reason == domain.RemoveReasonExpired {
		r.expired.Add(1)
	} else {
		r.closed.Add(1)
	}
	if r.onRemove != nil {
		r.onRemove(room.Info(), reason)
	}
}

func (r *Registry) isIdle(last time.Time) bool {
	return r.idleTimeout > 0 && !last.After(r.now().Add(-r.idleTimeout))
}
