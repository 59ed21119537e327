package relay

import (
	"sync"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

// Queue is the FIFO command buffer of a single room. Append and DrainAll are
// mutually exclusive, so a command is seen by exactly one drain.
type Queue struct {
	mu    sync.Mutex
	items []domain.Command

	maxLen int
	policy domain.OverflowPolicy

	closed       bool
	lastActivity time.Time
	now          func() time.Time

	// notify is poked (non-blocking) on every append; done is closed on removal.
	notify chan struct{}
	done   chan struct{}
}

func newQueue(maxLen int, policy domain.OverflowPolicy, now func() time.Time) *Queue {
	if policy == "" {
		policy = domain.OverflowReject
	}
	return &Queue{
		maxLen:       maxLen,
		policy:       policy,
		now:          now,
		lastActivity: now(),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Append adds cmd to the tail. It returns the number of commands discarded by the
// drop_oldest policy (0 or 1).
func (q *Queue) Append(cmd domain.Command) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, domain.ErrRoomNotFound
	}

	dropped := 0
	if q.maxLen > 0 && len(q.items) >= q.maxLen {
		if q.policy != domain.OverflowDropOldest {
			return 0, domain.ErrQueueFull
		}
		q.items[0] = nil
		q.items = q.items[1:]
		dropped = 1
	}

	q.items = append(q.items, cmd)
	q.lastActivity = q.now()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return dropped, nil
}

// DrainAll removes and returns every queued command in append order. An empty
// queue yields an empty, non-nil slice.
func (q *Queue) DrainAll() ([]domain.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, domain.ErrRoomNotFound
	}
	q.lastActivity = q.now()

	out := q.items
	q.items = nil
	if out == nil {
		out = []domain.Command{}
	}
	return out, nil
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify fires at least once after each append.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Done is closed once the owning room has been removed.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) touch() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrRoomNotFound
	}
	q.lastActivity = q.now()
	return nil
}

func (q *Queue) activity() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastActivity, q.closed
}

// closeIfIdle closes the queue when its last activity is not after cutoff. The
// check and the close happen under one lock, so a concurrent Append either
// refreshes the activity first or observes the closed queue.
func (q *Queue) closeIfIdle(cutoff time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.lastActivity.After(cutoff) {
		return false
	}
	q.closeLocked()
	return true
}

func (q *Queue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closeLocked()
	return true
}

func (q *Queue) closeLocked() {
	q.closed = true
	q.items = nil
	close(q.done)
}
