package relay

import (
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

// Room is the handle the registry hands out to Send/Receive. The code and
// creation time never change; all mutable state lives in the queue.
type Room struct {
	code      string
	createdAt time.Time
	queue     *Queue
}

func (r *Room) Code() string         { return r.code }
func (r *Room) CreatedAt() time.Time { return r.createdAt }
func (r *Room) Queue() *Queue        { return r.queue }

func (r *Room) Append(cmd domain.Command) (int, error) { return r.queue.Append(cmd) }

func (r *Room) DrainAll() ([]domain.Command, error) { return r.queue.DrainAll() }

// Info returns a snapshot; it does not count as activity.
func (r *Room) Info() domain.RoomInfo {
	last, _ := r.queue.activity()
	return domain.RoomInfo{
		Code:           r.code,
		CreatedAt:      r.createdAt,
		LastActivityAt: last,
		Pending:        r.queue.Len(),
	}
}
