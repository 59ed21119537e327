package domain

import "time"

// RoomInfo is a point-in-time snapshot of a live room.
type RoomInfo struct {
	Code           string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Pending        int
}

type RemoveReason string

const (
	RemoveReasonClosed  RemoveReason = "closed"
	RemoveReasonExpired RemoveReason = "expired"
)

type OverflowPolicy string

const (
	OverflowReject     OverflowPolicy = "reject"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

type AuditEvent struct {
	ID       string
	RoomCode string
	Kind     string // created|closed|expired
	Pending  int
	At       time.Time
}
