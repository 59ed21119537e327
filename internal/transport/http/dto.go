package http

import (
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

type HostResponse struct {
	RoomCode string `json:"room_code"`
}

type JoinResponse struct {
	Status   string `json:"status"`
	RoomCode string `json:"room_code"`
}

type SendRequest struct {
	Command domain.Command `json:"command"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReceiveResponse struct {
	Commands []domain.Command `json:"commands"`
}

type RoomInfoResponse struct {
	RoomCode       string    `json:"room_code"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Pending        int       `json:"pending"`
}

type StatsResponse struct {
	Rooms        int   `json:"rooms"`
	CreatedTotal int64 `json:"created_total"`
	ExpiredTotal int64 `json:"expired_total"`
	ClosedTotal  int64 `json:"closed_total"`
}

type AuditItem struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Pending int       `json:"pending"`
	At      time.Time `json:"at"`
}

type AuditHistoryResponse struct {
	Items []AuditItem `json:"items"`
}
