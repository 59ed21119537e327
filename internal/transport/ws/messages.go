package ws

import "github.com/cwrk-planet/command-relay/internal/domain"

// Batch: одна выгрузка очереди, отправляется только если не пустая.
type Batch struct {
	Commands []domain.Command `json:"commands"`
}

// Inbound: команда, присланная участником прямо по сокету.
type Inbound struct {
	Command domain.Command `json:"command"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}
