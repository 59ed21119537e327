package domain

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrQueueFull          = errors.New("room queue is full")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
