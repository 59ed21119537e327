package grpcx

import (
	"encoding/json"
	"fmt"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

// sendRequest: тело Send, совпадает с телом POST /send.
type sendRequest struct {
	RoomCode string         `json:"room_code"`
	Command  domain.Command `json:"command"`
}

// encodeSend собирает тело Send руками: json.Marshal переписал бы байты команды.
func encodeSend(code string, cmd domain.Command) []byte {
	quoted, _ := json.Marshal(code)
	buf := make([]byte, 0, len(quoted)+len(cmd)+28)
	buf = append(buf, `{"room_code":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"command":`...)
	buf = append(buf, cmd...)
	return append(buf, '}')
}

func decodeSend(b []byte) (sendRequest, error) {
	var req sendRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return sendRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return req, nil
}

// encodeBatch склеивает команды в JSON-массив, не трогая их байты.
func encodeBatch(cmds []domain.Command) []byte {
	n := 2
	for _, c := range cmds {
		n += len(c) + 1
	}
	buf := make([]byte, 0, n)
	buf = append(buf, '[')
	for i, c := range cmds {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c...)
	}
	return append(buf, ']')
}

func decodeBatch(b []byte) ([]domain.Command, error) {
	out := make([]domain.Command, 0)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return out, nil
}
