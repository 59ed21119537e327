package domain

import (
	"bytes"
	"encoding/json"
)

// Command: непрозрачный JSON-документ; релей его не интерпретирует.
type Command json.RawMessage

// MarshalJSON keeps the payload byte-for-byte as it was sent.
func (c Command) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

func (c *Command) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// IsEmpty reports whether the command carries no value (absent or JSON null).
func (c Command) IsEmpty() bool {
	trimmed := bytes.TrimSpace(c)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
