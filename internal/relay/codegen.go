package relay

import (
	"fmt"
	"strings"

	"github.com/jaevor/go-nanoid"
)

const (
	CodeAlphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	DefaultCodeLength = 8
	MinCodeLength     = 4
	MaxCodeLength     = 32

	// maxCodeAttempts: сколько раз перегенерировать код при коллизии.
	maxCodeAttempts = 16
)

// NewCodeGenerator returns a generator of random room codes over CodeAlphabet.
func NewCodeGenerator(length int) (func() string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, fmt.Errorf("code length must be in [%d..%d], got %d", MinCodeLength, MaxCodeLength, length)
	}
	gen, err := nanoid.CustomASCII(CodeAlphabet, length)
	if err != nil {
		return nil, fmt.Errorf("nanoid.CustomASCII: %w", err)
	}
	return gen, nil
}

// IsValidCode reports whether s could have been produced by a code generator.
func IsValidCode(s string) bool {
	if len(s) < MinCodeLength || len(s) > MaxCodeLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return false
		}
	}
	return true
}
