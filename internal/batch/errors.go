package batch

import (
	"errors"
	"fmt"
)

// ErrorCode categorises batch configuration errors.
type ErrorCode string

// ErrCodeInvalidConfiguration marks a malformed cycling sequence.
const ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

// ConfigError reports a rejected configuration. Values are never clamped
// silently; the caller gets the offending position instead.
type ConfigError struct {
	Code     ErrorCode
	Message  string
	Position int // index into the sequence, -1 when not applicable
	Value    int
}

func (e *ConfigError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("%s: %s (position %d, value %d)", e.Code, e.Message, e.Position, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidConfiguration reports whether err is, or wraps, a ConfigError.
func IsInvalidConfiguration(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeInvalidConfiguration
	}
	return false
}

// ValidateSequence checks a cycling sequence: non-empty, every element in
// [0, MaxBatchSize].
func ValidateSequence(seq []int) error {
	if len(seq) == 0 {
		return &ConfigError{
			Code:     ErrCodeInvalidConfiguration,
			Message:  "cycling sequence must not be empty",
			Position: -1,
		}
	}
	for i, n := range seq {
		if n < 0 || n > MaxBatchSize {
			return &ConfigError{
				Code:     ErrCodeInvalidConfiguration,
				Message:  fmt.Sprintf("batch size must be between 0 and %d", MaxBatchSize),
				Position: i,
				Value:    n,
			}
		}
	}
	return nil
}
