package config

import (
	"errors"
	"fmt"
)

const (
	CodeUnsupportedFormat = "unsupported_format"
	CodeInvalidRoot       = "invalid_root"
	CodeInvalidValue      = "invalid_value"
)

// Error is a configuration error. It is fatal and reported before any run
// starts.
type Error struct {
	Code  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("config %s (%s): %v", e.Code, e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a configuration error.
func IsConfigError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
