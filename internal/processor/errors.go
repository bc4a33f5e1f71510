package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProcessorError classifies item side-effect failures as transient/permanent.
type ProcessorError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProcessorError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "processor error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProcessorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure was environmental rather than a
// rejection of the item itself. The executor records it either way, but the
// failure-reason metric label distinguishes the two.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var procErr *ProcessorError
	if errors.As(err, &procErr) {
		return procErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
