package capture

import (
	"context"
	"errors"
	"strings"
)

// ErrorCode classifies why a capture attempt failed.
type ErrorCode string

// Capture error codes recorded on failed items. TIMEOUT and
// BROWSER_LAUNCH_FAILED point at the environment and are worth retrying;
// LOGIN_WALL and POST_NOT_FOUND describe the page itself and are reported
// as-is.
const (
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeBrowserLaunchFailed ErrorCode = "BROWSER_LAUNCH_FAILED"
	CodeLoginWall           ErrorCode = "LOGIN_WALL"
	CodePostNotFound        ErrorCode = "POST_NOT_FOUND"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

// Error is a classified capture failure. DebugPath points at a full-page
// debug screenshot when one could be saved during failure handling.
type Error struct {
	Code      ErrorCode
	Message   string
	DebugPath string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds a classified capture error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Substrings that identify a browser process that could not start or died
// underneath us. Matched case-insensitively against the error text.
var launchFailureMarkers = []string{
	"executable file not found",
	"failed to launch",
	"failed to start",
	"no-sandbox",
	"missing dependencies",
	"browser has been closed",
	"chrome failed",
	"websocket url timeout",
}

// Classify maps an arbitrary failure onto the capture error taxonomy. An
// error already carrying a classification passes through unchanged.
func Classify(err error) *Error {
	var captureErr *Error
	if errors.As(err, &captureErr) {
		return captureErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, "timed out while loading page")
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	// Launch markers win over the generic timeout substring: chromedp reports
	// a browser that never came up as a websocket url timeout.
	for _, marker := range launchFailureMarkers {
		if strings.Contains(lower, marker) {
			return NewError(CodeBrowserLaunchFailed, msg)
		}
	}
	if strings.Contains(lower, "context deadline exceeded") || strings.Contains(lower, "timeout") {
		return NewError(CodeTimeout, "timed out while loading page")
	}
	return NewError(CodeUnknown, msg)
}
