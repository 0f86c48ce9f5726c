package scanner

import (
	"fmt"
	"time"
)

// ValidationError reports a bad target or bad scan options. Permanent: the
// same input will always fail.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TimeoutError reports that the external tool exceeded its wall-clock budget
// and was terminated.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scan timed out after %s", e.Timeout)
}

// ExecutionError reports a nonzero exit from the external tool, carrying its
// captured output for operator diagnosis. Never surfaced to API callers.
type ExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("scan failed with exit code %d", e.ExitCode)
}

// ParseError reports malformed tool output. Snippet holds a bounded prefix of
// the offending input, never the full payload.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return e.Reason
}

// parseSnippetLimit bounds how much raw output a ParseError may carry.
const parseSnippetLimit = 500

func snippet(raw []byte) string {
	if len(raw) > parseSnippetLimit {
		return string(raw[:parseSnippetLimit])
	}
	return string(raw)
}
