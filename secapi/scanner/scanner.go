// Package scanner wraps external vulnerability scanning tools behind one
// capability interface: validate a target, run the tool, parse its output
// into the unified Result schema.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scanner is the capability interface implemented per scan kind.
type Scanner interface {
	// Kind returns the scan-kind tag ("trivy").
	Kind() string
	// Validate checks a target string and returns its canonical form.
	Validate(target string) (string, error)
	// Run invokes the external tool and returns its raw stdout bytes.
	Run(ctx context.Context, target string, opts Options) ([]byte, error)
	// Parse converts raw tool output into the unified Result.
	Parse(raw []byte, duration time.Duration, target string) (*Result, error)
}

// Options carries caller-selected scan parameters.
type Options struct {
	// Severity restricts reported findings to these levels. Empty means all.
	Severity []string `json:"severity,omitempty"`
	// Modes selects the tool's scan modes ("vuln", "config", ...).
	Modes []string `json:"modes,omitempty"`
}

var validModes = map[string]bool{
	"vuln":    true,
	"config":  true,
	"secret":  true,
	"license": true,
}

// ValidateOptions normalizes and checks severity/mode values. Severity levels
// are upper-cased, modes lower-cased; unknown values are rejected.
func ValidateOptions(opts Options) (Options, error) {
	out := Options{}
	for _, s := range opts.Severity {
		u := strings.ToUpper(strings.TrimSpace(s))
		switch u {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
			out.Severity = append(out.Severity, u)
		default:
			return Options{}, &ValidationError{Reason: fmt.Sprintf("invalid severity level: %s", s)}
		}
	}
	for _, m := range opts.Modes {
		l := strings.ToLower(strings.TrimSpace(m))
		if !validModes[l] {
			return Options{}, &ValidationError{Reason: fmt.Sprintf("invalid scan mode: %s", m)}
		}
		out.Modes = append(out.Modes, l)
	}
	return out, nil
}

// New constructs a fresh scanner for the given kind. Each job gets its own
// instance so per-run state (like the detected tool version) never leaks
// between jobs.
func New(kind string, timeout time.Duration) (Scanner, error) {
	switch kind {
	case "trivy":
		return NewTrivy(timeout), nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown scan kind: %s", kind)}
	}
}

// NormalizeSeverity maps a tool's severity token onto the five normalized
// buckets. Unrecognized or absent tokens map to INFO. Total and deterministic.
func NormalizeSeverity(severity string) string {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	case "INFO":
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
