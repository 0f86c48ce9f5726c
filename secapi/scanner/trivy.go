package scanner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	// trivyFallbackVersion is reported when the tool version cannot be
	// detected from its stderr banner.
	trivyFallbackVersion = "0.55.0"

	trivyBinary = "trivy"
)

var trivyVersionRe = regexp.MustCompile(`version:\s*(\d+\.\d+\.\d+)`)

// Trivy runs the trivy CLI against container images and parses its JSON
// report into the unified Result schema.
type Trivy struct {
	timeout           time.Duration
	allowedRegistries []string
	detectedVersion   string
}

// NewTrivy creates a Trivy scanner with the given hard wall-clock timeout.
func NewTrivy(timeout time.Duration) *Trivy {
	return &Trivy{timeout: timeout}
}

// WithAllowedRegistries overrides the default registry allow-list.
func (t *Trivy) WithAllowedRegistries(allowed []string) *Trivy {
	t.allowedRegistries = allowed
	return t
}

// Kind implements Scanner.
func (t *Trivy) Kind() string {
	return "trivy"
}

// Validate implements Scanner by checking the image reference grammar and
// registry allow-list.
func (t *Trivy) Validate(target string) (string, error) {
	return ValidateImageRef(target, t.allowedRegistries)
}

// Version returns the tool version detected during the last Run, or the
// static fallback when none was seen.
func (t *Trivy) Version() string {
	if t.detectedVersion != "" {
		return "trivy-" + t.detectedVersion
	}
	return "trivy-" + trivyFallbackVersion
}

// buildArgs assembles the argument vector for one invocation. The target is
// always passed as a discrete argv element, never through a shell.
func (t *Trivy) buildArgs(target string, opts Options) []string {
	severity := opts.Severity
	if len(severity) == 0 {
		severity = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
	}
	modes := opts.Modes
	if len(modes) == 0 {
		modes = []string{"vuln"}
	}

	return []string{
		"image",
		"--format", "json",
		"--quiet",
		"--severity", strings.Join(severity, ","),
		"--scanners", strings.Join(modes, ","),
		"--no-progress",
		target,
	}
}

// Run implements Scanner. It executes trivy as a child process under a hard
// timeout; on expiry the child is killed and a TimeoutError returned. A
// nonzero exit yields an ExecutionError carrying captured output. On success
// the raw stdout bytes are returned for Parse.
func (t *Trivy) Run(ctx context.Context, target string, opts Options) ([]byte, error) {
	args := t.buildArgs(target, opts)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, trivyBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("executing scanner", "binary", trivyBinary, "target", target, "timeout", t.timeout)

	err := cmd.Run()
	t.detectVersion(stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Timeout: t.timeout}
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ExecutionError{
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}

	return stdout.Bytes(), nil
}

// detectVersion opportunistically records the tool version from its stderr
// banner. Best-effort: absence is never an error.
func (t *Trivy) detectVersion(stderr string) {
	if m := trivyVersionRe.FindStringSubmatch(stderr); m != nil {
		t.detectedVersion = m[1]
	}
}

// Parse implements Scanner by normalizing the trivy JSON report.
func (t *Trivy) Parse(raw []byte, duration time.Duration, target string) (*Result, error) {
	results, err := parseTrivyReport(raw)
	if err != nil {
		return nil, err
	}
	findings := normalizeTrivyFindings(results)
	return NewResult(t.Kind(), t.Version(), findings, duration, target), nil
}
