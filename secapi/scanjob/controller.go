package scanjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/scanner"
	"github.com/secapi/go-api/secapi/store"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 60 * time.Second
	defaultBackoffCap  = 600 * time.Second
)

// ControllerConfig tunes the lifecycle controller.
type ControllerConfig struct {
	// WorkerID identifies this worker instance in execution locks.
	WorkerID string
	// ScanTimeout is the hard wall-clock cap for one scanner invocation.
	ScanTimeout time.Duration
	// AllowedRegistries overrides the default registry allow-list.
	AllowedRegistries []string
	// MaxAttempts bounds retries for retryable failures. Zero means 3.
	MaxAttempts int
	// BackoffBase is the first retry delay. Zero means 60s.
	BackoffBase time.Duration
	// BackoffCap limits the exponential growth. Zero means 600s.
	BackoffCap time.Duration
}

// Controller is the scan-job state machine. It takes a job from the queue
// through execution to a terminal state, never letting one bad job take the
// worker down with it.
type Controller struct {
	repo *Repository
	kv   store.KVStore
	cfg  ControllerConfig

	// newScanner is swappable so tests can inject fakes.
	newScanner func(kind string) (scanner.Scanner, error)
}

// NewController wires a lifecycle controller over the repository and KV store.
func NewController(repo *Repository, kv store.KVStore, cfg ControllerConfig) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 300 * time.Second
	}
	c := &Controller{repo: repo, kv: kv, cfg: cfg}
	c.newScanner = func(kind string) (scanner.Scanner, error) {
		sc, err := scanner.New(kind, cfg.ScanTimeout)
		if err != nil {
			return nil, err
		}
		if t, ok := sc.(*scanner.Trivy); ok && len(cfg.AllowedRegistries) > 0 {
			t.WithAllowedRegistries(cfg.AllowedRegistries)
		}
		return sc, nil
	}
	return c
}

// Execute drives one job to a terminal state. It is safe under at-least-once
// delivery: redelivered jobs that already reached a terminal state, jobs whose
// record has been deleted, and jobs locked by another worker are all no-ops.
// Execute itself only returns an error for infrastructure failures; scan
// failures are recorded on the job, not propagated. A failed terminal-state
// write counts as infrastructure failure: the error is returned so the
// delivery is nacked and the guarded transition retries on redelivery.
func (c *Controller) Execute(ctx context.Context, scanID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during scan execution", "scan_id", scanID, "panic", r)
			err = c.fail(scanID, models.StatusRunning, fmt.Sprintf("Unexpected error: %v", r), 0)
		}
	}()

	job, err := c.repo.GetByID(scanID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Warn("scan redelivered but record is gone", "scan_id", scanID)
			return nil
		}
		return err
	}
	if job.IsTerminal() {
		slog.Info("scan already terminal, skipping", "scan_id", scanID, "status", job.Status)
		return nil
	}

	acquired, err := store.AcquireScanLock(ctx, c.kv, scanID, c.cfg.WorkerID)
	if err != nil {
		return err
	}
	if !acquired {
		slog.Info("scan locked by another worker, skipping", "scan_id", scanID)
		return nil
	}
	defer func() {
		if releaseErr := store.ReleaseScanLock(context.Background(), c.kv, scanID); releaseErr != nil {
			slog.Warn("failed to release scan lock", "scan_id", scanID, "error", releaseErr)
		}
	}()

	var input Input
	if err := json.Unmarshal([]byte(job.Input), &input); err != nil {
		return c.fail(scanID, job.Status, fmt.Sprintf("Invalid input: %v", err), 0)
	}

	sc, err := c.newScanner(job.ScanKind)
	if err != nil {
		return c.fail(scanID, job.Status, fmt.Sprintf("Invalid input: %v", err), 0)
	}

	// Re-validate at execution time. A failure here short-circuits
	// pending→failed without ever entering running.
	target, err := sc.Validate(input.Target)
	if err != nil {
		return c.fail(scanID, job.Status, fmt.Sprintf("Invalid input: %v", err), 0)
	}

	started, err := c.repo.MarkRunning(scanID)
	if err != nil {
		return err
	}
	if !started {
		// Lost the race to another worker or the job already moved on.
		slog.Info("scan not in pending state, skipping", "scan_id", scanID)
		return nil
	}
	c.recordEvent(scanID, models.EventTypeScanStarted, "", 0)
	slog.Info("scan started", "scan_id", scanID, "kind", job.ScanKind, "target", target)

	return c.run(ctx, scanID, sc, target, input.Options)
}

// run performs up to MaxAttempts scanner invocations, applying capped
// exponential backoff between retryable failures, and writes the terminal
// state. No partial state carries between attempts. The returned error is
// non-nil only when the terminal-state write itself fails.
func (c *Controller) run(ctx context.Context, scanID string, sc scanner.Scanner, target string, opts scanner.Options) error {
	var lastMsg string

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		raw, err := sc.Run(ctx, target, opts)
		if err == nil {
			var result *scanner.Result
			result, err = sc.Parse(raw, time.Since(start), target)
			if err == nil {
				if _, markErr := c.repo.MarkCompleted(scanID, result); markErr != nil {
					return fmt.Errorf("persist scan result for %s: %w", scanID, markErr)
				}
				c.recordEvent(scanID, models.EventTypeScanCompleted,
					fmt.Sprintf("%d findings", len(result.Findings)), attempt)
				slog.Info("scan completed", "scan_id", scanID,
					"findings", len(result.Findings), "attempt", attempt)
				return nil
			}
		}

		msg, retryable := classify(err)
		lastMsg = msg

		if !retryable {
			return c.fail(scanID, models.StatusRunning, msg, attempt)
		}

		if attempt < c.cfg.MaxAttempts {
			delay := c.backoff(attempt)
			slog.Warn("scan attempt failed, retrying", "scan_id", scanID,
				"attempt", attempt, "error", msg, "backoff", delay)
			c.recordEvent(scanID, models.EventTypeScanRetried, msg, attempt)

			select {
			case <-ctx.Done():
				return c.fail(scanID, models.StatusRunning, lastMsg, attempt)
			case <-time.After(delay):
			}
		}
	}

	return c.fail(scanID, models.StatusRunning, lastMsg, c.cfg.MaxAttempts)
}

// backoff returns the delay before the next attempt: base doubled per
// attempt, capped.
func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	if delay > c.cfg.BackoffCap {
		delay = c.cfg.BackoffCap
	}
	return delay
}

// fail writes a terminal failed state, tolerating jobs that never left
// pending (the validation short-circuit). A database error is returned so
// the caller can leave the delivery unacked instead of losing the job.
func (c *Controller) fail(scanID, from, message string, attempt int) error {
	ok, err := c.repo.MarkFailed(scanID, from, message)
	if err == nil && !ok && from == models.StatusRunning {
		ok, err = c.repo.MarkFailed(scanID, models.StatusPending, message)
	}
	if err == nil && !ok && from == models.StatusPending {
		ok, err = c.repo.MarkFailed(scanID, models.StatusRunning, message)
	}
	if err != nil {
		return fmt.Errorf("mark scan %s failed: %w", scanID, err)
	}
	if ok {
		c.recordEvent(scanID, models.EventTypeScanFailed, message, attempt)
		slog.Error("scan failed", "scan_id", scanID, "error", message)
	}
	return nil
}

func (c *Controller) recordEvent(scanID, eventType, message string, attempt int) {
	if err := c.repo.RecordEvent(scanID, eventType, message, attempt); err != nil {
		slog.Warn("failed to record scan event", "scan_id", scanID, "event", eventType, "error", err)
	}
}

// classify maps an execution failure onto its operator-facing message and
// retry policy. Validation and parse failures are permanent; timeouts,
// execution failures, and anything unexpected get bounded retries.
func classify(err error) (message string, retryable bool) {
	var validationErr *scanner.ValidationError
	var timeoutErr *scanner.TimeoutError
	var executionErr *scanner.ExecutionError
	var parseErr *scanner.ParseError

	switch {
	case errors.As(err, &validationErr):
		return fmt.Sprintf("Invalid input: %v", err), false
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("Scan timed out: %v", err), true
	case errors.As(err, &executionErr):
		return fmt.Sprintf("Scan execution failed: %v", err), true
	case errors.As(err, &parseErr):
		return fmt.Sprintf("Failed to parse scan output: %v", err), false
	default:
		return fmt.Sprintf("Unexpected error: %v", err), true
	}
}
