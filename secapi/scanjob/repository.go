// Package scanjob owns the persisted scan-job records and the lifecycle
// controller that drives them from submission to a terminal state.
package scanjob

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/scanner"
)

var (
	// ErrNotFound is returned when a job is absent or owned by another
	// principal. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("scan not found")
	// ErrInvalidState is returned when deleting a job that is still pending
	// or running.
	ErrInvalidState = errors.New("cannot delete scan in progress")
	// ErrConflict is returned on an identifier collision at create time.
	ErrConflict = errors.New("scan id already exists")
)

// Input is the submitted scan request, stored verbatim on the job record for
// auditability and retry.
type Input struct {
	Target  string          `json:"target"`
	Options scanner.Options `json:"options,omitempty"`
}

// ListFilters selects and pages an owner's jobs.
type ListFilters struct {
	Page     int
	PageSize int
	Status   string
	Kind     string
}

// Repository provides owner-scoped database operations for scan jobs.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository over an established database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new pending job.
func (r *Repository) Create(job *models.ScanJob) error {
	if err := r.db.Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create scan: %w", err)
	}
	return nil
}

// Get returns a job scoped to its owner. Absent and not-owned both yield
// ErrNotFound so existence never leaks to non-owners.
func (r *Repository) Get(id, userID string) (*models.ScanJob, error) {
	var job models.ScanJob
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return &job, nil
}

// GetByID returns a job without owner scoping. Used only by the lifecycle
// controller, which is handed trusted job identifiers from the queue.
func (r *Repository) GetByID(id string) (*models.ScanJob, error) {
	var job models.ScanJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return &job, nil
}

// List returns one page of the owner's jobs ordered by creation time
// descending, plus the total count matching the filter independent of the
// pagination window.
func (r *Repository) List(userID string, f ListFilters) ([]models.ScanJob, int, error) {
	query := r.db.Model(&models.ScanJob{}).Where("user_id = ?", userID)

	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		query = query.Where("scan_kind = ?", f.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scans: %w", err)
	}

	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}

	var jobs []models.ScanJob
	err := query.
		Order("created_at DESC").
		Limit(f.PageSize).
		Offset((f.Page - 1) * f.PageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scans: %w", err)
	}

	return jobs, int(total), nil
}

// Delete removes an owner's job. Jobs that are still pending or running are
// protected so in-flight work is never orphaned.
func (r *Repository) Delete(id, userID string) error {
	job, err := r.Get(id, userID)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrInvalidState
	}

	result := r.db.Where("id = ? AND user_id = ? AND status IN ?",
		id, userID, []string{models.StatusCompleted, models.StatusFailed}).
		Delete(&models.ScanJob{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete scan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Raced with a concurrent delete.
		return ErrNotFound
	}
	return nil
}

// Transition atomically moves a job from one status to another, applying the
// extra field updates in the same statement. The guarded WHERE clause makes
// redelivered or concurrently handled jobs a no-op: it returns false when the
// job was not in the expected source state.
func (r *Repository) Transition(id, from, to string, fields map[string]interface{}) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.Model(&models.ScanJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition scan %s to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkRunning records the pending→running transition.
func (r *Repository) MarkRunning(id string) (bool, error) {
	now := time.Now().UTC()
	return r.Transition(id, models.StatusPending, models.StatusRunning, map[string]interface{}{
		"started_at": &now,
	})
}

// MarkCompleted records the running→completed transition with the normalized
// result payload. Result and status land in one atomic write so readers never
// observe a completed job without its result.
func (r *Repository) MarkCompleted(id string, result *scanner.Result) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to serialize scan result: %w", err)
	}
	now := time.Now().UTC()
	return r.Transition(id, models.StatusRunning, models.StatusCompleted, map[string]interface{}{
		"completed_at": &now,
		"result":       string(data),
	})
}

// MarkFailed records a transition to failed from the given source state with
// a human-readable error message.
func (r *Repository) MarkFailed(id, from, message string) (bool, error) {
	now := time.Now().UTC()
	return r.Transition(id, from, models.StatusFailed, map[string]interface{}{
		"completed_at":  &now,
		"error_message": message,
	})
}

// RecordEvent appends a lifecycle event for a job. Best-effort from callers'
// perspective: event loss never fails a scan.
func (r *Repository) RecordEvent(scanID, eventType, message string, attempt int) error {
	event := models.ScanEvent{
		ScanID:    scanID,
		EventType: eventType,
		Message:   message,
		Attempt:   attempt,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record scan event: %w", err)
	}
	return nil
}

// ListEvents returns all lifecycle events for a job, newest first.
func (r *Repository) ListEvents(scanID string, limit int) ([]models.ScanEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.ScanEvent
	err := r.db.Where("scan_id = ?", scanID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scan events: %w", err)
	}
	return events, nil
}
