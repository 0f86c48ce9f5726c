package models

import (
	"time"
)

// ScanStatus constants for the scan job state machine.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanKind constants identifying which scanner backend owns a job.
const (
	KindTrivy = "trivy"
)

// ScanJob represents one queued, running, or finished scan. Input and Result
// are serialized JSON blobs; Result is populated only for completed jobs and
// ErrorMessage only for failed ones.
type ScanJob struct {
	ID           string     `gorm:"primaryKey;size:36" json:"scan_id"`
	UserID       string     `gorm:"not null;size:36;index:idx_scans_user" json:"-"`
	ScanKind     string     `gorm:"not null;size:50;index:idx_scans_kind" json:"scan_kind"`
	Status       string     `gorm:"not null;size:50;default:pending;index:idx_scans_status" json:"status"`
	Input        string     `gorm:"type:text" json:"-"`
	Result       string     `gorm:"type:text" json:"-"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_scans_created,sort:desc" json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for the ScanJob model
func (ScanJob) TableName() string {
	return "scans"
}

// IsTerminal reports whether the job can no longer change state.
func (j *ScanJob) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// IsValidStatus checks if a status value is one of the four job states.
func IsValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind checks if a scan kind has a registered backend.
func IsValidKind(kind string) bool {
	return kind == KindTrivy
}

// CanTransition reports whether the state machine permits moving a job from
// one status to another. Terminal states are absorbing. The pending→failed
// edge covers validation failures detected at execution time.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
