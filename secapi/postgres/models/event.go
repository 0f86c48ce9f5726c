// File: event.go
package models

import (
	"time"
)

// ScanEvent records one lifecycle transition of a scan job for operator
// diagnosis. Events are append-only.
type ScanEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ScanID    string    `gorm:"not null;size:36;index:idx_scan_events_scan" json:"scan_id"`
	EventType string    `gorm:"not null;size:50;index:idx_scan_events_type" json:"event_type"`
	Message   string    `gorm:"type:text" json:"message,omitempty"`
	Attempt   int       `gorm:"not null;default:0" json:"attempt"`
	CreatedAt time.Time `gorm:"not null;index:idx_scan_events_created,sort:desc" json:"created_at"`
}

// TableName specifies the table name for the ScanEvent model
func (ScanEvent) TableName() string {
	return "scan_events"
}

// EventType constants for scan lifecycle events
const (
	EventTypeScanQueued    = "scan_queued"
	EventTypeScanStarted   = "scan_started"
	EventTypeScanCompleted = "scan_completed"
	EventTypeScanFailed    = "scan_failed"
	EventTypeScanRetried   = "scan_retried"
)

// IsValidEventType checks if an event type is one of the lifecycle events.
func IsValidEventType(eventType string) bool {
	switch eventType {
	case EventTypeScanQueued, EventTypeScanStarted, EventTypeScanCompleted,
		EventTypeScanFailed, EventTypeScanRetried:
		return true
	default:
		return false
	}
}
