package scanjob

import (
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/secapi/go-api/secapi/postgres"
	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/scanner"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("❌ Failed to open in-memory database: %v", err)
	}
	// A :memory: database exists per connection; pin the pool to one.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := postgres.Migrate(db); err != nil {
		t.Fatalf("❌ Failed to migrate schema: %v", err)
	}
	return NewRepository(db)
}

func newTestJob(id, userID string) *models.ScanJob {
	return &models.ScanJob{
		ID:       id,
		UserID:   userID,
		ScanKind: models.KindTrivy,
		Status:   models.StatusPending,
		Input:    `{"target":"nginx:latest"}`,
	}
}

func TestRepositoryCreateAndGet(t *testing.T) {
	t.Log("\n🔍 Testing scan creation and retrieval...")

	repo := newTestRepo(t)
	if err := repo.Create(newTestJob("scan-1", "user-a")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	job, err := repo.Get("scan-1", "user-a")
	if err != nil {
		t.Fatalf("❌ Failed to get scan: %v", err)
	}
	if job.Status != models.StatusPending {
		t.Errorf("❌ Expected pending status, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("❌ CreatedAt not populated")
	}

	t.Log("\n✅ Scan creation and retrieval test passed")
}

func TestRepositoryOwnershipScoping(t *testing.T) {
	t.Log("\n🔍 Testing ownership scoping...")

	repo := newTestRepo(t)
	if err := repo.Create(newTestJob("scan-1", "user-a")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	// Another user sees the same 404-shaped error as for a missing scan
	_, errOther := repo.Get("scan-1", "user-b")
	_, errMissing := repo.Get("no-such-scan", "user-a")
	if !errors.Is(errOther, ErrNotFound) {
		t.Errorf("❌ Expected ErrNotFound for non-owner, got %v", errOther)
	}
	if !errors.Is(errMissing, ErrNotFound) {
		t.Errorf("❌ Expected ErrNotFound for missing scan, got %v", errMissing)
	}

	if err := repo.Delete("scan-1", "user-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("❌ Expected ErrNotFound deleting as non-owner, got %v", err)
	}

	t.Log("\n✅ Ownership scoping test passed")
}

func TestRepositoryList(t *testing.T) {
	t.Log("\n🔍 Testing scan listing...")

	repo := newTestRepo(t)
	for i, id := range []string{"scan-1", "scan-2", "scan-3"} {
		job := newTestJob(id, "user-a")
		job.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := repo.Create(job); err != nil {
			t.Fatalf("❌ Failed to create scan: %v", err)
		}
	}
	if err := repo.Create(newTestJob("scan-other", "user-b")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	jobs, total, err := repo.List("user-a", ListFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("❌ Failed to list scans: %v", err)
	}
	if total != 3 {
		t.Errorf("❌ Expected total 3, got %d", total)
	}
	if len(jobs) != 2 {
		t.Errorf("❌ Expected page of 2, got %d", len(jobs))
	}
	// Newest first
	if jobs[0].ID != "scan-3" {
		t.Errorf("❌ Expected newest scan first, got %s", jobs[0].ID)
	}

	// Status filter
	if _, err := repo.MarkRunning("scan-1"); err != nil {
		t.Fatalf("❌ Failed to mark running: %v", err)
	}
	running, total, err := repo.List("user-a", ListFilters{Status: models.StatusRunning})
	if err != nil {
		t.Fatalf("❌ Failed to list by status: %v", err)
	}
	if total != 1 || len(running) != 1 || running[0].ID != "scan-1" {
		t.Errorf("❌ Status filter wrong: total=%d, jobs=%v", total, running)
	}

	// Fresh owner sees an empty page, not an error
	empty, total, err := repo.List("user-z", ListFilters{})
	if err != nil {
		t.Fatalf("❌ Failed to list for fresh owner: %v", err)
	}
	if total != 0 || len(empty) != 0 {
		t.Errorf("❌ Expected empty list, got total=%d len=%d", total, len(empty))
	}

	t.Log("\n✅ Scan listing test passed")
}

func TestRepositoryDeleteStateGuard(t *testing.T) {
	t.Log("\n🔍 Testing delete state guard...")

	repo := newTestRepo(t)
	if err := repo.Create(newTestJob("scan-1", "user-a")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	// Pending and running jobs cannot be deleted
	if err := repo.Delete("scan-1", "user-a"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("❌ Expected ErrInvalidState for pending scan, got %v", err)
	}
	if _, err := repo.MarkRunning("scan-1"); err != nil {
		t.Fatalf("❌ Failed to mark running: %v", err)
	}
	if err := repo.Delete("scan-1", "user-a"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("❌ Expected ErrInvalidState for running scan, got %v", err)
	}

	// Terminal jobs can
	if _, err := repo.MarkFailed("scan-1", models.StatusRunning, "Scan execution failed: exit 1"); err != nil {
		t.Fatalf("❌ Failed to mark failed: %v", err)
	}
	if err := repo.Delete("scan-1", "user-a"); err != nil {
		t.Fatalf("❌ Failed to delete terminal scan: %v", err)
	}
	if _, err := repo.Get("scan-1", "user-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("❌ Expected scan to be gone, got %v", err)
	}

	t.Log("\n✅ Delete state guard test passed")
}

func TestRepositoryGuardedTransitions(t *testing.T) {
	t.Log("\n🔍 Testing guarded state transitions...")

	repo := newTestRepo(t)
	if err := repo.Create(newTestJob("scan-1", "user-a")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	ok, err := repo.MarkRunning("scan-1")
	if err != nil || !ok {
		t.Fatalf("❌ First MarkRunning should succeed: ok=%v err=%v", ok, err)
	}

	// Second attempt is a no-op, not an error: the guard catches the race
	ok, err = repo.MarkRunning("scan-1")
	if err != nil {
		t.Fatalf("❌ Redundant MarkRunning errored: %v", err)
	}
	if ok {
		t.Error("❌ Redundant MarkRunning reported success")
	}

	result := scanner.NewResult("trivy", "trivy-0.55.0", nil, time.Second, "nginx:latest")
	ok, err = repo.MarkCompleted("scan-1", result)
	if err != nil || !ok {
		t.Fatalf("❌ MarkCompleted should succeed: ok=%v err=%v", ok, err)
	}

	// Terminal states are absorbing
	ok, err = repo.MarkFailed("scan-1", models.StatusRunning, "too late")
	if err != nil {
		t.Fatalf("❌ MarkFailed on terminal job errored: %v", err)
	}
	if ok {
		t.Error("❌ Terminal job accepted a further transition")
	}

	// Illegal transitions are rejected outright
	if _, err := repo.Transition("scan-1", models.StatusCompleted, models.StatusRunning, nil); err == nil {
		t.Error("❌ Expected completed→running to be rejected")
	}

	job, err := repo.Get("scan-1", "user-a")
	if err != nil {
		t.Fatalf("❌ Failed to get scan: %v", err)
	}
	if job.Status != models.StatusCompleted {
		t.Errorf("❌ Expected completed, got %s", job.Status)
	}
	if job.Result == "" {
		t.Error("❌ Completed scan has no result payload")
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("❌ Timestamps missing on completed scan")
	}
	if job.StartedAt != nil && job.CompletedAt != nil && job.CompletedAt.Before(*job.StartedAt) {
		t.Error("❌ CompletedAt before StartedAt")
	}

	t.Log("\n✅ Guarded state transition test passed")
}

func TestRepositoryEvents(t *testing.T) {
	t.Log("\n🔍 Testing lifecycle event log...")

	repo := newTestRepo(t)
	if err := repo.Create(newTestJob("scan-1", "user-a")); err != nil {
		t.Fatalf("❌ Failed to create scan: %v", err)
	}

	if err := repo.RecordEvent("scan-1", models.EventTypeScanQueued, "", 0); err != nil {
		t.Fatalf("❌ Failed to record event: %v", err)
	}
	if err := repo.RecordEvent("scan-1", models.EventTypeScanStarted, "", 0); err != nil {
		t.Fatalf("❌ Failed to record event: %v", err)
	}
	if err := repo.RecordEvent("scan-1", models.EventTypeScanCompleted, "2 findings", 1); err != nil {
		t.Fatalf("❌ Failed to record event: %v", err)
	}

	events, err := repo.ListEvents("scan-1", 0)
	if err != nil {
		t.Fatalf("❌ Failed to list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("❌ Expected 3 events, got %d", len(events))
	}

	t.Log("\n✅ Lifecycle event log test passed")
}
