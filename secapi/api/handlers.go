package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/queue"
	"github.com/secapi/go-api/secapi/scanjob"
	"github.com/secapi/go-api/secapi/scanner"
	"github.com/secapi/go-api/secapi/user"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type submitScanRequest struct {
	Target  string          `json:"target"`
	Kind    string          `json:"kind,omitempty"`
	Options scanner.Options `json:"options"`
}

type submitScanResponse struct {
	ScanID         string    `json:"scan_id"`
	Status         string    `json:"status"`
	CheckStatusURL string    `json:"check_status_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// scanResponse is the wire shape of one job. Results is non-null only for
// completed jobs; ErrorMessage only for failed ones.
type scanResponse struct {
	ScanID       string          `json:"scan_id"`
	Status       string          `json:"status"`
	ScanType     string          `json:"scan_type"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
	ErrorMessage *string         `json:"error_message"`
	Results      json.RawMessage `json:"results"`
}

func toScanResponse(job *models.ScanJob) scanResponse {
	resp := scanResponse{
		ScanID:      job.ID,
		Status:      job.Status,
		ScanType:    job.ScanKind,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Results:     json.RawMessage("null"),
	}
	if job.ErrorMessage != "" {
		resp.ErrorMessage = &job.ErrorMessage
	}
	if job.Result != "" {
		resp.Results = json.RawMessage(job.Result)
	}
	return resp
}

// handleSubmitScan validates the target up front, persists a pending job, and
// enqueues it. The scan itself runs on a worker; the caller polls.
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req submitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindTrivy
	}

	sc, err := s.newScanner(req.Kind)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	target, err := sc.Validate(req.Target)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	opts, err := scanner.ValidateOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	input, err := json.Marshal(scanjob.Input{Target: target, Options: opts})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode scan input")
		return
	}

	job := &models.ScanJob{
		ID:       uuid.New().String(),
		UserID:   u.ID,
		ScanKind: req.Kind,
		Status:   models.StatusPending,
		Input:    string(input),
	}
	if err := s.jobs.Create(job); err != nil {
		slog.Error("failed to create scan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create scan")
		return
	}
	if err := s.jobs.RecordEvent(job.ID, models.EventTypeScanQueued, "", 0); err != nil {
		slog.Warn("failed to record scan event", "scan_id", job.ID, "error", err)
	}

	if err := s.pub.Publish(queue.ScanTask{ScanID: job.ID}); err != nil {
		slog.Error("failed to enqueue scan", "scan_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue scan")
		return
	}

	slog.Info("scan submitted", "scan_id", job.ID, "user_id", u.ID, "target", target)
	writeJSON(w, http.StatusAccepted, submitScanResponse{
		ScanID:         job.ID,
		Status:         "queued",
		CheckStatusURL: "/api/v1/scan/" + job.ID,
		CreatedAt:      job.CreatedAt,
	})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	id := r.PathValue("id")

	job, err := s.jobs.Get(id, u.ID)
	if err != nil {
		if errors.Is(err, scanjob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		slog.Error("failed to get scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scan")
		return
	}

	if r.URL.Query().Get("format") == "table" {
		limit := 1000
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 10000 {
				writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 10000")
				return
			}
			limit = n
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, renderScanTable(job, limit))
		return
	}

	writeJSON(w, http.StatusOK, toScanResponse(job))
}

type listScansResponse struct {
	Total    int            `json:"total"`
	Scans    []scanResponse `json:"scans"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	q := r.URL.Query()

	filters := scanjob.ListFilters{Page: 1, PageSize: 20}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "page must be a positive integer")
			return
		}
		filters.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusUnprocessableEntity, "page_size must be between 1 and 100")
			return
		}
		filters.PageSize = n
	}
	if v := q.Get("status"); v != "" {
		if !models.IsValidStatus(v) {
			writeError(w, http.StatusUnprocessableEntity, "invalid status filter")
			return
		}
		filters.Status = v
	}
	if v := q.Get("kind"); v != "" {
		if !models.IsValidKind(v) {
			writeError(w, http.StatusUnprocessableEntity, "invalid kind filter")
			return
		}
		filters.Kind = v
	}

	jobs, total, err := s.jobs.List(u.ID, filters)
	if err != nil {
		slog.Error("failed to list scans", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}

	scans := make([]scanResponse, 0, len(jobs))
	for i := range jobs {
		scans = append(scans, toScanResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, listScansResponse{
		Total:    total,
		Scans:    scans,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	})
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	id := r.PathValue("id")

	err := s.jobs.Delete(id, u.ID)
	switch {
	case errors.Is(err, scanjob.ErrNotFound):
		writeError(w, http.StatusNotFound, "Scan not found")
	case errors.Is(err, scanjob.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "Cannot delete scan in progress")
	case err != nil:
		slog.Error("failed to delete scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete scan")
	default:
		slog.Info("scan deleted", "scan_id", id, "user_id", u.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

type scanEventResponse struct {
	EventType string    `json:"event_type"`
	Message   string    `json:"message,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	id := r.PathValue("id")

	// Ownership check via the scoped lookup; non-owners see 404.
	if _, err := s.jobs.Get(id, u.ID); err != nil {
		if errors.Is(err, scanjob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		slog.Error("failed to get scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scan")
		return
	}

	events, err := s.jobs.ListEvents(id, 0)
	if err != nil {
		slog.Error("failed to list scan events", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list scan events")
		return
	}

	out := make([]scanEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, scanEventResponse{
			EventType: e.EventType,
			Message:   e.Message,
			Attempt:   e.Attempt,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": id, "events": out})
}

type registerRequest struct {
	Email string `json:"email"`
}

type registerResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	APIKey    string    `json:"api_key"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// handleRegister creates an account. The raw API key appears in this response
// and nowhere else.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	u, rawKey, err := s.users.Register(req.Email)
	switch {
	case errors.Is(err, user.ErrInvalidEmail):
		writeError(w, http.StatusUnprocessableEntity, "invalid email address")
	case errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusConflict, "User with this email already exists")
	case err != nil:
		slog.Error("failed to register user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register user")
	default:
		slog.Info("new user registered", "user_id", u.ID, "email", u.Email, "tier", u.Tier)
		writeJSON(w, http.StatusCreated, registerResponse{
			ID:        u.ID,
			Email:     u.Email,
			APIKey:    rawKey,
			Tier:      u.Tier,
			CreatedAt: u.CreatedAt,
		})
	}
}

type resetRequest struct {
	Email string `json:"email"`
}

// handleResetRequest always answers 202 with the same body, whether or not
// the email is registered, so the endpoint cannot enumerate accounts. The
// token goes out on the operator log in place of email delivery.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	token, err := s.users.RequestReset(r.Context(), req.Email)
	if err != nil {
		slog.Error("failed to issue reset token", "error", err)
	} else if token != "" {
		slog.Info("reset token issued", "email", req.Email, "token", token)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email exists, a reset link was sent",
	})
}

type resetConfirmRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rawKey, err := s.users.ConfirmReset(r.Context(), req.Email, req.Token)
	switch {
	case errors.Is(err, user.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
	case err != nil:
		slog.Error("failed to confirm reset", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset API key")
	default:
		slog.Info("API key reset", "email", req.Email)
		writeJSON(w, http.StatusOK, map[string]string{"api_key": rawKey})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbState := "connected"
	status := "healthy"
	if err := s.users.Touch(r.Context()); err != nil {
		dbState = "error"
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbState,
	})
}
