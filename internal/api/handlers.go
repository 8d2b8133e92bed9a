package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"agency-ops/internal/auth"
	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
	"agency-ops/internal/telemetry"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type createJobRequest struct {
	Title                       string  `json:"title" validate:"required,max=255"`
	VendorID                    *string `json:"vendor_id" validate:"omitempty,min=1,max=128"`
	ProjectID                   *string `json:"project_id" validate:"omitempty,min=1,max=128"`
	AutoStartOnVendorAcceptance bool    `json:"auto_start_on_vendor_acceptance"`
}

// changeStatusRequest accepts changed_by for compatibility; the actor is
// always taken from the authenticated route instead.
type changeStatusRequest struct {
	NewStatus string  `json:"new_status" validate:"required,max=64"`
	Comment   *string `json:"comment" validate:"omitempty,max=2000"`
	ChangedBy string  `json:"changed_by"`
}

type commentRequest struct {
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	job, err := s.engine.CreateJob(r.Context(), caller.ID, lifecycle.NewJob{
		Title:                       req.Title,
		VendorID:                    req.VendorID,
		ProjectID:                   req.ProjectID,
		AutoStartOnVendorAcceptance: req.AutoStartOnVendorAcceptance,
	})
	if err != nil {
		s.fail(w, r, "create", err)
		return
	}
	telemetry.Transitions.WithLabelValues("create", string(job.Status)).Inc()
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Job created", Data: job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.GetJob(r.Context(), chi.URLParam(r, "id"), scopeOf(r.Context()))
	if err != nil {
		s.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Job retrieved", Data: job})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFrom(r.Context())
	if err := s.engine.DeleteJob(r.Context(), chi.URLParam(r, "id"), caller.ID); err != nil {
		s.fail(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Job deleted"})
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if req.ChangedBy != "" && req.ChangedBy != string(models.ActorAdmin) {
		s.logger.WarnContext(r.Context(), "ignoring client supplied changed_by",
			slog.String("changed_by", req.ChangedBy),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
	caller, _ := auth.CallerFrom(r.Context())
	job, err := s.engine.ChangeJobStatus(r.Context(), chi.URLParam(r, "id"), caller.ID, models.Status(strings.TrimSpace(req.NewStatus)), req.Comment)
	s.respondTransition(w, r, "change_status", job, err, "Job status updated to "+string(job.Status))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	job, err := s.engine.StartJob(r.Context(), chi.URLParam(r, "id"), caller.ID, req.Comment)
	s.respondTransition(w, r, "start", job, err, "Job started")
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	job, err := s.engine.VendorAcceptOffer(r.Context(), chi.URLParam(r, "id"), caller.ID, req.Comment)
	msg := "Offer accepted"
	if job.Status == models.StatusStarted {
		msg = "Offer accepted and job started"
	}
	s.respondTransition(w, r, "accept", job, err, msg)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	job, err := s.engine.VendorRejectOffer(r.Context(), chi.URLParam(r, "id"), caller.ID, req.Comment)
	s.respondTransition(w, r, "reject", job, err, "Offer rejected")
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := s.engine.Timeline(r.Context(), chi.URLParam(r, "id"), scopeOf(r.Context()))
	if err != nil {
		s.fail(w, r, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Job status timeline", Data: timeline})
}

func (s *Server) respondTransition(w http.ResponseWriter, r *http.Request, op string, job models.Job, err error, msg string) {
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	telemetry.Transitions.WithLabelValues(op, string(job.Status)).Inc()
	if lifecycle.IsTerminal(job.Status) {
		s.enqueueArchive(r.Context(), job.ID)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: job})
}

// enqueueArchive runs after commit; a failure is logged and never fails the request.
func (s *Server) enqueueArchive(ctx context.Context, jobID string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Enqueue(context.WithoutCancel(ctx), jobID); err != nil {
		s.logger.WarnContext(ctx, "queue job history archive", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	telemetry.ArchiveEnqueued.Inc()
}

// fail maps engine errors to responses. Caller errors are expected outcomes
// and are not logged as failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		telemetry.TransitionRejects.WithLabelValues(op, "not_found").Inc()
		writeJSON(w, http.StatusNotFound, envelope{Message: "Job not found"})
	case errors.As(err, &te):
		telemetry.TransitionRejects.WithLabelValues(op, reason(te.Kind)).Inc()
		writeJSON(w, http.StatusBadRequest, envelope{Message: te.Message})
	default:
		telemetry.StorageFailures.Inc()
		s.logger.ErrorContext(r.Context(), "job operation failed",
			slog.String("operation", op),
			slog.String("job_id", chi.URLParam(r, "id")),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "Internal server error"})
	}
}

func reason(kind error) string {
	switch {
	case errors.Is(kind, lifecycle.ErrAlreadyInStatus):
		return "already_in_status"
	case errors.Is(kind, lifecycle.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(kind, lifecycle.ErrPreconditionFailed):
		return "precondition_failed"
	default:
		return "other"
	}
}

// decode reads a JSON body into dst and validates it. With optional set, an
// empty body is accepted as the zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.RequestLimit)
	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid json"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

func scopeOf(ctx context.Context) lifecycle.Scope {
	caller, _ := auth.CallerFrom(ctx)
	return lifecycle.Scope{Actor: caller.Role, CallerID: caller.ID}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
