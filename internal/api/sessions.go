package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/goodtune/deepwork/internal/export"
	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/session"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// csvFilename is suggested to clients downloading the export.
const csvFilename = "deep_work_sessions.csv"

// SessionsHandler handles session lifecycle and reporting API requests.
type SessionsHandler struct {
	machine *session.Machine
	engine  *focus.Engine
	clock   session.Clock
	logger  zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(machine *session.Machine, engine *focus.Engine, clock session.Clock, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		machine: machine,
		engine:  engine,
		clock:   clock,
		logger:  logger.With().Str("handler", "sessions").Logger(),
	}
}

// Create schedules a new session.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.machine.Create(r.Context(), session.CreateParams{
		Title:             req.Title,
		Goal:              req.Goal,
		ScheduledDuration: req.ScheduledDuration,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// Get returns a single session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s, err := h.machine.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to retrieve session")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// Delete removes a session and its interruptions.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.machine.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Interruptions lists the interruptions of a session.
func (h *SessionsHandler) Interruptions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	interruptions, err := h.machine.Interruptions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to retrieve interruptions")
		return
	}

	writeJSON(w, http.StatusOK, interruptions)
}

// Start moves a scheduled session to active.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s, err := h.machine.Start(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// Pause pauses an active session, recording the reason.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req PauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.machine.Pause(r.Context(), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, err, "Failed to pause session")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// Resume resumes a paused or abandoned session.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s, err := h.machine.Resume(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to resume session")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// Complete ends an active or paused session.
func (h *SessionsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s, err := h.machine.Complete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to complete session")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// FocusScore returns the focus score of a session; unknown sessions score 0.
func (h *SessionsHandler) FocusScore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, FocusScoreResponse{
		SessionID:  id,
		FocusScore: h.engine.FocusScore(r.Context(), id),
	})
}

// History returns every session, newest first.
func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build history")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// HistorySummary returns the history with per-status totals.
func (h *SessionsHandler) HistorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.HistorySummary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build history summary")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// WeeklyReport returns the aggregate over the last seven days.
func (h *SessionsHandler) WeeklyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.WeeklyReport(r.Context(), h.clock.Now())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build weekly report")
		writeError(w, http.StatusInternalServerError, "Failed to build weekly report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ExportCSV exports all sessions as CSV, wrapped in JSON unless ?download=true.
func (h *SessionsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build history for export")
		writeError(w, http.StatusInternalServerError, "Failed to export sessions")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, history); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode CSV export")
		writeError(w, http.StatusInternalServerError, "Failed to export sessions")
		return
	}

	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+csvFilename+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}

	writeJSON(w, http.StatusOK, CSVExportResponse{CSVData: buf.String()})
}

// parseID extracts the integer {id} path variable, writing a 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Session ID must be an integer")
		return 0, false
	}
	return id, true
}

// writeServiceError maps state machine errors to HTTP responses.
func (h *SessionsHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		validationErr *session.ValidationError
		transitionErr *session.InvalidTransitionError
		notFoundErr   *session.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "Session was modified concurrently, retry the request")
	default:
		h.logger.Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
