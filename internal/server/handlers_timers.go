package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

// HandleCreateTimer handles POST /v1/timers. New timers start immediately.
func (h *Handlers) HandleCreateTimer(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTimerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	createdBy := ""
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		createdBy = claims.Operator
	}

	t, err := h.timers.Create(r.Context(), req, createdBy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/timers/"+t.ID.String())
	writeJSON(w, r, http.StatusCreated, model.NewTimerResponse(t, h.timers.Now()))
}

// HandleListTimers handles GET /v1/timers.
func (h *Handlers) HandleListTimers(w http.ResponseWriter, r *http.Request) {
	list, err := h.timers.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	now := h.timers.Now()
	out := make([]model.TimerResponse, 0, len(list))
	for _, t := range list {
		out = append(out, model.NewTimerResponse(t, now))
	}
	writeList(w, r, out, len(out))
}

// HandleGetTimer handles GET /v1/timers/{id}.
func (h *Handlers) HandleGetTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.timerID(w, r)
	if !ok {
		return
	}
	t, err := h.timers.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewTimerResponse(t, h.timers.Now()))
}

// HandleCancelTimer handles DELETE /v1/timers/{id}. Cancelling twice is not
// an error; cancelling a completed timer is a conflict.
func (h *Handlers) HandleCancelTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.timerID(w, r)
	if !ok {
		return
	}
	t, err := h.timers.Cancel(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewTimerResponse(t, h.timers.Now()))
}

// HandleStartTimer handles POST /v1/timers/{id}/start.
func (h *Handlers) HandleStartTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.timerID(w, r)
	if !ok {
		return
	}
	t, started, err := h.timers.Start(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !started && t.Status != model.TimerStatusRunning {
		h.writeServiceError(w, r, model.CheckTransition(t.Status, model.TimerStatusRunning))
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewTimerResponse(t, h.timers.Now()))
}

// HandlePurgeTimer handles DELETE /v1/timers/{id}/purge.
func (h *Handlers) HandlePurgeTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.timerID(w, r)
	if !ok {
		return
	}
	if err := h.timers.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetJobReport handles GET /v1/jobs/{timer_id}.
func (h *Handlers) HandleGetJobReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "job reports are not enabled")
		return
	}
	rep, err := h.reports.Report(r.Context(), r.PathValue("timer_id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "job report not found")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

func (h *Handlers) timerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorDetails(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid timer id",
			map[string]string{"field": "id"})
		return uuid.UUID{}, false
	}
	return id, true
}
