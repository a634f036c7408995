package api

import (
	"errors"
	"net/http"
	"time"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
)

type dispatchEventRequest struct {
	Type         string         `json:"type"`
	FormID       string         `json:"form_id"`
	FormTitle    string         `json:"form_title"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Data         map[string]any `json:"data"`
	OccurredAt   time.Time      `json:"occurred_at,omitempty"`
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req dispatchEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FormID == "" {
		writeError(w, http.StatusBadRequest, "form_id is required")
		return
	}

	evt := &event.Event{
		Type:         req.Type,
		FormID:       req.FormID,
		FormTitle:    req.FormTitle,
		SubmissionID: req.SubmissionID,
		Data:         req.Data,
		OccurredAt:   req.OccurredAt,
	}

	if err := h.engine.Dispatch(r.Context(), evt); err != nil {
		if errors.Is(err, hooks.ErrUnknownEventType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
		FormID: queryParam(r, "form_id"),
	}

	var ok bool
	if opts.From, ok = queryTime(r, "from"); !ok {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	if opts.To, ok = queryTime(r, "to"); !ok {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	events, err := h.engine.Store().ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.engine.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, hooks.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

// queryTime parses an RFC 3339 query parameter. The second return is false
// only when the parameter is present but malformed.
func queryTime(r *http.Request, key string) (*time.Time, bool) {
	v := queryParam(r, key)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, false
	}
	return &t, true
}
