package api

import (
	"errors"
	"net/http"
	"time"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/id"
)

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	q := delivery.LogQuery{
		Page:      queryInt(r, "page", 1),
		Limit:     queryInt(r, "limit", 0),
		EventType: queryParam(r, "event_type"),
	}

	if v := queryParam(r, "webhook_id"); v != "" {
		whID, err := id.ParseWebhookID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook ID")
			return
		}
		q.WebhookID = whID
	}
	if v := queryParam(r, "status"); v != "" {
		status := delivery.AttemptStatus(v)
		switch status {
		case delivery.AttemptPending, delivery.AttemptSuccess, delivery.AttemptFailed:
			q.Status = &status
		default:
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	var ok bool
	if q.From, ok = queryTime(r, "from"); !ok {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	if q.To, ok = queryTime(r, "to"); !ok {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	page, err := h.engine.Logs().List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	attID, err := id.ParseAttemptID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	att, getErr := h.engine.Logs().Get(r.Context(), attID)
	if getErr != nil {
		h.writeLogError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) getLogSequence(w http.ResponseWriter, r *http.Request) {
	attID, err := id.ParseAttemptID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	attempts, seqErr := h.engine.Logs().Sequence(r.Context(), attID)
	if seqErr != nil {
		h.writeLogError(w, seqErr)
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) retryLog(w http.ResponseWriter, r *http.Request) {
	attID, err := id.ParseAttemptID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	nextAt, retryErr := h.engine.Logs().Retry(r.Context(), attID)
	if retryErr != nil {
		h.writeLogError(w, retryErr)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"next_attempt_at": nextAt,
	})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := queryParam(r, "state"); v != "" {
		state := delivery.State(v)
		switch state {
		case delivery.StatePending, delivery.StateSucceeded, delivery.StateFailed:
			opts.State = &state
		default:
			writeError(w, http.StatusBadRequest, "invalid state filter")
			return
		}
	}

	deliveries, listErr := h.engine.Store().ListByWebhook(r.Context(), whID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) getWebhookStats(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	days := queryInt(r, "days", 7)
	if days < 1 || days > 90 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	stats, statsErr := h.engine.Logs().Stats(r.Context(), whID, from, to)
	if statsErr != nil {
		writeError(w, http.StatusInternalServerError, statsErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// writeLogError maps log service errors to HTTP status codes.
func (h *Handler) writeLogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hooks.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "attempt not found")
	case errors.Is(err, hooks.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	case errors.Is(err, delivery.ErrRetryNotAllowed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
