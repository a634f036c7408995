package api

import (
	"net/http"

	"github.com/formatic/hooks/delivery"
)

// getStats returns a queue overview for the operator dashboard.
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Store()

	pending, err := store.CountPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total, err := store.CountAttempts(r.Context(), delivery.AttemptListOpts{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failed := delivery.AttemptFailed
	failedCount, err := store.CountAttempts(r.Context(), delivery.AttemptListOpts{Status: &failed})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"pending_deliveries": pending,
		"total_attempts":     total,
		"failed_attempts":    failedCount,
	})
}
