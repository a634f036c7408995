package api

import (
	"context"
	"errors"
	"net/http"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/webhook"
)

type createWebhookRequest struct {
	FormID               string              `json:"form_id"`
	Name                 string              `json:"name"`
	URL                  string              `json:"url"`
	EventTypes           []string            `json:"event_types"`
	Auth                 *webhook.AuthConfig `json:"auth,omitempty"`
	IncludeFields        []string            `json:"include_fields,omitempty"`
	ExcludeFields        []string            `json:"exclude_fields,omitempty"`
	AllowedIPs           []string            `json:"allowed_ips,omitempty"`
	FilterConditions     map[string]any      `json:"filter_conditions,omitempty"`
	Headers              map[string]string   `json:"headers,omitempty"`
	RetryCount           *int                `json:"retry_count,omitempty"`
	RetryIntervalSeconds int                 `json:"retry_interval_seconds,omitempty"`
	RateLimit            int                 `json:"rate_limit,omitempty"`
	DailyLimit           int                 `json:"daily_limit,omitempty"`
	Metadata             map[string]string   `json:"metadata,omitempty"`
}

func (req *createWebhookRequest) input() webhook.Input {
	return webhook.Input{
		FormID:               req.FormID,
		Name:                 req.Name,
		URL:                  req.URL,
		EventTypes:           req.EventTypes,
		Auth:                 req.Auth,
		IncludeFields:        req.IncludeFields,
		ExcludeFields:        req.ExcludeFields,
		AllowedIPs:           req.AllowedIPs,
		FilterConditions:     req.FilterConditions,
		Headers:              req.Headers,
		RetryCount:           req.RetryCount,
		RetryIntervalSeconds: req.RetryIntervalSeconds,
		RateLimit:            req.RateLimit,
		DailyLimit:           req.DailyLimit,
		Metadata:             req.Metadata,
	}
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.engine.Webhooks().Create(r.Context(), req.input())
	if err != nil {
		h.writeWebhookError(w, err)
		return
	}

	// The secret is returned exactly once, on creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	formID := queryParam(r, "form_id")
	if formID == "" {
		writeError(w, http.StatusBadRequest, "form_id query parameter is required")
		return
	}

	opts := webhook.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := queryParam(r, "approval"); v != "" {
		approval := webhook.Approval(v)
		if !approval.Valid() {
			writeError(w, http.StatusBadRequest, "invalid approval filter")
			return
		}
		opts.Approval = &approval
	}

	whs, err := h.engine.Webhooks().List(r.Context(), formID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, whs)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	wh, getErr := h.engine.Webhooks().Get(r.Context(), whID)
	if getErr != nil {
		h.writeWebhookError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, updateErr := h.engine.Webhooks().Update(r.Context(), whID, req.input())
	if updateErr != nil {
		h.writeWebhookError(w, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	if deleteErr := h.engine.Webhooks().Delete(r.Context(), whID); deleteErr != nil {
		h.writeWebhookError(w, deleteErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) disableWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	if setErr := h.engine.Webhooks().SetActive(r.Context(), whID, active); setErr != nil {
		h.writeWebhookError(w, setErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	newSecret, rotateErr := h.engine.Webhooks().RotateSecret(r.Context(), whID)
	if rotateErr != nil {
		h.writeWebhookError(w, rotateErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}

func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	result, testErr := h.engine.TestWebhook(r.Context(), whID)
	if testErr != nil {
		h.writeWebhookError(w, testErr)
		return
	}

	resp := map[string]any{
		"status_code": result.StatusCode,
		"latency_ms":  result.LatencyMs,
		"response":    result.Response,
	}
	if result.Error != "" {
		resp["error"] = result.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) approveWebhook(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Webhooks().Approve)
}

func (h *Handler) rejectWebhook(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Webhooks().Reject)
}

func (h *Handler) resetReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Webhooks().ResetReview)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, id.ID) error) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	if opErr := op(r.Context(), whID); opErr != nil {
		h.writeWebhookError(w, opErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approveAll(w http.ResponseWriter, r *http.Request) {
	formID := queryParam(r, "form_id")
	if formID == "" {
		writeError(w, http.StatusBadRequest, "form_id query parameter is required")
		return
	}

	n, err := h.engine.Webhooks().ApproveAll(r.Context(), formID)
	if err != nil {
		h.writeWebhookError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"approved": n})
}

// writeWebhookError maps webhook service errors to HTTP status codes.
func (h *Handler) writeWebhookError(w http.ResponseWriter, err error) {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, hooks.ErrWebhookNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, hooks.ErrWebhookHasHistory):
		writeError(w, http.StatusConflict, "webhook has delivery history; disable it instead")
	case errors.Is(err, webhook.ErrNotAdmin):
		writeError(w, http.StatusForbidden, "admin role required")
	case errors.Is(err, webhook.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid approval transition")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
