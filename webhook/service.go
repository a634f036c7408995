package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"net/url"
	"time"

	"github.com/formatic/hooks/actor"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
	"github.com/formatic/hooks/signature"
)

// Errors returned by webhook operations.
var (
	// ErrNotFound is returned when a webhook cannot be found.
	ErrNotFound = errors.New("webhook: not found")

	// ErrNotAdmin is returned when a non-admin actor attempts an approval
	// transition.
	ErrNotAdmin = errors.New("webhook: admin role required")

	// ErrInvalidTransition is returned for approval transitions the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("webhook: invalid approval transition")
)

// Service provides webhook registry operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new webhook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new webhook on a form. The webhook starts active but
// pending review; an admin caller's webhooks are approved immediately.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	if in.FormID == "" {
		return nil, &ValidationError{Field: "form_id", Message: "required"}
	}

	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type pattern required"}
	}

	if err := validateAllowedIPs(in.AllowedIPs); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	retryCount := DefaultRetryCount
	if in.RetryCount != nil && *in.RetryCount >= 0 {
		retryCount = *in.RetryCount
	}

	retryInterval := time.Duration(in.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	approval := ApprovalPending
	if a, ok := actor.FromContext(ctx); ok && a.IsAdmin() {
		approval = ApprovalApproved
	}

	auth := AuthConfig{Type: AuthNone}
	if in.Auth != nil {
		auth = *in.Auth
	}

	wh := &Webhook{
		Entity:           entity.New(),
		ID:               id.NewWebhookID(),
		FormID:           in.FormID,
		Name:             in.Name,
		URL:              in.URL,
		Secret:           secret,
		EventTypes:       in.EventTypes,
		Auth:             auth,
		IncludeFields:    in.IncludeFields,
		ExcludeFields:    in.ExcludeFields,
		AllowedIPs:       in.AllowedIPs,
		FilterConditions: in.FilterConditions,
		Headers:          in.Headers,
		Active:           true,
		Approval:         approval,
		RetryCount:       retryCount,
		RetryInterval:    retryInterval,
		RateLimit:        in.RateLimit,
		DailyLimit:       in.DailyLimit,
		Metadata:         in.Metadata,
	}

	if err := svc.store.CreateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	svc.logger.DebugContext(ctx, "webhook created",
		"webhook_id", wh.ID, "form_id", wh.FormID, "approval", wh.Approval)

	return wh, nil
}

// Get returns a webhook by ID.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, whID)
}

// Update modifies an existing webhook. Approval state is untouched.
func (svc *Service) Update(ctx context.Context, whID id.ID, in Input) (*Webhook, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		wh.URL = in.URL
	}
	if in.Name != "" {
		wh.Name = in.Name
	}
	if len(in.EventTypes) > 0 {
		wh.EventTypes = in.EventTypes
	}
	if in.Auth != nil {
		wh.Auth = *in.Auth
	}
	if in.IncludeFields != nil {
		wh.IncludeFields = in.IncludeFields
	}
	if in.ExcludeFields != nil {
		wh.ExcludeFields = in.ExcludeFields
	}
	if in.AllowedIPs != nil {
		if err := validateAllowedIPs(in.AllowedIPs); err != nil {
			return nil, err
		}
		wh.AllowedIPs = in.AllowedIPs
	}
	if in.FilterConditions != nil {
		wh.FilterConditions = in.FilterConditions
	}
	if in.Headers != nil {
		wh.Headers = in.Headers
	}
	if in.RetryCount != nil && *in.RetryCount >= 0 {
		wh.RetryCount = *in.RetryCount
	}
	if in.RetryIntervalSeconds > 0 {
		wh.RetryInterval = time.Duration(in.RetryIntervalSeconds) * time.Second
	}
	if in.RateLimit >= 0 {
		wh.RateLimit = in.RateLimit
	}
	if in.DailyLimit >= 0 {
		wh.DailyLimit = in.DailyLimit
	}
	if in.Metadata != nil {
		wh.Metadata = in.Metadata
	}

	wh.Touch()
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	return wh, nil
}

// Delete removes a webhook. Refused while delivery history references it.
func (svc *Service) Delete(ctx context.Context, whID id.ID) error {
	return svc.store.DeleteWebhook(ctx, whID)
}

// List returns webhooks for a form.
func (svc *Service) List(ctx context.Context, formID string, opts ListOpts) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, formID, opts)
}

// SetActive switches a webhook on or off. The owner controls this flag;
// it has no effect on the approval state.
func (svc *Service) SetActive(ctx context.Context, whID id.ID, active bool) error {
	return svc.store.SetActive(ctx, whID, active)
}

// Approve transitions a pending webhook to approved. Admin only.
func (svc *Service) Approve(ctx context.Context, whID id.ID) error {
	return svc.transition(ctx, whID, ApprovalApproved)
}

// Reject transitions a pending or approved webhook to rejected. Rejecting an
// approved webhook revokes it. Admin only.
func (svc *Service) Reject(ctx context.Context, whID id.ID) error {
	return svc.transition(ctx, whID, ApprovalRejected)
}

// ResetReview returns a rejected webhook to pending so it can be reviewed
// again. Admin only.
func (svc *Service) ResetReview(ctx context.Context, whID id.ID) error {
	return svc.transition(ctx, whID, ApprovalPending)
}

// ApproveAll approves every pending webhook on a form and returns the number
// transitioned. Admin only.
func (svc *Service) ApproveAll(ctx context.Context, formID string) (int, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, err
	}

	n, err := svc.store.ApproveAllPending(ctx, formID)
	if err != nil {
		return 0, err
	}

	svc.logger.DebugContext(ctx, "bulk approval", "form_id", formID, "approved", n)
	return n, nil
}

// RotateSecret generates a new signing secret for a webhook and returns it.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	wh.Secret = newSecret
	wh.Touch()
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return "", err
	}

	return newSecret, nil
}

func (svc *Service) transition(ctx context.Context, whID id.ID, to Approval) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return err
	}

	if !transitionAllowed(wh.Approval, to) {
		return ErrInvalidTransition
	}

	if err := svc.store.SetApproval(ctx, whID, to); err != nil {
		return err
	}

	svc.logger.DebugContext(ctx, "approval transition",
		"webhook_id", whID, "from", wh.Approval, "to", to)
	return nil
}

// transitionAllowed encodes the approval state machine:
// pending → approved, pending → rejected, approved → rejected (revoke),
// rejected → pending (reset review).
func transitionAllowed(from, to Approval) bool {
	switch from {
	case ApprovalPending:
		return to == ApprovalApproved || to == ApprovalRejected
	case ApprovalApproved:
		return to == ApprovalRejected
	case ApprovalRejected:
		return to == ApprovalPending
	}
	return false
}

func requireAdmin(ctx context.Context) error {
	a, ok := actor.FromContext(ctx)
	if !ok || !a.IsAdmin() {
		return ErrNotAdmin
	}
	return nil
}

func validateAllowedIPs(entries []string) error {
	for _, e := range entries {
		if _, err := netip.ParseAddr(e); err == nil {
			continue
		}
		if _, err := netip.ParsePrefix(e); err == nil {
			continue
		}
		return &ValidationError{Field: "allowed_ips", Message: "invalid IP or CIDR: " + e}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
