package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
	"github.com/formatic/hooks/webhook"
)

// --- Webhook models ---

type webhookModel struct {
	grove.BaseModel `grove:"table:hooks_webhooks"`

	ID               string            `grove:"id,pk"`
	FormID           string            `grove:"form_id"`
	Name             string            `grove:"name"`
	URL              string            `grove:"url"`
	Secret           string            `grove:"secret"`
	EventTypes       []string          `grove:"event_types,array"`
	AuthType         string            `grove:"auth_type"`
	AuthToken        string            `grove:"auth_token"`
	AuthUsername     string            `grove:"auth_username"`
	AuthPassword     string            `grove:"auth_password"`
	IncludeFields    []string          `grove:"include_fields,array"`
	ExcludeFields    []string          `grove:"exclude_fields,array"`
	AllowedIPs       []string          `grove:"allowed_ips,array"`
	FilterConditions json.RawMessage   `grove:"filter_conditions,type:jsonb"`
	Headers          map[string]string `grove:"headers,type:jsonb"`
	Active           bool              `grove:"active"`
	Approval         string            `grove:"approval"`
	RetryCount       int               `grove:"retry_count"`
	RetryIntervalMs  int64             `grove:"retry_interval_ms"`
	RateLimit        int               `grove:"rate_limit"`
	DailyLimit       int               `grove:"daily_limit"`
	DailyUsage       int               `grove:"daily_usage"`
	DailyResetAt     time.Time         `grove:"daily_reset_at"`
	Metadata         map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt        time.Time         `grove:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	conditions, _ := json.Marshal(wh.FilterConditions) //nolint:errcheck // best-effort serialization
	return &webhookModel{
		ID:               wh.ID.String(),
		FormID:           wh.FormID,
		Name:             wh.Name,
		URL:              wh.URL,
		Secret:           wh.Secret,
		EventTypes:       wh.EventTypes,
		AuthType:         string(wh.Auth.Type),
		AuthToken:        wh.Auth.Token,
		AuthUsername:     wh.Auth.Username,
		AuthPassword:     wh.Auth.Password,
		IncludeFields:    wh.IncludeFields,
		ExcludeFields:    wh.ExcludeFields,
		AllowedIPs:       wh.AllowedIPs,
		FilterConditions: conditions,
		Headers:          wh.Headers,
		Active:           wh.Active,
		Approval:         string(wh.Approval),
		RetryCount:       wh.RetryCount,
		RetryIntervalMs:  wh.RetryInterval.Milliseconds(),
		RateLimit:        wh.RateLimit,
		DailyLimit:       wh.DailyLimit,
		DailyUsage:       wh.DailyUsage,
		DailyResetAt:     wh.DailyResetAt,
		Metadata:         wh.Metadata,
		CreatedAt:        wh.CreatedAt,
		UpdatedAt:        wh.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}

	var conditions map[string]any
	if len(m.FilterConditions) > 0 {
		if err := json.Unmarshal(m.FilterConditions, &conditions); err != nil {
			return nil, fmt.Errorf("unmarshal filter conditions for %q: %w", m.ID, err)
		}
	}

	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         whID,
		FormID:     m.FormID,
		Name:       m.Name,
		URL:        m.URL,
		Secret:     m.Secret,
		EventTypes: m.EventTypes,
		Auth: webhook.AuthConfig{
			Type:     webhook.AuthType(m.AuthType),
			Token:    m.AuthToken,
			Username: m.AuthUsername,
			Password: m.AuthPassword,
		},
		IncludeFields:    m.IncludeFields,
		ExcludeFields:    m.ExcludeFields,
		AllowedIPs:       m.AllowedIPs,
		FilterConditions: conditions,
		Headers:          m.Headers,
		Active:           m.Active,
		Approval:         webhook.Approval(m.Approval),
		RetryCount:       m.RetryCount,
		RetryInterval:    time.Duration(m.RetryIntervalMs) * time.Millisecond,
		RateLimit:        m.RateLimit,
		DailyLimit:       m.DailyLimit,
		DailyUsage:       m.DailyUsage,
		DailyResetAt:     m.DailyResetAt,
		Metadata:         m.Metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:hooks_events"`

	ID           string          `grove:"id,pk"`
	Type         string          `grove:"type"`
	FormID       string          `grove:"form_id"`
	FormTitle    string          `grove:"form_title"`
	SubmissionID string          `grove:"submission_id"`
	Data         json.RawMessage `grove:"data,type:jsonb"`
	OccurredAt   time.Time       `grove:"occurred_at"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	data, _ := json.Marshal(evt.Data) //nolint:errcheck // best-effort serialization
	return &eventModel{
		ID:           evt.ID.String(),
		Type:         evt.Type,
		FormID:       evt.FormID,
		FormTitle:    evt.FormTitle,
		SubmissionID: evt.SubmissionID,
		Data:         data,
		OccurredAt:   evt.OccurredAt,
		CreatedAt:    evt.CreatedAt,
		UpdatedAt:    evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}

	var data map[string]any
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return nil, fmt.Errorf("unmarshal event data for %q: %w", m.ID, err)
		}
	}

	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           evtID,
		Type:         m.Type,
		FormID:       m.FormID,
		FormTitle:    m.FormTitle,
		SubmissionID: m.SubmissionID,
		Data:         data,
		OccurredAt:   m.OccurredAt,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:hooks_deliveries"`

	ID             string          `grove:"id,pk"`
	EventID        string          `grove:"event_id"`
	WebhookID      string          `grove:"webhook_id"`
	State          string          `grove:"state"`
	AttemptCount   int             `grove:"attempt_count"`
	MaxAttempts    int             `grove:"max_attempts"`
	NextAttemptAt  time.Time       `grove:"next_attempt_at"`
	Data           json.RawMessage `grove:"data,type:jsonb"`
	LastError      string          `grove:"last_error"`
	LastStatusCode int             `grove:"last_status_code"`
	LastLatencyMs  int             `grove:"last_latency_ms"`
	CompletedAt    *time.Time      `grove:"completed_at"`
	LockedAt       *time.Time      `grove:"locked_at"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	data, _ := json.Marshal(d.Data) //nolint:errcheck // best-effort serialization
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		WebhookID:      d.WebhookID.String(),
		State:          string(d.State),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
		Data:           data,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		LastLatencyMs:  d.LastLatencyMs,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}

	var data map[string]any
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return nil, fmt.Errorf("unmarshal delivery data for %q: %w", m.ID, err)
		}
	}

	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		EventID:        evtID,
		WebhookID:      whID,
		State:          delivery.State(m.State),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		Data:           data,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		LastLatencyMs:  m.LastLatencyMs,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- Attempt models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:hooks_attempts"`

	ID            string     `grove:"id,pk"`
	DeliveryID    string     `grove:"delivery_id"`
	WebhookID     string     `grove:"webhook_id"`
	EventID       string     `grove:"event_id"`
	EventType     string     `grove:"event_type"`
	Seq           int        `grove:"seq"`
	Status        string     `grove:"status"`
	RequestBody   string     `grove:"request_body"`
	ResponseBody  string     `grove:"response_body"`
	StatusCode    int        `grove:"status_code"`
	ErrorMessage  string     `grove:"error_message"`
	LatencyMs     int        `grove:"latency_ms"`
	StartedAt     time.Time  `grove:"started_at"`
	CompletedAt   *time.Time `grove:"completed_at"`
	NextAttemptAt *time.Time `grove:"next_attempt_at"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:            a.ID.String(),
		DeliveryID:    a.DeliveryID.String(),
		WebhookID:     a.WebhookID.String(),
		EventID:       a.EventID.String(),
		EventType:     a.EventType,
		Seq:           a.Seq,
		Status:        string(a.Status),
		RequestBody:   a.RequestBody,
		ResponseBody:  a.ResponseBody,
		StatusCode:    a.StatusCode,
		ErrorMessage:  a.ErrorMessage,
		LatencyMs:     a.LatencyMs,
		StartedAt:     a.StartedAt,
		CompletedAt:   a.CompletedAt,
		NextAttemptAt: a.NextAttemptAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            attID,
		DeliveryID:    delID,
		WebhookID:     whID,
		EventID:       evtID,
		EventType:     m.EventType,
		Seq:           m.Seq,
		Status:        delivery.AttemptStatus(m.Status),
		RequestBody:   m.RequestBody,
		ResponseBody:  m.ResponseBody,
		StatusCode:    m.StatusCode,
		ErrorMessage:  m.ErrorMessage,
		LatencyMs:     m.LatencyMs,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		NextAttemptAt: m.NextAttemptAt,
	}, nil
}
