package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/signature"
	"github.com/formatic/hooks/webhook"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

const userAgent = "Formatic-Hooks/1.0"

// Envelope is the JSON body delivered to webhook targets.
type Envelope struct {
	Event      string             `json:"event"`
	Form       EnvelopeForm       `json:"form"`
	Submission EnvelopeSubmission `json:"submission"`
	Timestamp  time.Time          `json:"timestamp"`
}

// EnvelopeForm identifies the form inside a delivery envelope.
type EnvelopeForm struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EnvelopeSubmission carries the submission inside a delivery envelope.
type EnvelopeSubmission struct {
	ID        string         `json:"id,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

// BuildEnvelope assembles the delivery body for one attempt. Data comes from
// the delivery's redacted snapshot, not the raw event.
func BuildEnvelope(evt *event.Event, d *Delivery, now time.Time) ([]byte, error) {
	env := Envelope{
		Event: evt.Type,
		Form: EnvelopeForm{
			ID:    evt.FormID,
			Title: evt.FormTitle,
		},
		Submission: EnvelopeSubmission{
			ID:        evt.SubmissionID,
			CreatedAt: evt.OccurredAt,
			Data:      d.Data,
		},
		Timestamp: now,
	}
	return json.Marshal(env)
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client  *http.Client
	resolve func(ctx context.Context, host string) ([]net.IP, error)
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		},
	}
}

// Send delivers the prepared body to a webhook target and returns the result.
func (s *Sender) Send(ctx context.Context, wh *webhook.Webhook, evt *event.Event, d *Delivery, body []byte) Result {
	if err := s.checkAllowedIPs(ctx, wh); err != nil {
		return Result{Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Formatic-Event", evt.Type)
	req.Header.Set("X-Formatic-Event-ID", d.EventID.String())
	req.Header.Set("X-Formatic-Delivery-ID", d.ID.String())

	// HMAC signature.
	ts := time.Now().Unix()
	sig := signature.Sign(body, wh.Secret, ts)
	req.Header.Set("X-Formatic-Signature", sig)
	req.Header.Set("X-Formatic-Timestamp", strconv.FormatInt(ts, 10))

	// Target authentication.
	switch wh.Auth.Type {
	case webhook.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+wh.Auth.Token)
	case webhook.AuthBasic:
		req.SetBasicAuth(wh.Auth.Username, wh.Auth.Password)
	}

	// Custom webhook headers.
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}

// checkAllowedIPs resolves the target host and verifies at least one address
// passes the webhook's outbound allow-list.
func (s *Sender) checkAllowedIPs(ctx context.Context, wh *webhook.Webhook) error {
	if len(wh.AllowedIPs) == 0 {
		return nil
	}

	u, err := url.Parse(wh.URL)
	if err != nil {
		return fmt.Errorf("parse target URL: %w", err)
	}

	ips, err := s.resolve(ctx, u.Hostname())
	if err != nil {
		return fmt.Errorf("resolve %s: %w", u.Hostname(), err)
	}

	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip); ok && wh.IPAllowed(addr.Unmap()) {
			return nil
		}
	}
	return fmt.Errorf("target %s resolves outside the allowed IP list", u.Hostname())
}
