package delivery_test

import (
	"testing"
	"time"

	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/id"
)

func TestRetrierDecide(t *testing.T) {
	retrier := delivery.NewRetrier()

	tests := []struct {
		name     string
		result   delivery.Result
		delivery *delivery.Delivery
		want     delivery.Decision
	}{
		{
			name:     "200 OK → Delivered",
			result:   delivery.Result{StatusCode: 200},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Delivered,
		},
		{
			name:     "201 Created → Delivered",
			result:   delivery.Result{StatusCode: 201},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Delivered,
		},
		{
			name:     "204 No Content → Delivered",
			result:   delivery.Result{StatusCode: 204},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Delivered,
		},
		{
			name:     "299 → Delivered",
			result:   delivery.Result{StatusCode: 299},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Delivered,
		},
		{
			name:     "400 Bad Request → Retry (transient config fixes happen)",
			result:   delivery.Result{StatusCode: 400},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "404 Not Found → Retry (within limits)",
			result:   delivery.Result{StatusCode: 404},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "429 Too Many Requests → Retry (within limits)",
			result:   delivery.Result{StatusCode: 429},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "500 Internal Server Error → Retry (within limits)",
			result:   delivery.Result{StatusCode: 500},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "503 Service Unavailable → Retry (within limits)",
			result:   delivery.Result{StatusCode: 503},
			delivery: &delivery.Delivery{AttemptCount: 2, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "0 (connection error) → Retry (within limits)",
			result:   delivery.Result{StatusCode: 0, Error: "connection refused"},
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 4},
			want:     delivery.Retry,
		},
		{
			name:     "500 → Failed (attempts exhausted)",
			result:   delivery.Result{StatusCode: 500},
			delivery: &delivery.Delivery{AttemptCount: 4, MaxAttempts: 4},
			want:     delivery.Failed,
		},
		{
			name:     "403 Forbidden → Failed (attempts exhausted)",
			result:   delivery.Result{StatusCode: 403},
			delivery: &delivery.Delivery{AttemptCount: 4, MaxAttempts: 4},
			want:     delivery.Failed,
		},
		{
			name:     "0 (timeout) → Failed (attempts exhausted)",
			result:   delivery.Result{StatusCode: 0, Error: "context deadline exceeded"},
			delivery: &delivery.Delivery{AttemptCount: 4, MaxAttempts: 4},
			want:     delivery.Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retrier.Decide(tt.result, tt.delivery)
			if got != tt.want {
				t.Errorf("Decide() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetrierComputeNextAttempt(t *testing.T) {
	retrier := delivery.NewRetrier()
	interval := time.Minute

	tests := []struct {
		name         string
		attemptCount int
		wantDelay    time.Duration
	}{
		{"attempt 1 → 1m", 1, time.Minute},
		{"attempt 2 → 2m", 2, 2 * time.Minute},
		{"attempt 3 → 4m", 3, 4 * time.Minute},
		{"attempt 4 → 8m", 4, 8 * time.Minute},
		{"attempt 17 → capped", 17, time.Minute << 16},
		{"attempt 100 → capped", 100, time.Minute << 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			next := retrier.ComputeNextAttempt(interval, tt.attemptCount)
			after := time.Now().UTC()

			expectedMin := before.Add(tt.wantDelay)
			expectedMax := after.Add(tt.wantDelay)

			if next.Before(expectedMin.Add(-time.Millisecond)) || next.After(expectedMax.Add(time.Millisecond)) {
				t.Errorf("ComputeNextAttempt(%d) = %v, expected between %v and %v",
					tt.attemptCount, next, expectedMin, expectedMax)
			}
		})
	}
}

func TestRetrierBoundaryAttemptCount(t *testing.T) {
	retrier := delivery.NewRetrier()

	// Attempt 0 must not shift negatively.
	_ = retrier.ComputeNextAttempt(time.Minute, 0)

	// Exactly at max attempts → Failed.
	d := &delivery.Delivery{
		ID:           id.NewDeliveryID(),
		AttemptCount: 3,
		MaxAttempts:  3,
	}
	got := retrier.Decide(delivery.Result{StatusCode: 500}, d)
	if got != delivery.Failed {
		t.Errorf("expected Failed at max attempts, got %d", got)
	}

	// One below max → Retry.
	d.AttemptCount = 2
	got = retrier.Decide(delivery.Result{StatusCode: 500}, d)
	if got != delivery.Retry {
		t.Errorf("expected Retry below max, got %d", got)
	}
}
