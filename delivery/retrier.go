package delivery

import "time"

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the target acknowledged with 2xx.
	Delivered Decision = iota

	// Retry means the delivery should be attempted again later.
	Retry

	// Failed means the delivery exhausted its attempt budget.
	Failed
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// maxBackoffShift caps the exponential backoff doubling.
const maxBackoffShift = 16

// Retrier decides what to do after a delivery attempt.
type Retrier struct{}

// NewRetrier creates a retrier.
func NewRetrier() *Retrier {
	return &Retrier{}
}

// Decide determines what to do with a delivery after an attempt.
//
// Decision matrix:
//   - 2xx → Delivered
//   - anything else (4xx, 5xx, or transport error) → Retry while attempts
//     remain, else Failed. Every failure class shares the same bounded
//     policy; status codes are recorded but never change the outcome.
func (r *Retrier) Decide(res Result, d *Delivery) Decision {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return Delivered
	}

	if d.AttemptCount < d.MaxAttempts {
		return Retry
	}
	return Failed
}

// ComputeNextAttempt returns when attempt n+1 is due after the n-th failure:
// now + interval * 2^(n-1). The first retry waits one interval, the second
// two, the third four.
func (r *Retrier) ComputeNextAttempt(interval time.Duration, attemptCount int) time.Time {
	shift := attemptCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return time.Now().UTC().Add(interval << shift)
}
