package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/filter"
	"github.com/formatic/hooks/observability"
	"github.com/formatic/hooks/quota"
	"github.com/formatic/hooks/ratelimit"
	"github.com/formatic/hooks/store"
	"github.com/formatic/hooks/webhook"
)

// Engine is the root webhook dispatch and delivery-tracking engine.
type Engine struct {
	config     Config
	store      store.Store
	webhookSvc *webhook.Service
	logSvc     *delivery.LogService
	engine     *delivery.Engine
	filter     *filter.Evaluator
	quota      quota.Guard
	limiter    *ratelimit.Limiter
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine instance.
type Option func(*Engine) error

// New creates a new Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		return nil, ErrNoStore
	}
	e.wireServices()
	return e, nil
}

// WithStore sets the persistence backend for the Engine instance.
func WithStore(s store.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Engine instance.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithQuotaGuard overrides the daily-quota guard. Defaults to the
// store-backed guard; pass a quota.RedisGuard for multi-node deployments.
func WithQuotaGuard(g quota.Guard) Option {
	return func(e *Engine) error {
		e.quota = g
		return nil
	}
}

// WithMetrics sets the metric instruments recorded by the engine.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithTracer sets the tracer used for per-delivery spans.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) error {
		e.tracer = t
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		e.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.RequestTimeout = d
		return nil
	}
}

// WithLogRetention sets how long terminal attempt log rows are kept.
func WithLogRetention(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.LogRetention = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.ShutdownTimeout = d
		return nil
	}
}
