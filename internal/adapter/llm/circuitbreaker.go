package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// CircuitBreakerProvider wraps a domain.LanguageModelProvider with circuit
// breaker protection. Complete and Embed trip independent breakers since a
// provider's chat and embedding endpoints can fail separately.
type CircuitBreakerProvider struct {
	inner        domain.LanguageModelProvider
	completeCB   *gobreaker.CircuitBreaker[*domain.ChatResponse]
	embedCB      *gobreaker.CircuitBreaker[[][]float32]
	logger       *slog.Logger
}

// NewCircuitBreakerProvider wraps inner with a circuit breaker. A zero-value
// cfg uses sensible defaults.
func NewCircuitBreakerProvider(inner domain.LanguageModelProvider, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := inner.Name()
	onStateChange := func(breakerName string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state change", "breaker", breakerName, "from", from.String(), "to", to.String())
	}
	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.MaxFailures
	}

	completeCB := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name: "llm:" + name + ":complete", MaxRequests: 1,
		Interval: cfg.Interval, Timeout: cfg.Timeout,
		ReadyToTrip: readyToTrip, OnStateChange: onStateChange,
	})
	embedCB := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name: "llm:" + name + ":embed", MaxRequests: 1,
		Interval: cfg.Interval, Timeout: cfg.Timeout,
		ReadyToTrip: readyToTrip, OnStateChange: onStateChange,
	})

	return &CircuitBreakerProvider{inner: inner, completeCB: completeCB, embedCB: embedCB, logger: logger}
}

// Complete implements domain.LanguageModelProvider, routed through the
// completion breaker.
func (p *CircuitBreakerProvider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.completeCB.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Complete(ctx, req)
	})
	return resp, translateBreakerErr(p.inner.Name(), err)
}

// Embed implements domain.LanguageModelProvider, routed through the
// embedding breaker.
func (p *CircuitBreakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedCB.Execute(func() ([][]float32, error) {
		return p.inner.Embed(ctx, texts)
	})
	return vecs, translateBreakerErr(p.inner.Name(), err)
}

// Dimensions implements domain.LanguageModelProvider.
func (p *CircuitBreakerProvider) Dimensions() int { return p.inner.Dimensions() }

// TestConnection implements domain.LanguageModelProvider, bypassing the
// breaker so health checks always reach the upstream directly.
func (p *CircuitBreakerProvider) TestConnection(ctx context.Context) error {
	return p.inner.TestConnection(ctx)
}

// Name implements domain.LanguageModelProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the completion breaker's current state, used for
// registry status reporting.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.completeCB.State() }

func translateBreakerErr(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.WrapError("llm.circuitbreaker", domain.KindTransient, err, "provider "+providerName+" circuit open")
	}
	return err
}

var _ domain.LanguageModelProvider = (*CircuitBreakerProvider)(nil)
