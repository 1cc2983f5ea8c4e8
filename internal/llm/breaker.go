package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
)

// Breaker wraps a Backend with a circuit breaker so a failing API does not
// cause retry storms. After enough consecutive failures the circuit opens
// and calls fail fast until the cooldown allows a probe through.
type Breaker struct {
	inner Backend
	cb    *gobreaker.CircuitBreaker[*Reply]
}

// WithBreaker protects inner with the configured breaker.
func WithBreaker(inner Backend, cfg config.BreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[*Reply](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1, // one probe in half-open state
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Route(ctx context.Context, prompt string) (string, error) {
	reply, err := b.cb.Execute(func() (*Reply, error) {
		text, err := b.inner.Route(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return &Reply{Text: text}, nil
	})
	if err != nil {
		return "", wrapBreakerErr(err)
	}
	return reply.Text, nil
}

func (b *Breaker) Generate(ctx context.Context, req Request) (*Reply, error) {
	reply, err := b.cb.Execute(func() (*Reply, error) {
		return b.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return reply, nil
}

// State exposes the breaker state for the status endpoint.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func wrapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("llm circuit open: %w", err)
	}
	return err
}
