package explain

import (
	"time"

	"github.com/sony/gobreaker"
)

// guardedEmbedder wraps an Embedder in a circuit breaker so a flaky or
// absent embedding backend trips open after a run of failures instead of
// retrying every call (spec.md §4.7's "either unavailable" degraded path,
// without retry storms against a dead remote service).
type guardedEmbedder struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedEmbedder wraps inner with a gobreaker.CircuitBreaker tuned to
// trip after 3 consecutive failures and stay open for 30s before probing
// again.
func NewGuardedEmbedder(inner Embedder) Embedder {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "explain.embedder",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &guardedEmbedder{inner: inner, breaker: breaker}
}

func (g *guardedEmbedder) Encode(texts []string) ([][]float32, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Encode(texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}
