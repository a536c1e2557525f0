package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GatewayBreaker composes a sony/gobreaker/v2 circuit breaker per gateway
// name (mqtt, home_assistant, frigate, ...) around the outbound call path.
// This is a separate protection layer from the per-rule bookkeeping above:
// it trips on gateway-level flapping (an integration itself failing
// repeatedly) regardless of which rule triggered the call, while
// RecordRuleFailure/IsRuleAllowed track per-rule evaluation health.
type GatewayBreaker struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewGatewayBreaker constructs an empty registry of per-gateway breakers,
// created lazily on first use.
func NewGatewayBreaker() *GatewayBreaker {
	return &GatewayBreaker{breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (g *GatewayBreaker) breakerFor(gateway string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[gateway]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        gateway,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	g.breakers[gateway] = cb
	return cb
}

// Execute runs fn through the named gateway's breaker, short-circuiting
// with an error when the breaker is open.
func (g *GatewayBreaker) Execute(gateway string, fn func() (any, error)) (any, error) {
	cb := g.breakerFor(gateway)
	result, err := cb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", gateway, err)
	}
	return result, nil
}

// State reports the named gateway breaker's current state for status/
// diagnostic surfaces.
func (g *GatewayBreaker) State(gateway string) gobreaker.State {
	return g.breakerFor(gateway).State()
}
