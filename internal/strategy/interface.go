package strategy

import (
	"context"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Evaluator is the decision logic for one strategy kind. Tick re-evaluates a
// single instance against the current market: it may fetch the price, poll or
// create orders, and mutate the instance's runtime state in place. The engine
// owns scheduling, single-flight and persistence; an Evaluator must be safe
// to call concurrently for different instances.
//
// A nil error with no state change is a normal "nothing to do" tick. A
// returned error leaves the instance active; the engine logs it and the next
// tick retries the same step.
type Evaluator interface {
	Kind() domain.StrategyKind
	Tick(ctx context.Context, inst *domain.StrategyInstance) error
}

// Collaborators bundles the external services every evaluator depends on.
type Collaborators struct {
	Oracle domain.PriceOracle
	Orders domain.OrderService
}
