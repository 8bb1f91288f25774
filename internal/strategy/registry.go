package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Registry manages the evaluator for each strategy kind. It is safe for
// concurrent use.
type Registry struct {
	evaluators map[domain.StrategyKind]Evaluator
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[domain.StrategyKind]Evaluator),
	}
}

// Register adds an evaluator under its kind. An existing evaluator for the
// same kind is replaced.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Kind()] = e
}

// Get retrieves the evaluator for a kind. It returns an error when the kind
// has no registered evaluator.
func (r *Registry) Get(kind domain.StrategyKind) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.evaluators[kind]
	if !ok {
		return nil, fmt.Errorf("strategy kind %q: not registered", kind)
	}
	return e, nil
}

// Kinds returns all registered kinds in sorted order.
func (r *Registry) Kinds() []domain.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.StrategyKind, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
