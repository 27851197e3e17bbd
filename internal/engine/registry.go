package engine

import (
	"context"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// Candidate is one target entity computed by a Resolver during dry run,
// carrying the provisional amount and the execution payload captured at
// preview time. A non-empty Invalid list marks the candidate SKIPPED.
type Candidate struct {
	Entity      domain.EntityRef
	AmountCents int64
	Payload     domain.JSONMap
	Invalid     []string
}

// Resolver computes the candidate set and provisional amounts for a dry run.
// One implementation exists per operation type. scope is nil for the full
// tenant-wide set.
type Resolver interface {
	Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]Candidate, error)
}

// Strategy performs the real side effect for one validated item. It must not
// depend on execution order across entities.
type Strategy interface {
	Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error)
}

// Registry maps operation types to their resolver/strategy pair, keeping the
// engine itself free of business-specific branching.
type Registry struct {
	resolvers  map[string]Resolver
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		resolvers:  make(map[string]Resolver),
		strategies: make(map[string]Strategy),
	}
}

// Register binds an operation type to its resolver and strategy.
func (r *Registry) Register(operationType string, resolver Resolver, strategy Strategy) {
	r.resolvers[operationType] = resolver
	r.strategies[operationType] = strategy
}

// Resolver returns the resolver for an operation type, or nil.
func (r *Registry) Resolver(operationType string) Resolver {
	return r.resolvers[operationType]
}

// Strategy returns the strategy for an operation type, or nil.
func (r *Registry) Strategy(operationType string) Strategy {
	return r.strategies[operationType]
}

// Operations lists the registered operation types.
func (r *Registry) Operations() []string {
	ops := make([]string, 0, len(r.resolvers))
	for op := range r.resolvers {
		ops = append(ops, op)
	}
	return ops
}
