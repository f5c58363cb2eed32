package policy

import (
	"context"
	"sync"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
)

// Input is everything a rule may look at
type Input struct {
	Context  *models.SecurityContext
	Action   string
	Resource string
	PolicyID string
	RuleID   string
}

// Outcome is the result of evaluating one rule
type Outcome struct {
	Passed   bool
	Reason   string
	Metadata map[string]interface{}
}

// Pass returns a passing outcome
func Pass() Outcome {
	return Outcome{Passed: true}
}

// Fail returns a failing outcome with a reason
func Fail(reason string) Outcome {
	return Outcome{Reason: reason}
}

// RuleEvaluator decides one rule. Implementations must be safe for concurrent use.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, in Input) Outcome
}

// EvaluatorFunc adapts a function to RuleEvaluator
type EvaluatorFunc func(ctx context.Context, in Input) Outcome

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(ctx context.Context, in Input) Outcome {
	return f(ctx, in)
}

// Factory compiles a rule into an evaluator, rejecting malformed conditions
type Factory func(ctx context.Context, rule models.SecurityRule) (RuleEvaluator, error)

// Registry maps rule categories to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[models.RuleCategory]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.RuleCategory]Factory)}
}

// Register installs or replaces the factory for a category
func (r *Registry) Register(category models.RuleCategory, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[category] = factory
}

// Build compiles a rule with the factory registered for its category
func (r *Registry) Build(ctx context.Context, rule models.SecurityRule) (RuleEvaluator, error) {
	r.mu.RLock()
	factory, ok := r.factories[rule.Category]
	r.mu.RUnlock()
	if !ok {
		return nil, invalidRule(rule, "unsupported rule category", nil)
	}

	ev, err := factory(ctx, rule)
	if err != nil {
		return nil, invalidRule(rule, "invalid rule condition", err)
	}
	return ev, nil
}

func invalidRule(rule models.SecurityRule, message string, err error) error {
	return services.NewDomainError(services.ErrorTypeValidation, message, err).
		WithDetail("rule_id", rule.ID).
		WithDetail("category", string(rule.Category))
}
