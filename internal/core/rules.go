package core

import (
	"context"
	"fmt"
	"sync"

	"taskledger/pkg/domain"
)

// Rule is a before-write hook. It inspects one staged change against the
// transaction's view and may reject it with a blocking violation.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view View, change domain.Change) (domain.Result, error)
}

// Hook is an after-commit hook. It observes a committed change and may
// append audit records or spawn follow-up transactions through hc.
type Hook interface {
	Name() string
	AfterCommit(ctx context.Context, hc *HookContext, change domain.Change) error
}

// RuleFunc adapts a function into a named Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(ctx context.Context, view View, change domain.Change) (domain.Result, error)
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Evaluate(ctx context.Context, view View, change domain.Change) (domain.Result, error) {
	return r.Fn(ctx, view, change)
}

// HookFunc adapts a function into a named Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, hc *HookContext, change domain.Change) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) AfterCommit(ctx context.Context, hc *HookContext, change domain.Change) error {
	return h.Fn(ctx, hc, change)
}

// RulesEngine is the ordered registry of before-write rules and after-commit
// hooks, keyed by entity type.
type RulesEngine struct {
	mu     sync.RWMutex
	before map[domain.EntityType][]Rule
	after  map[domain.EntityType][]Hook
}

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{
		before: make(map[domain.EntityType][]Rule),
		after:  make(map[domain.EntityType][]Hook),
	}
}

// NewDefaultRulesEngine builds an engine with the built-in rule and hook set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	for _, reg := range defaultRules() {
		for _, entity := range reg.entities {
			engine.RegisterBefore(entity, reg.rule)
		}
	}
	for _, reg := range defaultHooks() {
		for _, entity := range reg.entities {
			engine.RegisterAfter(entity, reg.hook)
		}
	}
	return engine
}

// RegisterBefore appends a before-write rule for entity.
func (e *RulesEngine) RegisterBefore(entity domain.EntityType, rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.before[entity] = append(e.before[entity], rule)
}

// RegisterAfter appends an after-commit hook for entity.
func (e *RulesEngine) RegisterAfter(entity domain.EntityType, hook Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.after[entity] = append(e.after[entity], hook)
}

// Rules returns the before-write rules registered for entity.
func (e *RulesEngine) Rules(entity domain.EntityType) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.before[entity]...)
}

// Hooks returns the after-commit hooks registered for entity.
func (e *RulesEngine) Hooks(entity domain.EntityType) []Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Hook(nil), e.after[entity]...)
}

// Validate runs the before-write rules for each change in staged order and
// stops at the first blocking violation. Non-blocking violations are
// accumulated in the returned result.
func (e *RulesEngine) Validate(ctx context.Context, view View, changes []domain.Change) (domain.Result, error) {
	var combined domain.Result
	for _, change := range changes {
		for _, rule := range e.Rules(change.Entity) {
			res, err := rule.Evaluate(ctx, view, change)
			if err != nil {
				return domain.Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
			}
			combined.Merge(res)
			if res.HasBlocking() {
				return combined, nil
			}
		}
	}
	return combined, nil
}

// RunAfterCommit runs the after-commit hooks for each change in staged order.
// A failing hook does not stop the remaining hooks; the first error is
// returned.
func (e *RulesEngine) RunAfterCommit(ctx context.Context, hc *HookContext, changes []domain.Change) error {
	var first error
	for _, change := range changes {
		for _, hook := range e.Hooks(change.Entity) {
			if err := hook.AfterCommit(ctx, hc, change); err != nil && first == nil {
				first = fmt.Errorf("hook %s: %w", hook.Name(), err)
			}
		}
	}
	return first
}
