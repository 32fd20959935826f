// Package catalog provides the violation rule catalog with CEL-based
// applicability expressions.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/sanctiond/internal/domain"
)

// Catalog holds the enabled violation rules in memory.
// Rules are loaded from the repository at startup and on reload.
type Catalog struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*compiledRule
}

type compiledRule struct {
	rule    *domain.ViolationRule
	program cel.Program // nil when the rule has no applicability expression
}

// RuleSource lists persisted rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*domain.ViolationRule, error)
}

var _ domain.RuleCatalog = (*Catalog)(nil)

// New creates an empty catalog.
func New() (*Catalog, error) {
	// structure exposes id, type_id and name to applicability expressions.
	env, err := cel.NewEnv(
		cel.Variable("structure", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Catalog{
		env:   env,
		rules: make(map[string]*compiledRule),
	}, nil
}

// Validate checks rule invariants and compiles its applicability expression
// without changing the loaded rules.
func (c *Catalog) Validate(rule *domain.ViolationRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	_, err := c.compile(rule)
	return err
}

// Load compiles and loads a rule. Loading a disabled rule removes it.
func (c *Catalog) Load(rule *domain.ViolationRule) error {
	if !rule.Enabled {
		c.Remove(rule.Code)
		return nil
	}

	compiled, err := c.compile(rule)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.rules[rule.Code] = compiled
	c.mu.Unlock()
	return nil
}

// Reload replaces every loaded rule. On error the previous set is kept.
func (c *Catalog) Reload(rules []*domain.ViolationRule) error {
	next := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := c.compile(rule)
		if err != nil {
			return err
		}
		next[rule.Code] = compiled
	}

	c.mu.Lock()
	c.rules = next
	c.mu.Unlock()
	return nil
}

// LoadFrom reloads the catalog from src.
func (c *Catalog) LoadFrom(ctx context.Context, src RuleSource) error {
	rules, err := src.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	return c.Reload(rules)
}

// Remove drops a rule from the catalog.
func (c *Catalog) Remove(code string) {
	c.mu.Lock()
	delete(c.rules, code)
	c.mu.Unlock()
}

// Rule returns an enabled rule by code.
func (c *Catalog) Rule(code string) (*domain.ViolationRule, error) {
	c.mu.RLock()
	compiled, ok := c.rules[code]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, code)
	}
	rule := *compiled.rule
	return &rule, nil
}

// Applicable returns the rule if it is enabled and applies to s.
func (c *Catalog) Applicable(code string, s *domain.Structure) (*domain.ViolationRule, error) {
	c.mu.RLock()
	compiled, ok := c.rules[code]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, code)
	}

	applies, err := compiled.appliesTo(s)
	if err != nil {
		return nil, err
	}
	if !applies {
		return nil, fmt.Errorf("%w: %s does not apply to structure type %q", domain.ErrRuleNotFound, code, s.TypeID)
	}

	rule := *compiled.rule
	return &rule, nil
}

// RulesFor returns the rules applicable to s ordered by code, or every rule when s is nil.
func (c *Catalog) RulesFor(s *domain.Structure) []*domain.ViolationRule {
	c.mu.RLock()
	loaded := make([]*compiledRule, 0, len(c.rules))
	for _, compiled := range c.rules {
		loaded = append(loaded, compiled)
	}
	c.mu.RUnlock()

	out := make([]*domain.ViolationRule, 0, len(loaded))
	for _, compiled := range loaded {
		if s != nil {
			if ok, err := compiled.appliesTo(s); err != nil || !ok {
				continue
			}
		}
		rule := *compiled.rule
		out = append(out, &rule)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count returns the number of loaded rules.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

func (c *Catalog) compile(rule *domain.ViolationRule) (*compiledRule, error) {
	compiled := &compiledRule{rule: rule}
	if rule.Applicability == "" {
		return compiled, nil
	}

	ast, issues := c.env.Compile(rule.Applicability)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile applicability of %s: %w", rule.Code, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: applicability must return bool, got %s", rule.Code, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.Code, err)
	}
	compiled.program = program
	return compiled, nil
}

func (r *compiledRule) appliesTo(s *domain.Structure) (bool, error) {
	if s == nil {
		return true, nil
	}
	if !r.rule.AppliesToType(s.TypeID) {
		return false, nil
	}
	if r.program == nil {
		return true, nil
	}

	out, _, err := r.program.Eval(map[string]any{
		"structure": map[string]string{
			"id":      s.ID,
			"type_id": s.TypeID,
			"name":    s.Name,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate applicability of %s: %w", r.rule.Code, err)
	}
	return out == types.True, nil
}
