// Package flags provides the CEL-Go based engine that maintains the
// flag list on customer profiles.
package flags

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule defines one profile flag rule. The expression is evaluated on
// every profile update; when it holds, Flag is appended to the
// profile's flag list (deduplicated).
type Rule struct {
	ID         string `json:"id"`
	Flag       string `json:"flag"`
	Expression string `json:"expression"`
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Engine evaluates flag rules against profile state.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledRule
}

// NewEngine creates a flag rule engine with the profile variables in
// scope.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("max_amount", cel.DoubleType),
		cel.Variable("total_amount", cel.DoubleType),
		cel.Variable("tx_count", cel.IntType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// LoadRule compiles and loads a rule into the engine. The expression
// must evaluate to a boolean.
func (e *Engine) LoadRule(r Rule) error {
	if r.Flag == "" {
		return fmt.Errorf("rule %s: flag name is required", r.ID)
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = append(e.compiled, &compiledRule{rule: r, program: program})
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []Rule) error {
	for _, r := range rules {
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate returns the flags whose expressions hold for the given
// profile state after applying a transaction of the given amount and
// type. Expression evaluation errors skip that rule.
func (e *Engine) Evaluate(p *domain.CustomerProfile, amount float64, txType string) []string {
	e.mu.RLock()
	rules := append([]*compiledRule(nil), e.compiled...)
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	avgAmount := 0.0
	if p.TxCount > 0 {
		avgAmount = p.TotalAmount / float64(p.TxCount)
	}

	activation := map[string]any{
		"amount":       amount,
		"avg_amount":   avgAmount,
		"max_amount":   p.MaxAmount,
		"total_amount": p.TotalAmount,
		"tx_count":     p.TxCount,
		"risk_score":   p.RiskScore,
		"tx_type":      txType,
	}

	var matched []string
	for _, r := range rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matched = append(matched, r.rule.Flag)
		}
	}
	return matched
}
