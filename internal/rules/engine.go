// Package rules provides the CEL-Go based rule set evaluation engine.
package rules

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind is the CEL type of a schema variable.
type Kind int

const (
	KindDouble Kind = iota
	KindBool
	KindString
)

// Variable declares one input column visible to rule predicates.
type Variable struct {
	Name string
	Kind Kind
}

// Schema is the typed set of variables a module's rules can reference.
type Schema []Variable

// Engine is the CEL-based rule set evaluation engine.
// One engine serves one schema; each module owns its own engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	schema     Schema
	ruleSets   map[string]*CompiledRuleSet
	order      []string
	maxWorkers int
}

// CompiledRuleSet holds the pre-compiled CEL programs of a rule set.
type CompiledRuleSet struct {
	Config  *domain.RuleSet
	factors []compiledFactor
	tags    []compiledTag
}

type compiledFactor struct {
	name  string
	bands []compiledBand
}

type compiledBand struct {
	points  float64
	program cel.Program
}

type compiledTag struct {
	label   string
	program cel.Program
}

// NewEngine creates a new rule evaluation engine for the given schema.
func NewEngine(schema Schema, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := make([]cel.EnvOption, 0, len(schema))
	for _, v := range schema {
		switch v.Kind {
		case KindBool:
			opts = append(opts, cel.Variable(v.Name, cel.BoolType))
		case KindString:
			opts = append(opts, cel.Variable(v.Name, cel.StringType))
		default:
			opts = append(opts, cel.Variable(v.Name, cel.DoubleType))
		}
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		schema:     schema,
		ruleSets:   make(map[string]*CompiledRuleSet),
		maxWorkers: maxWorkers,
	}, nil
}

// Schema returns the variables the engine was built with.
func (e *Engine) Schema() Schema {
	return e.schema
}

// ValidateRuleSet compiles a rule set without loading it.
func (e *Engine) ValidateRuleSet(rs *domain.RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is required", domain.ErrInvalidInput)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRuleSet(rs)
	return err
}

// LoadRuleSet compiles and loads a rule set, replacing any with the same ID.
func (e *Engine) LoadRuleSet(rs *domain.RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is required", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRuleSet(rs)
	if err != nil {
		return err
	}

	if _, exists := e.ruleSets[rs.ID]; !exists {
		e.order = append(e.order, rs.ID)
	}
	e.ruleSets[rs.ID] = compiled
	return nil
}

// LoadRuleSets compiles and loads multiple rule sets.
func (e *Engine) LoadRuleSets(sets []*domain.RuleSet) error {
	for _, rs := range sets {
		if err := e.LoadRuleSet(rs); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRuleSets atomically replaces every loaded rule set.
func (e *Engine) ReloadRuleSets(sets []*domain.RuleSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make(map[string]*CompiledRuleSet, len(sets))
	order := make([]string, 0, len(sets))
	for _, rs := range sets {
		c, err := e.compileRuleSet(rs)
		if err != nil {
			return err
		}
		if _, dup := compiled[rs.ID]; !dup {
			order = append(order, rs.ID)
		}
		compiled[rs.ID] = c
	}

	e.ruleSets = compiled
	e.order = order
	return nil
}

// RuleSet returns a loaded rule set definition.
func (e *Engine) RuleSet(id string) (*domain.RuleSet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.ruleSets[id]
	if !ok {
		return nil, false
	}
	return c.Config, true
}

// RuleSets returns the loaded rule sets in load order.
func (e *Engine) RuleSets() []*domain.RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleSet, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.ruleSets[id].Config)
	}
	return out
}

// RuleSetCount returns the number of loaded rule sets.
func (e *Engine) RuleSetCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ruleSets)
}

// Evaluate scores a single row against a rule set.
func (e *Engine) Evaluate(ctx context.Context, setID string, row domain.Row) (domain.RuleResult, error) {
	rs, err := e.lookup(setID)
	if err != nil {
		return domain.RuleResult{}, err
	}
	return e.evaluate(rs, e.activation(row)), nil
}

// EvaluateAll scores every row against a rule set in parallel.
// Results are returned in input order.
func (e *Engine) EvaluateAll(ctx context.Context, setID string, rows []domain.Row) ([]domain.RuleResult, error) {
	rs, err := e.lookup(setID)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return []domain.RuleResult{}, nil
	}

	results := make([]domain.RuleResult, len(rows))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(idx int, r domain.Row) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluate(rs, e.activation(r))
		}(i, row)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ruleSets = make(map[string]*CompiledRuleSet)
	e.order = nil
	return nil
}

func (e *Engine) lookup(setID string) (*CompiledRuleSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rs, ok := e.ruleSets[setID]
	if !ok {
		return nil, fmt.Errorf("%w: rule set %s", domain.ErrNotFound, setID)
	}
	return rs, nil
}

// activation coerces row values to the schema types. Missing or malformed
// values become 0, false or "".
func (e *Engine) activation(row domain.Row) map[string]any {
	act := make(map[string]any, len(e.schema))
	for _, v := range e.schema {
		switch v.Kind {
		case KindBool:
			act[v.Name] = row.Bool(v.Name)
		case KindString:
			act[v.Name] = row.String(v.Name)
		default:
			f := row.Float(v.Name)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				f = 0
			}
			act[v.Name] = f
		}
	}
	return act
}

// evaluate walks every factor in order. Within a factor the first band whose
// predicate is true contributes its points; evaluation errors count as no match.
func (e *Engine) evaluate(rs *CompiledRuleSet, act map[string]any) domain.RuleResult {
	result := domain.RuleResult{
		RuleSetID: rs.Config.ID,
	}

	raw := rs.Config.Base
	for _, f := range rs.factors {
		for _, b := range f.bands {
			matched, err := isTrue(b.program, act)
			if err != nil {
				result.Errors++
				continue
			}
			if matched {
				raw += b.points
				result.Contributions = append(result.Contributions, domain.Contribution{
					Factor: f.name,
					Points: b.points,
				})
				break
			}
		}
	}

	for _, t := range rs.tags {
		matched, err := isTrue(t.program, act)
		if err != nil {
			result.Errors++
			continue
		}
		if matched {
			result.Tags = append(result.Tags, t.label)
		}
	}

	result.Raw = raw
	result.Score = applyTransform(raw, rs.Config)
	return result
}

func isTrue(program cel.Program, act map[string]any) (bool, error) {
	out, _, err := program.Eval(act)
	if err != nil {
		return false, err
	}
	return toBool(out), nil
}

// toBool converts a CEL value to a predicate outcome.
func toBool(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return v != 0
	case types.Int:
		return v != 0
	default:
		return false
	}
}

// applyTransform maps raw points to a score within the rule set bounds.
func applyTransform(raw float64, rs *domain.RuleSet) float64 {
	score := raw
	if rs.Transform == domain.TransformLogistic {
		score = 1 / (1 + math.Exp(-raw))
	}
	if rs.Floor < rs.Ceiling {
		score = domain.Clamp(score, rs.Floor, rs.Ceiling)
	}
	return score
}

func (e *Engine) compileRuleSet(rs *domain.RuleSet) (*CompiledRuleSet, error) {
	if rs.ID == "" {
		return nil, fmt.Errorf("%w: rule set id is required", domain.ErrInvalidInput)
	}
	if rs.Floor > rs.Ceiling {
		return nil, fmt.Errorf("rule set %s: floor %.4f exceeds ceiling %.4f", rs.ID, rs.Floor, rs.Ceiling)
	}

	compiled := &CompiledRuleSet{Config: rs}

	for _, f := range rs.Factors {
		cf := compiledFactor{name: f.Name}
		for i, b := range f.Bands {
			program, err := e.compilePredicate(b.When)
			if err != nil {
				return nil, fmt.Errorf("rule set %s factor %s band %d: %w", rs.ID, f.Name, i, err)
			}
			cf.bands = append(cf.bands, compiledBand{points: b.Points, program: program})
		}
		compiled.factors = append(compiled.factors, cf)
	}

	for _, t := range rs.Tags {
		program, err := e.compilePredicate(t.When)
		if err != nil {
			return nil, fmt.Errorf("rule set %s tag %q: %w", rs.ID, t.Label, err)
		}
		compiled.tags = append(compiled.tags, compiledTag{label: t.Label, program: program})
	}

	return compiled, nil
}

func (e *Engine) compilePredicate(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("predicate %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}
	return program, nil
}
