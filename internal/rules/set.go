package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Set holds one compiled engine per module plus the composite engine.
type Set struct {
	engines    map[domain.Module]*Engine
	composites *CompositeEngine
}

// NewSet compiles the built-in rule sets for every module. Rule sets in
// overrides replace built-ins with the same ID and are otherwise appended.
func NewSet(maxWorkers int, overrides *File) (*Set, error) {
	schemas := Schemas()
	builtin := BuiltinRuleSets()

	var extra map[domain.Module][]*domain.RuleSet
	if overrides != nil {
		extra = overrides.Overrides()
	}

	s := &Set{
		engines:    make(map[domain.Module]*Engine, len(schemas)),
		composites: NewCompositeEngine(),
	}

	for _, m := range domain.Modules() {
		engine, err := NewEngine(schemas[m], maxWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s engine: %w", m, err)
		}
		if err := engine.LoadRuleSets(merge(builtin[m], extra[m])); err != nil {
			return nil, fmt.Errorf("failed to load %s rules: %w", m, err)
		}
		s.engines[m] = engine
	}

	composites := BuiltinComposites()
	if overrides != nil {
		composites = mergeComposites(composites, overrides.Composites)
	}
	for _, c := range composites {
		if err := s.composites.LoadComposite(c); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Engine returns the engine for a module.
func (s *Set) Engine(m domain.Module) (*Engine, error) {
	e, ok := s.engines[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModule, m)
	}
	return e, nil
}

// Composites returns the composite engine.
func (s *Set) Composites() *CompositeEngine {
	return s.composites
}

// RuleSets returns the rule sets loaded for a module.
func (s *Set) RuleSets(m domain.Module) ([]*domain.RuleSet, error) {
	e, err := s.Engine(m)
	if err != nil {
		return nil, err
	}
	return e.RuleSets(), nil
}

// Count returns the total number of loaded rule sets.
func (s *Set) Count() int {
	n := 0
	for _, e := range s.engines {
		n += e.RuleSetCount()
	}
	return n
}

// Close releases every engine.
func (s *Set) Close() error {
	for _, e := range s.engines {
		e.Close()
	}
	return s.composites.Close()
}

func merge(base, extra []*domain.RuleSet) []*domain.RuleSet {
	out := make([]*domain.RuleSet, len(base))
	copy(out, base)
	for _, rs := range extra {
		replaced := false
		for i, b := range out {
			if b.ID == rs.ID {
				out[i] = rs
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, rs)
		}
	}
	return out
}

func mergeComposites(base, extra []*domain.Composite) []*domain.Composite {
	out := make([]*domain.Composite, len(base))
	copy(out, base)
	for _, c := range extra {
		replaced := false
		for i, b := range out {
			if b.ID == c.ID {
				out[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}
