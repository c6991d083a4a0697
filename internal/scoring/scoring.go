// Package scoring turns typed rows into scored entities using the rule engine.
package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Scorer scores datasets for every module.
type Scorer struct {
	rules    *rules.Set
	velocity *velocity.Service
}

// New creates a scorer backed by the given rule set.
func New(set *rules.Set, vel *velocity.Service) *Scorer {
	if vel == nil {
		vel = velocity.NewService()
	}
	return &Scorer{
		rules:    set,
		velocity: vel,
	}
}

// Rules returns the underlying rule set.
func (s *Scorer) Rules() *rules.Set {
	return s.rules
}

// Score builds one entity per row. Rows are never modified and the output
// preserves input order.
func (s *Scorer) Score(ctx context.Context, m domain.Module, rows []domain.Row, params domain.Params) ([]domain.ScoredEntity, error) {
	params = params.Normalize()

	switch m {
	case domain.ModuleChurn:
		return s.scoreChurn(ctx, rows)
	case domain.ModuleCredit:
		return s.scoreCredit(ctx, rows)
	case domain.ModuleFraud:
		return s.scoreFraud(ctx, rows)
	case domain.ModuleCyber:
		return s.scoreCyber(ctx, rows)
	case domain.ModuleESG:
		return s.scoreESG(ctx, rows, params.ESG)
	case domain.ModuleForecast:
		return s.scoreForecast(ctx, rows)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModule, m)
	}
}

func (s *Scorer) evaluate(ctx context.Context, m domain.Module, setID string, rows []domain.Row) ([]domain.RuleResult, error) {
	engine, err := s.rules.Engine(m)
	if err != nil {
		return nil, err
	}
	results, err := engine.EvaluateAll(ctx, setID, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", setID, err)
	}
	return results, nil
}

// idAllocator hands out IDs that are unique within one dataset.
type idAllocator struct {
	seen map[string]int
}

func newIDAllocator(n int) *idAllocator {
	return &idAllocator{seen: make(map[string]int, n)}
}

// next uses the row's ID column, or "row-N" when it is empty. Repeated IDs
// get a "#k" suffix.
func (a *idAllocator) next(row domain.Row, col string, i int) string {
	id := strings.TrimSpace(row.String(col))
	if id == "" {
		id = "row-" + strconv.Itoa(i+1)
	}
	n := a.seen[id]
	a.seen[id] = n + 1
	if n == 0 {
		return id
	}
	for k := n + 1; ; k++ {
		candidate := id + "#" + strconv.Itoa(k)
		if _, taken := a.seen[candidate]; !taken {
			a.seen[id] = k
			a.seen[candidate] = 1
			return candidate
		}
	}
}

// groupKey returns the first non-empty column value, or "Unknown".
func groupKey(row domain.Row, cols ...string) string {
	for _, c := range cols {
		if v := strings.TrimSpace(row.String(c)); v != "" {
			return v
		}
	}
	return "Unknown"
}

func nonNegative(v float64) float64 {
	v = domain.Finite(v)
	if v < 0 {
		return 0
	}
	return v
}
