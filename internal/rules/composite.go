package rules

import (
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CompositeEngine evaluates weighted composites over row columns.
// It calculates weighted sums and compares them against a threshold.
type CompositeEngine struct {
	mu         sync.RWMutex
	composites map[string]*domain.Composite
}

// NewCompositeEngine creates a new composite evaluation engine.
func NewCompositeEngine() *CompositeEngine {
	return &CompositeEngine{
		composites: make(map[string]*domain.Composite),
	}
}

// LoadComposite adds or replaces a composite definition.
func (e *CompositeEngine) LoadComposite(c *domain.Composite) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: composite id is required", domain.ErrInvalidInput)
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("%w: composite %s has no components", domain.ErrInvalidInput, c.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.composites[c.ID] = c
	return nil
}

// Composite returns a loaded composite definition.
func (e *CompositeEngine) Composite(id string) (*domain.Composite, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.composites[id]
	return c, ok
}

// CompositeCount returns the number of loaded composites.
func (e *CompositeEngine) CompositeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.composites)
}

// Evaluate calculates the weighted sum of a composite for one row.
//
// Algorithm:
// 1. For each component, contribution = row[column] * weight
// 2. Sum the contributions and clamp to [Min, Max]
// 3. Compare against the threshold
func (e *CompositeEngine) Evaluate(id string, row domain.Row) (domain.CompositeResult, error) {
	e.mu.RLock()
	c, ok := e.composites[id]
	e.mu.RUnlock()
	if !ok {
		return domain.CompositeResult{}, fmt.Errorf("%w: composite %s", domain.ErrNotFound, id)
	}
	return evaluateComposite(c, row), nil
}

// EvaluateWith evaluates a composite using replacement weights and threshold.
// Components missing from weights keep their configured weight.
func (e *CompositeEngine) EvaluateWith(id string, row domain.Row, weights map[string]float64, threshold float64) (domain.CompositeResult, error) {
	e.mu.RLock()
	c, ok := e.composites[id]
	e.mu.RUnlock()
	if !ok {
		return domain.CompositeResult{}, fmt.Errorf("%w: composite %s", domain.ErrNotFound, id)
	}

	adjusted := *c
	adjusted.Threshold = threshold
	adjusted.Components = make([]domain.Weighted, len(c.Components))
	for i, comp := range c.Components {
		if w, ok := weights[comp.Column]; ok {
			comp.Weight = w
		}
		adjusted.Components[i] = comp
	}
	return evaluateComposite(&adjusted, row), nil
}

// Close cleans up the engine.
func (e *CompositeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.composites = make(map[string]*domain.Composite)
	return nil
}

func evaluateComposite(c *domain.Composite, row domain.Row) domain.CompositeResult {
	result := domain.CompositeResult{
		CompositeID:   c.ID,
		Threshold:     c.Threshold,
		Contributions: make([]domain.Contribution, 0, len(c.Components)),
	}

	var total float64
	for _, comp := range c.Components {
		contribution := row.Float(comp.Column) * comp.Weight
		total += contribution
		result.Contributions = append(result.Contributions, domain.Contribution{
			Factor: comp.Column,
			Points: contribution,
		})
	}

	if c.Min < c.Max {
		total = domain.Clamp(total, c.Min, c.Max)
	}

	result.Score = total
	result.MeetsThreshold = total >= c.Threshold
	return result
}
