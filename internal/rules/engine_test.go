package rules

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var testSchema = Schema{
	{Name: "amount", Kind: KindDouble},
	{Name: "flagged", Kind: KindBool},
	{Name: "kind", Kind: KindString},
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(testSchema, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RuleSetCount() != 0 {
		t.Errorf("expected 0 rule sets, got %d", engine.RuleSetCount())
	}
	if len(engine.Schema()) != 3 {
		t.Errorf("expected 3 schema variables, got %d", len(engine.Schema()))
	}
}

func TestLoadRuleSet(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	rs := &domain.RuleSet{
		ID:      "amount-check",
		Name:    "Amount Check",
		Ceiling: 1,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{{When: "amount > 100.0", Points: 0.5}}},
		},
	}

	if err := engine.LoadRuleSet(rs); err != nil {
		t.Fatalf("failed to load rule set: %v", err)
	}
	if engine.RuleSetCount() != 1 {
		t.Errorf("expected 1 rule set, got %d", engine.RuleSetCount())
	}

	// Reloading the same ID replaces it.
	if err := engine.LoadRuleSet(rs); err != nil {
		t.Fatalf("failed to reload rule set: %v", err)
	}
	if engine.RuleSetCount() != 1 {
		t.Errorf("expected 1 rule set after replace, got %d", engine.RuleSetCount())
	}
}

func TestLoadInvalidRuleSet(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	tests := []struct {
		name string
		rs   *domain.RuleSet
	}{
		{"nil", nil},
		{"missing id", &domain.RuleSet{}},
		{"bad syntax", &domain.RuleSet{ID: "bad", Factors: []domain.Factor{
			{Name: "x", Bands: []domain.Band{{When: "this is not valid CEL !!!"}}},
		}}},
		{"non-bool predicate", &domain.RuleSet{ID: "num", Factors: []domain.Factor{
			{Name: "x", Bands: []domain.Band{{When: "amount + 1.0"}}},
		}}},
		{"unknown variable", &domain.RuleSet{ID: "unknown", Factors: []domain.Factor{
			{Name: "x", Bands: []domain.Band{{When: "balance > 1.0"}}},
		}}},
		{"floor above ceiling", &domain.RuleSet{ID: "bounds", Floor: 1, Ceiling: 0}},
		{"bad tag", &domain.RuleSet{ID: "tag", Tags: []domain.TagRule{{Label: "x", When: "kind"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRuleSet(tt.rs); err == nil {
				t.Error("expected error")
			}
		})
	}

	if engine.RuleSetCount() != 0 {
		t.Errorf("invalid rule sets must not load, got %d", engine.RuleSetCount())
	}
}

func TestFirstMatchingBandWins(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID:      "tiers",
		Ceiling: 10,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{
				{When: "amount > 1000.0", Points: 3},
				{When: "amount > 100.0", Points: 2},
				{When: "true", Points: 1},
			}},
		},
	})

	tests := []struct {
		amount float64
		want   float64
	}{
		{5000, 3},
		{1000, 2},
		{150, 2},
		{100, 1},
		{0, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("amount=%v", tt.amount), func(t *testing.T) {
			res, err := engine.Evaluate(context.Background(), "tiers", domain.Row{"amount": tt.amount})
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			if res.Score != tt.want {
				t.Errorf("expected %v, got %v", tt.want, res.Score)
			}
			if len(res.Contributions) != 1 {
				t.Errorf("expected 1 contribution, got %d", len(res.Contributions))
			}
		})
	}
}

func TestMissingValuesCoerceToZero(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID:      "mixed",
		Ceiling: 10,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{{When: "amount == 0.0", Points: 1}}},
			{Name: "flagged", Bands: []domain.Band{{When: "!flagged", Points: 2}}},
			{Name: "kind", Bands: []domain.Band{{When: `kind == ""`, Points: 4}}},
		},
	})

	rows := []domain.Row{
		{},
		{"amount": "not a number", "flagged": "maybe"},
		{"amount": math.NaN()},
	}

	for i, row := range rows {
		res, err := engine.Evaluate(context.Background(), "mixed", row)
		if err != nil {
			t.Fatalf("row %d: evaluate failed: %v", i, err)
		}
		if res.Score != 7 {
			t.Errorf("row %d: expected 7, got %v", i, res.Score)
		}
		if res.Errors != 0 {
			t.Errorf("row %d: expected no errors, got %d", i, res.Errors)
		}
	}
}

func TestUnknownCategoryMatchesNoBand(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID:      "category",
		Ceiling: 1,
		Factors: []domain.Factor{
			{Name: "kind", Bands: []domain.Band{
				{When: `kind == "cash"`, Points: 0.2},
				{When: `kind == "card"`, Points: 0.1},
			}},
		},
	})

	res, _ := engine.Evaluate(context.Background(), "category", domain.Row{"kind": "wire"})
	if res.Score != 0 {
		t.Errorf("expected 0 for unknown category, got %v", res.Score)
	}
	if len(res.Contributions) != 0 {
		t.Errorf("expected no contributions, got %v", res.Contributions)
	}
}

func TestLogisticTransformAndClamp(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID:        "logit",
		Base:      -2.5,
		Transform: domain.TransformLogistic,
		Floor:     0.001,
		Ceiling:   0.95,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{
				{When: "amount > 100.0", Points: 6.5},
				{When: "amount < 0.0", Points: -10},
			}},
		},
	})

	tests := []struct {
		name   string
		amount float64
		want   float64
	}{
		{"intercept only", 50, 1 / (1 + math.Exp(2.5))},
		{"clamped to ceiling", 500, 0.95},
		{"clamped to floor", -1, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := engine.Evaluate(context.Background(), "logit", domain.Row{"amount": tt.amount})
			if math.Abs(res.Score-tt.want) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.want, res.Score)
			}
		})
	}
}

func TestTagRules(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID: "tags",
		Tags: []domain.TagRule{
			{Label: "Large", When: "amount > 1000.0"},
			{Label: "Flagged", When: "flagged"},
			{Label: "Cash", When: `kind == "cash"`},
		},
	})

	res, _ := engine.Evaluate(context.Background(), "tags", domain.Row{
		"amount":  2000.0,
		"flagged": false,
		"kind":    "cash",
	})

	if len(res.Tags) != 2 || res.Tags[0] != "Large" || res.Tags[1] != "Cash" {
		t.Errorf("expected [Large Cash], got %v", res.Tags)
	}
}

func TestEvaluateUnknownRuleSet(t *testing.T) {
	engine, _ := NewEngine(testSchema, 5)
	defer engine.Close()

	if _, err := engine.Evaluate(context.Background(), "missing", domain.Row{}); err == nil {
		t.Error("expected error for unknown rule set")
	}
	if _, err := engine.EvaluateAll(context.Background(), "missing", nil); err == nil {
		t.Error("expected error for unknown rule set")
	}
}

func TestParallelExecutionPreservesOrder(t *testing.T) {
	engine, _ := NewEngine(testSchema, 3)
	defer engine.Close()

	engine.LoadRuleSet(&domain.RuleSet{
		ID:      "identity",
		Ceiling: 1000,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{
				{When: "amount >= 500.0", Points: 500},
				{When: "amount >= 100.0", Points: 100},
				{When: "amount >= 0.0", Points: 1},
			}},
		},
	})

	rows := make([]domain.Row, 200)
	for i := range rows {
		rows[i] = domain.Row{"amount": float64(i * 5)}
	}

	results, err := engine.EvaluateAll(context.Background(), "identity", rows)
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != len(rows) {
		t.Fatalf("expected %d results, got %d", len(rows), len(results))
	}

	for i, r := range results {
		amount := float64(i * 5)
		want := 1.0
		switch {
		case amount >= 500:
			want = 500
		case amount >= 100:
			want = 100
		}
		if r.Score != want {
			t.Errorf("row %d: expected %v, got %v", i, want, r.Score)
		}
	}
}

func TestEvaluateAllEmpty(t *testing.T) {
	engine, _ := NewEngine(testSchema, 3)
	defer engine.Close()
	engine.LoadRuleSet(&domain.RuleSet{ID: "empty"})

	results, err := engine.EvaluateAll(context.Background(), "empty", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestEvaluateAllCancelled(t *testing.T) {
	engine, _ := NewEngine(testSchema, 3)
	defer engine.Close()
	engine.LoadRuleSet(&domain.RuleSet{ID: "cancel"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.EvaluateAll(ctx, "cancel", []domain.Row{{}, {}}); err == nil {
		t.Error("expected context error")
	}
}

func TestReloadRuleSets(t *testing.T) {
	engine, _ := NewEngine(testSchema, 3)
	defer engine.Close()

	engine.LoadRuleSets([]*domain.RuleSet{{ID: "a"}, {ID: "b"}})
	if err := engine.ReloadRuleSets([]*domain.RuleSet{{ID: "c"}}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	sets := engine.RuleSets()
	if len(sets) != 1 || sets[0].ID != "c" {
		t.Errorf("expected only c after reload, got %d sets", len(sets))
	}

	// A failing reload keeps the previous rule sets.
	bad := &domain.RuleSet{ID: "bad", Tags: []domain.TagRule{{Label: "x", When: "!!!"}}}
	if err := engine.ReloadRuleSets([]*domain.RuleSet{bad}); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := engine.RuleSet("c"); !ok {
		t.Error("expected c to survive failed reload")
	}
}
