package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const churnCSV = `customer_id,tenure_months,last_activity_days,support_tickets,feature_usage_score,monthly_revenue,segment
C-1,3,45,7,0.2,100,SMB
C-2,40,2,0,0.8,250,Enterprise
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func TestKnobs(t *testing.T) {
	p, err := knobs{"unemployment_rate=9", " window = 24h "}.params()
	if err != nil {
		t.Fatalf("params failed: %v", err)
	}
	if p.Scenario == nil || p.Window != "24h" {
		t.Errorf("unexpected params %+v", p)
	}

	if _, err := (knobs{"novalue"}).params(); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "kestrel dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRulesCommand(t *testing.T) {
	out, err := run(t, "rules", "credit")
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	if !strings.Contains(out, "credit-pd") || !strings.Contains(out, "credit-lgd") {
		t.Errorf("expected credit rule sets, got %q", out)
	}
	if strings.Contains(out, "churn-probability") {
		t.Error("expected only credit rule sets")
	}

	out, err = run(t, "rules", "churn", "--yaml")
	if err != nil {
		t.Fatalf("rules --yaml failed: %v", err)
	}
	if !strings.Contains(out, "rule_sets:") || !strings.Contains(out, "module: churn") {
		t.Errorf("unexpected yaml %q", out)
	}

	if _, err := run(t, "rules", "weather"); !errors.Is(err, domain.ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeCSV(t, churnCSV)

	out, err := run(t, "analyze", "churn", path, "--top", "1")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !strings.Contains(out, "Customer Churn: 2 rows") || !strings.Contains(out, "C-1") {
		t.Errorf("unexpected summary %q", out)
	}
	if strings.Contains(out, "C-2") {
		t.Error("expected only the riskiest entity with --top 1")
	}

	out, err = run(t, "analyze", "churn", path, "--json")
	if err != nil {
		t.Fatalf("analyze --json failed: %v", err)
	}
	var report domain.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Module != domain.ModuleChurn || len(report.Entities) != 2 {
		t.Errorf("unexpected report %+v", report)
	}

	if _, err := run(t, "analyze", "churn", path, "--set", "horizon=soon"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	path := writeCSV(t, churnCSV)
	dir := t.TempDir()

	out := filepath.Join(dir, "scored.csv")
	if _, err := run(t, "export", "churn", path, "-o", out); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 3 {
		t.Errorf("expected header and 2 rows, got %d lines", len(lines))
	}

	t.Setenv("KESTREL_SQLITE_PATH", filepath.Join(dir, "export.db"))
	if _, err := run(t, "export", "churn", path, "--format", "sql", "--table", "churn_scores"); err != nil {
		t.Fatalf("sql export failed: %v", err)
	}

	if _, err := run(t, "export", "churn", path, "--format", "xml"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
