package rules

import (
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// File is the on-disk format of a rule override file.
//
//	rule_sets:
//	  - module: churn
//	    id: churn-probability
//	    ceiling: 0.9
//	    factors: [...]
type File struct {
	RuleSets   []FileRuleSet      `yaml:"rule_sets"`
	Composites []*domain.Composite `yaml:"composites"`
}

// FileRuleSet is a rule set bound to the module whose schema it uses.
type FileRuleSet struct {
	Module         string `yaml:"module"`
	domain.RuleSet `yaml:",inline"`
}

// LoadFile reads a YAML rule file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a YAML rule file and checks module names.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, rs := range f.RuleSets {
		if _, err := domain.ParseModule(rs.Module); err != nil {
			return nil, fmt.Errorf("rule set %d (%s): %w", i, rs.ID, err)
		}
		if rs.ID == "" {
			return nil, fmt.Errorf("%w: rule set %d has no id", domain.ErrInvalidInput, i)
		}
	}
	return &f, nil
}

// Overrides groups the file's rule sets by module.
func (f *File) Overrides() map[domain.Module][]*domain.RuleSet {
	out := make(map[domain.Module][]*domain.RuleSet)
	for i := range f.RuleSets {
		m, _ := domain.ParseModule(f.RuleSets[i].Module)
		rs := f.RuleSets[i].RuleSet
		out[m] = append(out[m], &rs)
	}
	return out
}
