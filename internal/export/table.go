// Package export flattens scored entities into a table and writes it to
// delimited text, JSON or a SQL database.
package export

import (
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Column names appended after the input columns.
const (
	ColRiskLevel = "risk_level"
	ColTags      = "tags"
)

// TagSeparator joins indicator tags in a single cell.
const TagSeparator = ";"

// Table is a flat export. Cells are float64, bool or string; a nil cell is
// a column the entity does not have.
type Table struct {
	Module  domain.Module
	Headers []string
	Rows    [][]any
}

// Build flattens entities. Headers are the input columns in the given
// order, then any other feature columns in first-seen order, then the
// module's derived columns: primary score, secondary score, derived metrics
// sorted by name, risk level and tags. A derived column whose name clashes
// with an input column is suffixed with "_derived".
func Build(m domain.Module, columns []string, entities []domain.ScoredEntity) *Table {
	seen := make(map[string]struct{})
	inputs := make([]string, 0, len(columns))
	addInput := func(c string) {
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		inputs = append(inputs, c)
	}
	for _, c := range columns {
		addInput(c)
	}
	for _, e := range entities {
		for _, c := range sortedKeys(e.Features) {
			addInput(c)
		}
	}

	metricSet := make(map[string]struct{})
	for _, e := range entities {
		for k := range e.DerivedMetrics {
			metricSet[k] = struct{}{}
		}
	}
	metrics := make([]string, 0, len(metricSet))
	for k := range metricSet {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)

	derivedName := func(name string) string {
		if _, clash := seen[name]; clash {
			name += "_derived"
		}
		seen[name] = struct{}{}
		return name
	}

	headers := append([]string{}, inputs...)
	primary := derivedName(m.PrimaryName())
	headers = append(headers, primary)
	secondary := ""
	if m.SecondaryName() != "" {
		secondary = derivedName(m.SecondaryName())
		headers = append(headers, secondary)
	}
	metricCols := make([]string, len(metrics))
	for i, k := range metrics {
		metricCols[i] = derivedName(k)
	}
	headers = append(headers, metricCols...)
	headers = append(headers, derivedName(ColRiskLevel), derivedName(ColTags))

	t := &Table{Module: m, Headers: headers, Rows: make([][]any, 0, len(entities))}
	for _, e := range entities {
		row := make([]any, 0, len(headers))
		for _, c := range inputs {
			row = append(row, e.Features[c])
		}
		row = append(row, e.PrimaryScore)
		if secondary != "" {
			if e.SecondaryScore != nil {
				row = append(row, *e.SecondaryScore)
			} else {
				row = append(row, nil)
			}
		}
		for _, k := range metrics {
			if v, ok := e.DerivedMetrics[k]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		row = append(row, string(e.RiskLevel), strings.Join(e.Tags, TagSeparator))
		t.Rows = append(t.Rows, row)
	}
	return t
}

// FromReport builds the table of a report.
func FromReport(r *domain.Report) *Table {
	return Build(r.Module, r.Columns, r.Entities)
}

func sortedKeys(r domain.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatCell renders a cell as text. Floats use the shortest representation
// that parses back to the same value.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

// Kind is the SQL storage class of a column.
type Kind int

const (
	KindText Kind = iota
	KindReal
	KindBool
)

// ColumnKinds infers one kind per column: real when every present cell is a
// float, bool when every present cell is a bool, text otherwise.
func (t *Table) ColumnKinds() []Kind {
	kinds := make([]Kind, len(t.Headers))
	for i := range t.Headers {
		var floats, bools, others int
		for _, row := range t.Rows {
			switch row[i].(type) {
			case nil:
			case float64:
				floats++
			case bool:
				bools++
			default:
				others++
			}
		}
		switch {
		case others == 0 && bools == 0 && floats > 0:
			kinds[i] = KindReal
		case others == 0 && floats == 0 && bools > 0:
			kinds[i] = KindBool
		default:
			kinds[i] = KindText
		}
	}
	return kinds
}
