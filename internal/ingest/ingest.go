// Package ingest reads uploaded CSV text into typed rows.
//
// Column types come from the module's rule schema when the column is known,
// otherwise from name heuristics. Malformed values never fail a row: numeric
// columns fall back to 0, boolean columns to false.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Dataset is a parsed upload.
type Dataset struct {
	Module  domain.Module
	Columns []string
	Rows    []domain.Row
	// Digest is the hex SHA-256 of the raw upload.
	Digest string
}

// Options bound a parse.
type Options struct {
	// MaxRows rejects uploads with more data rows. 0 means unlimited.
	MaxRows int
}

// Kind is the coerced type of a column.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

var (
	// identifier-like columns stay text even when their name looks numeric.
	textSuffixes = []string{"_id", "_date", "timestamp", "period", "_grade", "_purpose", "_type", "_agent", "_fingerprint"}

	numberHints = map[domain.Module][]string{
		domain.ModuleChurn:    {"revenue", "score", "months", "days", "tickets"},
		domain.ModuleCredit:   {"amount", "rate", "score", "months", "years", "value", "balance", "days", "income"},
		domain.ModuleFraud:    {"amount", "days", "velocity", "score"},
		domain.ModuleCyber:    {"code", "bytes", "duration", "attempts", "score"},
		domain.ModuleESG:      {"score", "footprint", "index", "independence", "emissions"},
		domain.ModuleForecast: {"revenue", "spend", "units", "price"},
	}

	boolHints = map[domain.Module][]string{
		domain.ModuleFraud: {"is_", "cross_", "high_risk"},
		domain.ModuleCyber: {"is_", "privilege_", "suspicious_"},
	}
)

// ColumnKind decides how a column of module m is coerced.
func ColumnKind(m domain.Module, column string) Kind {
	for _, v := range rules.Schemas()[m] {
		if v.Name != column {
			continue
		}
		switch v.Kind {
		case rules.KindDouble:
			return KindNumber
		case rules.KindBool:
			return KindBool
		default:
			return KindString
		}
	}

	for _, s := range textSuffixes {
		if strings.HasSuffix(column, s) {
			return KindString
		}
	}
	if strings.HasPrefix(column, "is_") {
		return KindBool
	}
	for _, h := range boolHints[m] {
		if strings.Contains(column, h) {
			return KindBool
		}
	}
	for _, h := range numberHints[m] {
		if strings.Contains(column, h) {
			return KindNumber
		}
	}
	return KindString
}

// Coerce converts a raw cell to the column's kind.
func Coerce(kind Kind, raw string) any {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindNumber:
		return domain.ParseFloat(raw)
	case KindBool:
		return domain.ParseBool(raw)
	default:
		return raw
	}
}

// Parse reads CSV text for module m. The first record is the header. Short
// records are padded with zero values and extra fields are dropped. An
// upload with no header yields an empty dataset.
func Parse(r io.Reader, m domain.Module, opts Options) (*Dataset, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModule, m)
	}

	h := sha256.New()
	reader := csv.NewReader(io.TeeReader(r, h))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	ds := &Dataset{Module: m, Columns: []string{}, Rows: []domain.Row{}}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		ds.Digest = hex.EncodeToString(h.Sum(nil))
		return ds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", domain.ErrInvalidInput, err)
	}

	kinds := make([]Kind, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		ds.Columns = append(ds.Columns, col)
		kinds[i] = ColumnKind(m, col)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read record %d: %w", domain.ErrInvalidInput, len(ds.Rows)+1, err)
		}
		if blank(record) {
			continue
		}
		if opts.MaxRows > 0 && len(ds.Rows) >= opts.MaxRows {
			return nil, fmt.Errorf("%w: dataset exceeds %d rows", domain.ErrInvalidInput, opts.MaxRows)
		}

		row := make(domain.Row, len(ds.Columns))
		for i, col := range ds.Columns {
			if col == "" {
				continue
			}
			raw := ""
			if i < len(record) {
				raw = record[i]
			}
			row[col] = Coerce(kinds[i], raw)
		}
		ds.Rows = append(ds.Rows, row)
	}

	ds.Digest = hex.EncodeToString(h.Sum(nil))
	return ds, nil
}

// ParseBytes is Parse over an in-memory upload.
func ParseBytes(data []byte, m domain.Module, opts Options) (*Dataset, error) {
	return Parse(bytes.NewReader(data), m, opts)
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
