package export

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// SQLSink writes tables to SQLite or PostgreSQL through database/sql.
type SQLSink struct {
	db     *sql.DB
	driver string
}

// Run records one completed SQL export.
type Run struct {
	ID        string        `json:"id"`
	Module    domain.Module `json:"module"`
	Table     string        `json:"table"`
	Rows      int           `json:"rows"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewSQLSink opens the configured database and creates the export log.
func NewSQLSink(cfg domain.ExportConfig) (*SQLSink, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLSink{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLSink) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Write replaces table name with t in a single transaction and logs the run.
func (s *SQLSink) Write(ctx context.Context, name string, t *Table) (*Run, error) {
	if !identifier.MatchString(name) || strings.HasPrefix(name, "kestrel_") {
		return nil, fmt.Errorf("%w: table name %q", domain.ErrInvalidInput, name)
	}
	if len(t.Headers) == 0 {
		return nil, fmt.Errorf("%w: table has no columns", domain.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return nil, fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.createTable(name, t)); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	cols := make([]string, len(t.Headers))
	marks := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		cols[i] = quote(h)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(name), strings.Join(cols, ", "), strings.Join(marks, ", "))

	stmt, err := tx.PrepareContext(ctx, s.rebind(insert))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	kinds := t.ColumnKinds()
	args := make([]any, len(t.Headers))
	for _, row := range t.Rows {
		for i, v := range row {
			args[i] = sqlValue(kinds[i], v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to insert row: %w", err)
		}
	}

	run := &Run{
		ID:        uuid.New().String(),
		Module:    t.Module,
		Table:     name,
		Rows:      len(t.Rows),
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO kestrel_exports (id, module, table_name, row_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, s.rebind(query), run.ID, string(run.Module), run.Table, run.Rows, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to log export: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export: %w", err)
	}
	return run, nil
}

// Runs lists logged exports, newest first.
func (s *SQLSink) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, module, table_name, row_count, created_at
		FROM kestrel_exports
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var module string
		if err := rows.Scan(&r.ID, &module, &r.Table, &r.Rows, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Module = domain.Module(module)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReadColumn returns the values of one column of an exported table, in
// insertion order. Missing values scan as nil.
func (s *SQLSink) ReadColumn(ctx context.Context, table, column string) ([]any, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("%w: table name %q", domain.ErrInvalidInput, table)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", quote(column), quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func (s *SQLSink) createTable(name string, t *Table) string {
	kinds := t.ColumnKinds()
	defs := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		defs[i] = quote(h) + " " + s.columnType(kinds[i])
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", "))
}

func (s *SQLSink) columnType(k Kind) string {
	switch k {
	case KindReal:
		if s.driver == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case KindBool:
		if s.driver == "postgres" {
			return "BOOLEAN"
		}
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func sqlValue(k Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindReal, KindBool:
		return v
	default:
		return FormatCell(v)
	}
}

// quote returns a double-quoted SQL identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLSink) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
