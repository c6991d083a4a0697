package export

// Schema definitions for the export log.
// Compatible with both SQLite and PostgreSQL.

const schemaExports = `
CREATE TABLE IF NOT EXISTS kestrel_exports (
    id TEXT PRIMARY KEY,
    module TEXT NOT NULL,
    table_name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)
`

const schemaExportsIndex = `
CREATE INDEX IF NOT EXISTS idx_kestrel_exports_created ON kestrel_exports(created_at)
`

// AllSchemas returns the statements that prepare a database for exports.
func AllSchemas() []string {
	return []string{
		schemaExports,
		schemaExportsIndex,
	}
}
