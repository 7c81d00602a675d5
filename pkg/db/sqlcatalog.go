package db

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lmsfetch/pkg/domain"
)

// Dialect selects placeholder syntax
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var downloadColumns = []string{
	"ledger_key", "run_id", "course_id", "course_name", "file_name",
	"file_type", "url", "path", "bytes", "attempts", "downloaded_at",
}

// SQLCatalog stores download records in one table of a SQL database.
// Timestamps are stored as RFC 3339 text so the schema is the same on every dialect.
type SQLCatalog struct {
	provider DBProvider
	dialect  Dialect
	table    string
}

// NewSQLCatalog creates a catalog over provider's handle.
func NewSQLCatalog(provider DBProvider, dialect Dialect, table string) (*SQLCatalog, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLCatalog{provider: provider, dialect: dialect, table: table}, nil
}

// EnsureSchema creates the table if it does not exist.
func (c *SQLCatalog) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + c.table + ` (
	ledger_key TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	course_name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	url TEXT NOT NULL,
	path TEXT NOT NULL,
	bytes BIGINT NOT NULL,
	attempts INTEGER NOT NULL,
	downloaded_at TEXT NOT NULL
)`
	if _, err := c.provider.DB().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.table, err)
	}
	return nil
}

// SaveDownload inserts rec or replaces the row with the same ledger key.
func (c *SQLCatalog) SaveDownload(ctx context.Context, rec *domain.DownloadRecord) error {
	_, err := c.provider.DB().ExecContext(ctx, c.upsertStatement(),
		rec.Key, rec.RunID, rec.CourseID, rec.CourseName, rec.FileName,
		string(rec.FileType), rec.URL, rec.Path, rec.Bytes, rec.Attempts,
		rec.DownloadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save download %s: %w", rec.Key, err)
	}
	return nil
}

// Close closes the provider when it owns a connection.
func (c *SQLCatalog) Close(ctx context.Context) error {
	if closer, ok := c.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *SQLCatalog) upsertStatement() string {
	updates := make([]string, 0, len(downloadColumns)-1)
	for _, col := range downloadColumns[1:] {
		updates = append(updates, col+" = excluded."+col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (ledger_key) DO UPDATE SET %s",
		c.table,
		strings.Join(downloadColumns, ", "),
		placeholders(c.dialect, len(downloadColumns)),
		strings.Join(updates, ", "),
	)
}

func placeholders(dialect Dialect, n int) string {
	marks := make([]string, n)
	for i := range marks {
		if dialect == DialectPostgres {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}
