package db

import (
	"context"
	"database/sql"

	"lmsfetch/pkg/domain"
)

// DBProvider is an interface for database clients that provide access to a sql.DB handle.
// PostgresClient, SQLiteClient and SupabaseClient can be used interchangeably.
type DBProvider interface {
	DB() *sql.DB
}

// Catalog records completed downloads. It is informational only and is never
// read back to decide what to download.
type Catalog interface {
	SaveDownload(ctx context.Context, rec *domain.DownloadRecord) error
	Close(ctx context.Context) error
}
