package db

import (
	"context"
	"fmt"
	"log"

	"lmsfetch/pkg/config"
)

// Open connects the catalog selected by cfg. It returns a nil Catalog when
// no driver is configured.
func Open(ctx context.Context, cfg config.CatalogConfig) (Catalog, error) {
	switch cfg.Driver {
	case config.CatalogNone:
		return nil, nil

	case config.CatalogMongo:
		client := NewClient(cfg.DSN, cfg.Database, cfg.Table)
		if err := client.Connect(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		log.Printf("Catalog: Connected to MongoDB %s.%s", cfg.Database, cfg.Table)
		return client, nil

	case config.CatalogPostgres:
		client := NewPostgresClient(PostgresConfig{DSN: cfg.DSN, MaxOpenConns: 2})
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return sqlCatalog(ctx, client, DialectPostgres, cfg.Table)

	case config.CatalogSQLite:
		client := NewSQLiteClient(cfg.DSN)
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		return sqlCatalog(ctx, client, DialectSQLite, cfg.Table)

	case config.CatalogSupabase:
		client := NewSupabaseClient(supabaseConfig(cfg))
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Supabase: %w", err)
		}
		cat, err := NewSupabaseCatalog(ctx, client, cfg.Table)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return cat, nil

	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

type closingProvider interface {
	DBProvider
	Close() error
}

func sqlCatalog(ctx context.Context, client closingProvider, dialect Dialect, table string) (Catalog, error) {
	cat, err := NewSQLCatalog(client, dialect, table)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := cat.EnsureSchema(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Printf("Catalog: Using table %s", table)
	return cat, nil
}

func supabaseConfig(cfg config.CatalogConfig) SupabaseConfig {
	return SupabaseConfig{
		ConnectionString: cfg.DSN,
		SupabaseURL:      cfg.SupabaseURL,
		SupabaseKey:      cfg.SupabaseKey,
		Password:         cfg.SupabasePassword,
		MaxOpenConns:     2,
	}
}
