package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/mailtally/internal/service"
)

// Options selects and configures a storage backend.
type Options struct {
	// URL is a postgres:// connection string. When set it takes precedence over Path.
	URL  string
	// Path is a SQLite file path, already expanded.
	Path string
}

// Open returns a migrated Store for opts.
func Open(ctx context.Context, opts Options) (service.Store, error) {
	var (
		store service.Store
		err   error
	)

	switch {
	case opts.URL != "":
		if !strings.HasPrefix(opts.URL, "postgres://") && !strings.HasPrefix(opts.URL, "postgresql://") {
			return nil, fmt.Errorf("unsupported database url scheme: %s", opts.URL)
		}
		store, err = NewPostgresStorage(ctx, opts.URL)
	default:
		store, err = NewSQLiteStorage(opts.Path)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}
