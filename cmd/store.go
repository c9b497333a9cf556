package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fomcboard/indicator-cli/internal/catalog"
)

// openStore creates the configured catalog store backend.
func openStore(ctx context.Context) (catalog.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		if cfg.Store.Path == "" {
			return nil, eris.New("store: no sqlite path configured (set store.path)")
		}
		return catalog.NewSQLite(cfg.Store.Path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: no database_url configured (set store.database_url)")
		}
		return catalog.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", cfg.Store.Driver)
	}
}
