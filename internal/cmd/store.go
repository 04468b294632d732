package cmd

import (
	"context"
	"fmt"

	"github.com/regspy/regspy/internal/config"
	"github.com/regspy/regspy/internal/core/store"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	db.StaleAfterDays = cfg.Cache.StaleAfterDays

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
