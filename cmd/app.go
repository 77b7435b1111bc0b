package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/opencarto/territoria/internal/critstore"
	"github.com/opencarto/territoria/internal/db"
	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/registry"
)

// appEnv wires the shared backends for a command invocation.
type appEnv struct {
	pool  *pgxpool.Pool
	store critstore.Store
	reg   *registry.Registry
}

// initApp opens the configured store and criterion registry. The geo index
// is loaded separately since only some commands need it.
func initApp(ctx context.Context) (*appEnv, error) {
	env := &appEnv{}
	ttl := time.Duration(cfg.Criteria.CacheTTLSecs) * time.Second

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		env.pool = pool
		env.store = critstore.NewPostgres(pool, cfg.Ingest.BatchSize, cfg.Ingest.QueryChunk)
		env.reg = registry.New(registry.PostgresSource{Pool: pool}, ttl)
	case "sqlite":
		store, err := critstore.NewSQLite(cfg.Store.SQLitePath, cfg.Ingest.BatchSize, cfg.Ingest.QueryChunk)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite")
		}
		env.store = store
		env.reg = registry.New(registry.FileSource{Path: cfg.Criteria.SeedFile}, ttl)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	return env, nil
}

// loadIndex reads the territory index. It requires the postgres backend,
// where the geographic import lives.
func (env *appEnv) loadIndex(ctx context.Context) (*geo.Index, error) {
	if env.pool == nil {
		return nil, eris.New("territory index requires the postgres store")
	}
	return geo.LoadIndex(ctx, env.pool)
}

func (env *appEnv) Close() {
	if env.store != nil {
		_ = env.store.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
}
