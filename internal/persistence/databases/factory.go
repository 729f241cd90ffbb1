package databases

import (
	"context"
	"fmt"
	"time"

	"docintel/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewManager wires the three storage backends from Settings. Each store
// falls back to an in-memory implementation when its DSN/address is empty,
// which is how package tests and local development run without external
// dependencies.
func NewManager(ctx context.Context, cfg config.Settings) (Manager, error) {
	var m Manager

	if len(cfg.Elastic.Addresses) > 0 && cfg.Elastic.Addresses[0] != "" {
		search, err := NewElasticSearch(cfg.Elastic.Addresses, cfg.Elastic.Index, cfg.Elastic.Analyzer)
		if err != nil {
			return Manager{}, fmt.Errorf("connect elasticsearch: %w", err)
		}
		m.Search = search
	} else {
		m.Search = NewMemorySearch()
	}

	if cfg.Qdrant.Host != "" {
		dsn := fmt.Sprintf("http://%s:%d", cfg.Qdrant.Host, cfg.Qdrant.GRPCPort)
		vector, err := NewQdrantVector(dsn, cfg.Qdrant.Collection, cfg.EmbeddingDimension)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant: %w", err)
		}
		m.Vector = vector
	} else {
		m.Vector = NewMemoryVector()
	}

	if cfg.Metadata.DSN != "" {
		pool, err := newPgPool(ctx, cfg.Metadata.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (metadata): %w", err)
		}
		m.Metadata = NewPostgresMetadata(pool)
	} else {
		m.Metadata = NewMemoryMetadata()
	}

	return m, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
