package storage

import (
	"context"

	"github.com/FooledKiwi/taproute/internal/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RunMigrations applies all pending SQL migrations and verifies the schema.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if err := migrations.Run(ctx, pool, logger); err != nil {
		return err
	}
	return migrations.CheckSchema(ctx, pool)
}
