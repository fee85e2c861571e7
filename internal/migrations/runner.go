// Package migrations applies the embedded SQL migrations at startup.
//
// Applied file names are tracked in schema_migrations, so Run is idempotent.
// Files are named NNN_description.sql and run in lexicographic order;
// 000_migrations_table.sql must stay first.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed *.sql
var sqlFiles embed.FS

// RequiredTables lists the tables CheckSchema expects after Run.
var RequiredTables = []string{
	"schema_migrations",
	"route_cache",
	"route_history",
}

type entry struct {
	version string // file name, the unique version key
	sql     string
}

// advisoryLockKey serialises Run across service instances sharing a
// database.
const advisoryLockKey int64 = 0x7461_7072_6f75_7465 // "taproute"

// Run applies all pending migrations while holding a session-level advisory
// lock. Each migration runs in its own transaction together with the insert
// recording its version.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	entries, err := loadEntries()
	if err != nil {
		return fmt.Errorf("migrations: load files: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("migrations: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() {
		// The lock is tied to the session, so use a fresh context: ctx may
		// already be cancelled.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			logger.Warn("migration lock release failed", zap.Error(err))
		}
	}()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return fmt.Errorf("migrations: ensure tracking table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return fmt.Errorf("migrations: read applied versions: %w", err)
	}

	var done []string
	for _, e := range pending(entries, applied) {
		if err := applyEntry(ctx, conn, e); err != nil {
			return fmt.Errorf("migrations: apply %q: %w", e.version, err)
		}
		logger.Info("migration applied", zap.String("version", e.version))
		done = append(done, e.version)
	}
	logger.Info("schema is up to date", zap.Strings("applied", done))
	return nil
}

// pending returns the entries not yet in applied, keeping file order.
func pending(entries []entry, applied map[string]bool) []entry {
	var out []entry
	for _, e := range entries {
		if !applied[e.version] {
			out = append(out, e)
		}
	}
	return out
}

// CheckSchema verifies that RequiredTables exist in the public schema.
func CheckSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range RequiredTables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
                SELECT 1
                FROM information_schema.tables
                WHERE table_schema = 'public'
                  AND table_name   = $1
            )`,
			table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("migrations: check table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("migrations: required table %q is missing", table)
		}
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *pgxpool.Conn) error {
	content, err := sqlFiles.ReadFile("000_migrations_table.sql")
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, string(content))
	return err
}

func appliedVersions(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// loadEntries returns the embedded files in lexicographic order, which
// embed.FS.ReadDir guarantees.
func loadEntries() ([]entry, error) {
	dirEntries, err := sqlFiles.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embedded dir: %w", err)
	}

	var out []entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".sql") {
			continue
		}
		content, err := sqlFiles.ReadFile(de.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", de.Name(), err)
		}
		out = append(out, entry{version: de.Name(), sql: string(content)})
	}
	return out, nil
}

func applyEntry(ctx context.Context, conn *pgxpool.Conn, e entry) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, e.sql); err != nil {
		return fmt.Errorf("exec sql: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`,
		e.version,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
