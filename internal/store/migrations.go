package store

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/jmoiron/sqlx"
)

//go:embed schema/postgres/*.sql schema/sqlite/*.sql
var schemaFS embed.FS

// Migration is one versioned schema script for the store's dialect
type Migration struct {
	Version *semver.Version
	SQL     string
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`

// Migrations returns the embedded migrations for dialect ordered by version.
func Migrations(dialect string) ([]Migration, error) {
	dir := path.Join("schema", dialect)
	entries, err := schemaFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".sql")
		version, err := semver.NewVersion(name)
		if err != nil {
			return nil, fmt.Errorf("invalid migration name %s: %w", entry.Name(), err)
		}
		body, err := schemaFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: version, SQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version.LessThan(migrations[j].Version)
	})
	return migrations, nil
}

// Migrate applies every migration newer than the latest recorded version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := Migrations(s.dialect)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if current != nil && !m.Version.GreaterThan(current) {
			continue
		}
		err := s.withTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
				m.Version.String(), now())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the newest applied migration, or nil for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (*semver.Version, error) {
	var applied []string
	if err := s.db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	var latest *semver.Version
	for _, raw := range applied {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded schema version %q: %w", raw, err)
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, nil
}
