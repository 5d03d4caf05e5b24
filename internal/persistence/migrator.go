package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

type migration struct {
	version string
	name    string
	up      string
	down    string
}

// Schema of the urn index, applied in version order.
var migrations = []migration{
	{
		version: "000001",
		name:    "urn_index",
		up: `
			CREATE SCHEMA IF NOT EXISTS urn_index;
			CREATE TABLE IF NOT EXISTS urn_index.urns (
				ilk         TEXT   NOT NULL,
				urn         TEXT   NOT NULL,
				first_block BIGINT NOT NULL,
				PRIMARY KEY (ilk, urn)
			);
			CREATE INDEX IF NOT EXISTS idx_urns_first_block ON urn_index.urns (first_block);
		`,
		down: `DROP TABLE IF EXISTS urn_index.urns`,
	},
	{
		version: "000002",
		name:    "index_progress",
		up: `
			CREATE TABLE IF NOT EXISTS urn_index.progress (
				vat        TEXT        PRIMARY KEY,
				last_block BIGINT      NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
		down: `DROP TABLE IF EXISTS urn_index.progress`,
	},
}

// Migrator applies the urn index schema.
type Migrator struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// Up applies all pending migrations in order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, mg := range migrations {
		if applied[mg.version] {
			continue
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", mg.version, err)
		}

		if _, err := tx.ExecContext(ctx, mg.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s_%s: %w", mg.version, mg.name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			mg.version, mg.version+"_"+mg.name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", mg.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", mg.version, err)
		}

		m.logger.Info().Str("version", mg.version).Str("name", mg.name).Msg("applied migration")
	}

	return nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version string
	err := m.db.QueryRowContext(ctx,
		`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	var mg *migration
	for i := range migrations {
		if migrations[i].version == version {
			mg = &migrations[i]
		}
	}
	if mg == nil {
		return fmt.Errorf("unknown migration version %s", version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, mg.down); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec down migration %s: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.logger.Info().Str("version", version).Str("name", mg.name).Msg("rolled back migration")
	return nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
