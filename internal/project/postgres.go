package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kohai/internal/retry"
	"github.com/ashita-ai/kohai/migrations"
)

const (
	pgMaxRetries     = 3
	pgRetryBaseDelay = 10 * time.Millisecond
)

// PostgresStore keeps projects in a shared Postgres database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and runs pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("project: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("project: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("project: ping pool: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := runMigrations(ctx, s, migrations.Postgres(), logger); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// isRetriable returns true for Postgres error codes that indicate a transient conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

func (s *PostgresStore) write(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, pgMaxRetries, pgRetryBaseDelay, isRetriable, fn)
}

func (s *PostgresStore) Create(ctx context.Context, p NewProject) (Project, error) {
	p, err := p.normalize()
	if err != nil {
		return Project{}, err
	}
	id := uuid.New()
	err = s.write(ctx, func() error {
		// opened_at stays strictly increasing so Current is unambiguous.
		_, err := s.pool.Exec(ctx, `
			INSERT INTO projects (id, name, author, description, created_at, updated_at, opened_at)
			VALUES ($1, $2, $3, $4, now(), now(),
				GREATEST(now(), (SELECT COALESCE(MAX(opened_at), '-infinity') + interval '1 microsecond' FROM projects)))`,
			id, p.Name, p.Author, p.Description,
		)
		return err
	})
	if err != nil {
		return Project{}, fmt.Errorf("project: create: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Project, error) {
	return scanPostgresProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (s *PostgresStore) Find(ctx context.Context, name string) (Project, error) {
	return scanPostgresProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE lower(name) = lower($1) ORDER BY opened_at DESC LIMIT 1`,
		normalizeName(name)))
}

func (s *PostgresStore) Open(ctx context.Context, id uuid.UUID) (Project, error) {
	err := s.write(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE projects
			SET opened_at = GREATEST(now(), (SELECT MAX(opened_at) + interval '1 microsecond' FROM projects))
			WHERE id = $1`, id)
		return checkTag(tag, err)
	})
	if err != nil {
		return Project{}, fmt.Errorf("project: open %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Current(ctx context.Context) (Project, error) {
	return scanPostgresProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY opened_at DESC LIMIT 1`))
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY opened_at DESC LIMIT $1`, recentLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("project: list recent: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanPostgresProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, p NewProject) (Project, error) {
	p, err := p.normalize()
	if err != nil {
		return Project{}, err
	}
	err = s.write(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE projects SET name = $1, author = $2, description = $3, updated_at = now() WHERE id = $4`,
			p.Name, p.Author, p.Description, id)
		return checkTag(tag, err)
	})
	if err != nil {
		return Project{}, fmt.Errorf("project: update %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) SetThreadID(ctx context.Context, id uuid.UUID, threadID string) error {
	err := s.write(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE projects SET thread_id = $1, updated_at = now() WHERE id = $2`, threadID, id)
		return checkTag(tag, err)
	})
	if err != nil {
		return fmt.Errorf("project: set thread %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
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

func (s *PostgresStore) applyMigration(ctx context.Context, name, content string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, content); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
		return err
	})
}

func scanPostgresProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Author, &p.Description, &p.ThreadID, &p.CreatedAt, &p.UpdatedAt, &p.OpenedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("project: scan: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.OpenedAt = p.OpenedAt.UTC()
	return p, nil
}

func checkTag(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
