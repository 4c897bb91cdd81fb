package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/kohai/migrations"
)

// SQLiteFile is the database file name inside the data directory.
const SQLiteFile = "kohai.db"

const projectColumns = `id, name, author, description, thread_id, created_at, updated_at, opened_at`

// SQLiteStore keeps projects in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the project database under dir and
// runs pending migrations.
func OpenSQLite(ctx context.Context, dir string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("project: create data dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, SQLiteFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("project: open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("project: ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := runMigrations(ctx, s, migrations.SQLite(), logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Create(ctx context.Context, p NewProject) (Project, error) {
	p, err := p.normalize()
	if err != nil {
		return Project{}, err
	}
	id := uuid.New()
	now := time.Now().UnixNano()
	// opened_at stays strictly increasing so Current is unambiguous.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, author, description, thread_id, created_at, updated_at, opened_at)
		VALUES (?, ?, ?, ?, '', ?, ?, MAX(?, (SELECT COALESCE(MAX(opened_at), 0) + 1 FROM projects)))`,
		id.String(), p.Name, p.Author, p.Description, now, now, now,
	)
	if err != nil {
		return Project{}, fmt.Errorf("project: create: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String())
	return scanSQLiteProject(row)
}

func (s *SQLiteStore) Find(ctx context.Context, name string) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE lower(name) = lower(?) ORDER BY opened_at DESC LIMIT 1`,
		normalizeName(name))
	return scanSQLiteProject(row)
}

func (s *SQLiteStore) Open(ctx context.Context, id uuid.UUID) (Project, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET opened_at = MAX(?, (SELECT COALESCE(MAX(opened_at), 0) + 1 FROM projects))
		WHERE id = ?`,
		time.Now().UnixNano(), id.String(),
	)
	if err := checkAffected(res, err); err != nil {
		return Project{}, fmt.Errorf("project: open %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Current(ctx context.Context) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY opened_at DESC LIMIT 1`)
	return scanSQLiteProject(row)
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY opened_at DESC LIMIT ?`, recentLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("project: list recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id uuid.UUID, p NewProject) (Project, error) {
	p, err := p.normalize()
	if err != nil {
		return Project{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, author = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Author, p.Description, time.Now().UnixNano(), id.String(),
	)
	if err := checkAffected(res, err); err != nil {
		return Project{}, fmt.Errorf("project: update %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) SetThreadID(ctx context.Context, id uuid.UUID, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET thread_id = ?, updated_at = ? WHERE id = ?`,
		threadID, time.Now().UnixNano(), id.String(),
	)
	if err := checkAffected(res, err); err != nil {
		return fmt.Errorf("project: set thread %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`)
	return err
}

func (s *SQLiteStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStore) applyMigration(ctx context.Context, name, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, time.Now().UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProject(row rowScanner) (Project, error) {
	var (
		p                          Project
		id                         string
		created, updated, openedAt int64
	)
	err := row.Scan(&id, &p.Name, &p.Author, &p.Description, &p.ThreadID, &created, &updated, &openedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("project: scan: %w", err)
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return Project{}, fmt.Errorf("project: scan id %q: %w", id, err)
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.OpenedAt = time.Unix(0, openedAt).UTC()
	if updated == 0 {
		// Rows written before updated_at existed.
		p.UpdatedAt = p.CreatedAt
	} else {
		p.UpdatedAt = time.Unix(0, updated).UTC()
	}
	return p, nil
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
