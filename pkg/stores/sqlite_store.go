package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/mrakit/mrakit/pkg/mra"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// SQLiteStore implements Store on a local SQLite file in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting; the DSN flags do not cover it.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SaveTree stores a snapshot, replacing any previous (name, rank).
func (s *SQLiteStore) SaveTree(ctx context.Context, rec *TreeRecord) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO trees (name, rank, meta, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name, rank) DO UPDATE SET meta = excluded.meta, created_at = excluded.created_at`,
		rec.Name, rec.Rank, string(meta), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert tree: %w", err)
	}
	_ = res

	var treeID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM trees WHERE name = ? AND rank = ?`, rec.Name, rec.Rank).Scan(&treeID); err != nil {
		return fmt.Errorf("failed to resolve tree id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE tree_id = ?`, treeID); err != nil {
		return fmt.Errorf("failed to clear old nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tree_nodes (tree_id, key, node) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range rec.Nodes {
		if _, err := stmt.ExecContext(ctx, treeID, p.Key, p.Node); err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadTree retrieves the snapshot for (name, rank).
func (s *SQLiteStore) LoadTree(ctx context.Context, name string, rank int) (*TreeRecord, error) {
	var treeID int64
	var metaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, meta FROM trees WHERE name = ? AND rank = ?`, name, rank).
		Scan(&treeID, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tree: %w", err)
	}

	var meta mra.TreeMeta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}

	rec := &TreeRecord{Name: name, Rank: rank, Meta: meta}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, node FROM tree_nodes WHERE tree_id = ? ORDER BY id`, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p NodePair
		if err := rows.Scan(&p.Key, &p.Node); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		rec.Nodes = append(rec.Nodes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("node iteration failed: %w", err)
	}
	return rec, nil
}

// ListTrees returns the stored snapshot names.
func (s *SQLiteStore) ListTrees(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM trees ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteTree removes every rank's record under name.
func (s *SQLiteStore) DeleteTree(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trees WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete tree: %w", err)
	}
	return nil
}
