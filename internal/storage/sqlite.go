package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/nakama/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Profiles are kept as JSON documents so
// loosely typed imports survive unchanged.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_source ON profiles(source);
	CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const selectProfiles = `SELECT id, data, created_at FROM profiles`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateProfile inserts a profile.
func (s *SQLiteStorage) CreateProfile(ctx context.Context, p *models.Profile) error {
	assignIdentity(p)
	return insertProfile(ctx, s.db, p)
}

func insertProfile(ctx context.Context, ex execer, p *models.Profile) error {
	data, err := json.Marshal(p.Document())
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO profiles (id, source, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Source, string(data), p.CreatedAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile %q: %w", p.Name, err)
	}
	return nil
}

// ImportDocument stores doc verbatim, replacing any profile with the same id.
func (s *SQLiteStorage) ImportDocument(ctx context.Context, id string, doc map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	source, _ := doc[models.FieldSource].(string)
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, source, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source = excluded.source, data = excluded.data, updated_at = excluded.updated_at`,
		id, source, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to import document: %w", err)
	}
	return id, nil
}

// GetProfile returns a profile by ID.
func (s *SQLiteStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, selectProfiles+` WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProfile removes a profile by ID.
func (s *SQLiteStorage) DeleteProfile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteProfilesBySource removes all profiles ingested from source.
func (s *SQLiteStorage) DeleteProfilesBySource(ctx context.Context, source string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ReplaceProfilesBySource deletes the old profiles and inserts the new ones in one transaction.
func (s *SQLiteStorage) ReplaceProfilesBySource(ctx context.Context, source string, profiles []*models.Profile) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", err)
	}
	replaced, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	for _, p := range profiles {
		p.Source = source
		assignIdentity(p)
		if err := insertProfile(ctx, tx, p); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit profiles: %w", err)
	}
	return replaced, nil
}

// ListProfiles returns every profile.
func (s *SQLiteStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return s.queryProfiles(ctx, selectProfiles+` ORDER BY created_at, rowid`)
}

// ListProfilesContaining returns profiles where any of fields contains any of values.
// json_each yields one row per array element, or a single row for a scalar.
func (s *SQLiteStorage) ListProfilesContaining(ctx context.Context, fields, values []string) ([]*models.Profile, error) {
	if err := checkFields(fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 || len(values) == 0 {
		return []*models.Profile{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)*(len(values)+1))
	for _, field := range fields {
		clauses = append(clauses,
			`EXISTS (SELECT 1 FROM json_each(profiles.data, ?) WHERE json_each.value IN (`+placeholders+`))`)
		args = append(args, "$."+field)
		for _, v := range values {
			args = append(args, v)
		}
	}
	return s.queryProfiles(ctx,
		selectProfiles+` WHERE `+strings.Join(clauses, " OR ")+` ORDER BY created_at, rowid`,
		args...,
	)
}

// CountProfiles returns the total number of profiles.
func (s *SQLiteStorage) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) queryProfiles(ctx context.Context, query string, args ...any) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []*models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*models.Profile, error) {
	var (
		id        string
		data      string
		createdAt time.Time
	)
	if err := row.Scan(&id, &data, &createdAt); err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", id, err)
	}
	p := models.ProfileFromDocument(id, doc)
	p.CreatedAt = createdAt
	return p, nil
}
