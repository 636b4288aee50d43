// Package store caches memos fetched from the API in a local SQLite database so the memo
// list is available offline.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"trailmemo/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS memos (
	memo_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL,
	title TEXT,
	audio_url TEXT NOT NULL,
	text TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	latitude REAL,
	longitude REAL,
	accuracy REAL,
	address TEXT,
	park_name TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS memos_created_at ON memos(created_at DESC);
`

// Store is the memo cache.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the cache location under the user cache directory.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "trailmemo", "memos.sqlite")
}

// Open opens or creates the cache at path. ":memory:" gives a private in-memory cache.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceMemos makes the cache mirror a fresh listing from the API.
func (s *Store) ReplaceMemos(ctx context.Context, memos []domain.Memo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memos`); err != nil {
		return fmt.Errorf("clear memos: %w", err)
	}
	for _, memo := range memos {
		if err := upsert(ctx, tx, memo); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertMemo stores one memo, typically the one just created.
func (s *Store) UpsertMemo(ctx context.Context, memo domain.Memo) error {
	return upsert(ctx, s.db, memo)
}

func (s *Store) DeleteMemo(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memos WHERE memo_id = ?`, id); err != nil {
		return fmt.Errorf("delete memo: %w", err)
	}
	return nil
}

// ListMemos returns cached memos, newest first.
func (s *Store) ListMemos(ctx context.Context) ([]domain.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memo_id, user_id, user_name, title, audio_url, text, duration_seconds,
			latitude, longitude, accuracy, address, park_name, created_at, updated_at
		FROM memos
		ORDER BY created_at DESC, memo_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query memos: %w", err)
	}
	defer rows.Close()

	var memos []domain.Memo
	for rows.Next() {
		var (
			m                             domain.Memo
			title, address, park          sql.NullString
			latitude, longitude, accuracy sql.NullFloat64
			createdAt, updatedAt          string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.UserName, &title, &m.AudioURL, &m.Text,
			&m.DurationSeconds, &latitude, &longitude, &accuracy, &address, &park,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan memo: %w", err)
		}
		if title.Valid {
			m.Title = &title.String
		}
		if park.Valid {
			m.ParkName = &park.String
		}
		if latitude.Valid && longitude.Valid {
			m.Location = &domain.MemoLocation{
				Latitude:  latitude.Float64,
				Longitude: longitude.Float64,
				Accuracy:  accuracy.Float64,
			}
			if address.Valid {
				m.Location.Address = &address.String
			}
		}
		if m.CreatedAt, err = domain.ParseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("memo %s: %w", m.ID, err)
		}
		if m.UpdatedAt, err = domain.ParseTimestamp(updatedAt); err != nil {
			return nil, fmt.Errorf("memo %s: %w", m.ID, err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, m domain.Memo) error {
	var latitude, longitude, accuracy sql.NullFloat64
	var address sql.NullString
	if m.Location != nil {
		latitude = sql.NullFloat64{Float64: m.Location.Latitude, Valid: true}
		longitude = sql.NullFloat64{Float64: m.Location.Longitude, Valid: true}
		accuracy = sql.NullFloat64{Float64: m.Location.Accuracy, Valid: true}
		address = nullString(m.Location.Address)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO memos (memo_id, user_id, user_name, title, audio_url, text, duration_seconds,
			latitude, longitude, accuracy, address, park_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memo_id) DO UPDATE SET
			user_id = excluded.user_id,
			user_name = excluded.user_name,
			title = excluded.title,
			audio_url = excluded.audio_url,
			text = excluded.text,
			duration_seconds = excluded.duration_seconds,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy = excluded.accuracy,
			address = excluded.address,
			park_name = excluded.park_name,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, m.ID, m.UserID, m.UserName, nullString(m.Title), m.AudioURL, m.Text, m.DurationSeconds,
		latitude, longitude, accuracy, address, nullString(m.ParkName),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert memo %s: %w", m.ID, err)
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// storedTimeLayout is fixed width so created_at orders chronologically as text.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}
