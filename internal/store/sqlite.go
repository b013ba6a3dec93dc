package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"github.com/tatianab/chronicle/internal/models"
)

// SQLiteStore keeps every slot as one row: the current document and the one
// it replaced, both as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		slot TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		previous TEXT,
		updated_at TEXT NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, slot string) (models.RawDocument, error) {
	if err := ValidSlot(slot); err != nil {
		return nil, err
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM slots WHERE slot = ?`, slot).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "load slot %s", slot)
	}
	return decodeJSON(body, slot)
}

func (s *SQLiteStore) Save(ctx context.Context, slot string, doc models.RawDocument) error {
	if err := ValidSlot(slot); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return oops.In("store").Wrapf(err, "encode slot %s", slot)
	}
	// One statement, so the old body moves to previous in the same write that
	// replaces it.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slots (slot, body, previous, updated_at) VALUES (?, ?, NULL, ?)
		ON CONFLICT(slot) DO UPDATE SET
			previous = slots.body,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		slot, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return oops.In("store").Wrapf(err, "save slot %s", slot)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, slot string) error {
	if err := ValidSlot(slot); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE slot = ?`, slot)
	if err != nil {
		return oops.In("store").Wrapf(err, "delete slot %s", slot)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]SlotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, updated_at, previous IS NOT NULL FROM slots ORDER BY slot`)
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "list slots")
	}
	defer rows.Close()

	slots := []SlotInfo{}
	for rows.Next() {
		var (
			info    SlotInfo
			updated string
		)
		if err := rows.Scan(&info.Slot, &updated, &info.HasLastGood); err != nil {
			return nil, oops.In("store").Wrapf(err, "scan slot")
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		slots = append(slots, info)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").Wrapf(err, "list slots")
	}
	return slots, nil
}

func (s *SQLiteStore) LoadLastGood(ctx context.Context, slot string) (models.RawDocument, error) {
	if err := ValidSlot(slot); err != nil {
		return nil, err
	}
	var prev sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT previous FROM slots WHERE slot = ?`, slot).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !prev.Valid) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "load last good snapshot of %s", slot)
	}
	return decodeJSON(prev.String, slot)
}

func decodeJSON(body, slot string) (models.RawDocument, error) {
	var doc models.RawDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, oops.In("store").Wrapf(err, "parse slot %s", slot)
	}
	if doc == nil {
		doc = models.RawDocument{}
	}
	return doc, nil
}
