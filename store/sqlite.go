package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists records as JSON documents in a single SQLite table.
// Filtering happens in application space after decoding, which keeps the
// schema free of per-collection DDL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) a store at the given
// path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// Document rows keyed by (collection, id).
	const schema = `CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		doc        TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert implements RecordStore.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, rec Record) (string, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	stored := cloneRecord(rec)
	stored["id"] = id

	doc, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, doc) VALUES (?, ?, ?)`,
		collection, id, string(doc),
	)
	if err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}

	return id, nil
}

// Get implements RecordStore.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	return decodeRecord(doc)
}

// Update implements RecordStore.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	rec, err := decodeRecord(doc)
	if err != nil {
		return err
	}

	for k, v := range fields {
		if k == "id" {
			continue
		}
		rec[k] = v
	}

	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET doc = ? WHERE collection = ? AND id = ?`,
		string(updated), collection, id,
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	return tx.Commit()
}

// List implements RecordStore.
func (s *SQLiteStore) List(ctx context.Context, collection string, filters ...Filter) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM records WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}

		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}

		if Matches(rec, filters) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	return out, nil
}

func decodeRecord(doc string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
