package orderfeed

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStateBackend keeps the notification mirror in a local SQLite file,
// durable without a server to run.
type SQLiteStateBackend struct {
	db *sqlx.DB
}

func NewSQLiteStateBackend(path string) (*SQLiteStateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite mirror: %w", err)
	}
	// WAL keeps concurrent reads cheap while the stream goroutine saves.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	schema := `
		CREATE TABLE IF NOT EXISTS mirror (
			mirror_key TEXT PRIMARY KEY,
			snapshot   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating mirror table: %w", err)
	}
	return &SQLiteStateBackend{db: db}, nil
}

func (b *SQLiteStateBackend) Load() (*MirrorState, error) {
	if b == nil {
		return nil, nil
	}
	var payload string
	err := b.db.Get(&payload, "SELECT snapshot FROM mirror WHERE mirror_key = ?", "default")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot MirrorState
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *SQLiteStateBackend) Save(state *MirrorState) error {
	if b == nil || state == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`
		INSERT INTO mirror (mirror_key, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (mirror_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		"default", string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
