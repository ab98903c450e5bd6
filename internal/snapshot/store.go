// Package snapshot persists per-room playlist orders in Postgres.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"playlist-sync/internal/playlist"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("snapshot not found")

// DB defines the interface for database operations.
// It is implemented by *pgxpool.Pool and can be mocked for testing.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func AutoMigrate(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS room_snapshots (
          room        TEXT PRIMARY KEY,
          data        JSONB NOT NULL,
          updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `)
	if err != nil {
		return fmt.Errorf("migrate room_snapshots: %w", err)
	}
	return nil
}

// Load returns the last saved snapshot of room.
func (s *PostgresStore) Load(ctx context.Context, room string) (playlist.PatchMessage, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `
		SELECT data
		FROM room_snapshots
		WHERE room = $1
	`, room).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return playlist.PatchMessage{}, ErrNotFound
	}
	if err != nil {
		return playlist.PatchMessage{}, err
	}

	var pm playlist.PatchMessage
	if err := json.Unmarshal(data, &pm); err != nil {
		return playlist.PatchMessage{}, fmt.Errorf("decode snapshot %s: %w", room, err)
	}
	return pm, nil
}

// Save replaces the snapshot of room.
func (s *PostgresStore) Save(ctx context.Context, room string, pm playlist.PatchMessage) error {
	data, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", room, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO room_snapshots (room, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
	`, room, data)
	return err
}
