// Package sqlite persists session settings in a SQLite database.
//
// Each aggregate (knowledge state, pending requests, options, roster) is
// stored as one JSON row in a settings table and rewritten wholesale on
// every change. The session-scale data volume makes row-level persistence
// unnecessary.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/foeveil/internal/knowledge/domain"
	"github.com/louisbranch/foeveil/internal/options"
	"github.com/louisbranch/foeveil/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/foeveil/internal/queue"
	"github.com/louisbranch/foeveil/internal/roster"
	"github.com/louisbranch/foeveil/internal/storage"
	"github.com/louisbranch/foeveil/internal/storage/sqlite/migrations"
)

// Store is a SQLite-backed settings store.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(db, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying database. Safe to call on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) getSetting(ctx context.Context, name string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var value []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read setting %q: %w", name, err)
	}
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("decode setting %q: %w", name, err)
	}
	return nil
}

func (s *Store) setSetting(ctx context.Context, name string, in any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, s.clock().Unix())
	if err != nil {
		return fmt.Errorf("write setting %q: %w", name, err)
	}
	return nil
}

// LoadKnowledge returns the stored knowledge aggregate, or an empty one
// when nothing has been saved yet.
func (s *Store) LoadKnowledge(ctx context.Context) (domain.Knowledge, error) {
	knowledge := domain.NewKnowledge()
	if err := s.getSetting(ctx, storage.SettingKnowledge, &knowledge); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewKnowledge(), nil
		}
		return domain.Knowledge{}, err
	}
	return knowledge, nil
}

// SaveKnowledge persists the knowledge aggregate.
func (s *Store) SaveKnowledge(ctx context.Context, knowledge domain.Knowledge) error {
	return s.setSetting(ctx, storage.SettingKnowledge, knowledge)
}

// LoadRequests returns the stored pending request list, empty when never
// saved.
func (s *Store) LoadRequests(ctx context.Context) ([]queue.Request, error) {
	var requests []queue.Request
	if err := s.getSetting(ctx, storage.SettingRequests, &requests); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return requests, nil
}

// SaveRequests persists the pending request list.
func (s *Store) SaveRequests(ctx context.Context, requests []queue.Request) error {
	return s.setSetting(ctx, storage.SettingRequests, requests)
}

// LoadOptions returns the stored session options, falling back to defaults
// when never saved.
func (s *Store) LoadOptions(ctx context.Context) (options.Options, error) {
	opts := options.Defaults()
	if err := s.getSetting(ctx, storage.SettingOptions, &opts); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return options.Defaults(), nil
		}
		return options.Options{}, err
	}
	return opts, nil
}

// SaveOptions persists the session options.
func (s *Store) SaveOptions(ctx context.Context, opts options.Options) error {
	return s.setSetting(ctx, storage.SettingOptions, opts)
}

// LoadRoster returns the stored roster, or an empty one when never saved.
func (s *Store) LoadRoster(ctx context.Context) (roster.Roster, error) {
	r := roster.NewRoster()
	if err := s.getSetting(ctx, storage.SettingRoster, &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return roster.NewRoster(), nil
		}
		return roster.Roster{}, err
	}
	return r, nil
}

// SaveRoster persists the roster.
func (s *Store) SaveRoster(ctx context.Context, r roster.Roster) error {
	return s.setSetting(ctx, storage.SettingRoster, r)
}
