// Package counter persists locally aggregated usage counters. Events are
// never stored individually: each row is a (component, event, day) key with
// the number of times it was reported.
package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/usagebeacon/beacon/pkg/sqliteutil"
)

var (
	ErrEmptyComponent = errors.New("component cannot be empty")
	ErrEmptyEvent     = errors.New("event cannot be empty")
	ErrEmptyDay       = errors.New("day cannot be empty")
)

// Count is one aggregated counter row.
type Count struct {
	Component string
	Event     string
	Day       string
	Times     int64
}

// Store defines the interface for usage counter storage.
type Store interface {
	// Increment adds one occurrence of (component, event) on day.
	Increment(ctx context.Context, component, event, day string) error

	// Pending returns all counter rows awaiting upload, ordered by day,
	// component, event.
	Pending(ctx context.Context) ([]Count, error)

	// Clear removes all counter rows. Called after a successful upload.
	Clear(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}

type key struct {
	component, event, day string
}

// InMemoryStore keeps counters in a map. Used in tests and by hosts that opt
// out of persistence.
type InMemoryStore struct {
	mu     sync.Mutex
	counts map[key]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{counts: make(map[key]int64)}
}

func (s *InMemoryStore) Increment(_ context.Context, component, event, day string) error {
	if err := validateKey(component, event, day); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key{component, event, day}]++
	return nil
}

func (s *InMemoryStore) Pending(_ context.Context) ([]Count, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]Count, 0, len(s.counts))
	for k, times := range s.counts {
		counts = append(counts, Count{Component: k.component, Event: k.event, Day: k.day, Times: times})
	}
	sortCounts(counts)
	return counts, nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[key]int64)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func validateKey(component, event, day string) error {
	if component == "" {
		return ErrEmptyComponent
	}
	if event == "" {
		return ErrEmptyEvent
	}
	if day == "" {
		return ErrEmptyDay
	}
	return nil
}

func sortCounts(counts []Count) {
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.Event < b.Event
	})
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the counter database at path. If the
// database cannot be migrated, it is moved aside to <path>.bak and a fresh
// one is created: losing a week of anonymous counters beats refusing to
// start the host.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	store, err := openAndMigrate(path)
	if err != nil {
		slog.Warn("Failed to open usage counter store, attempting recovery", "error", err)

		if backupErr := backupDatabase(path); backupErr != nil {
			slog.Error("Failed to backup usage counter database", "error", backupErr)
			return nil, fmt.Errorf("migration failed: %w (backup also failed: %v)", err, backupErr)
		}

		store, err = openAndMigrate(path)
		if err != nil {
			return nil, fmt.Errorf("migration failed even after database reset: %w", err)
		}

		slog.Info("Recovered usage counter store with a fresh database")
	}

	return store, nil
}

func openAndMigrate(path string) (*SQLiteStore, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS usage_counts (
			component TEXT NOT NULL,
			event TEXT NOT NULL,
			day TEXT NOT NULL,
			times INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		if sqliteutil.IsCantOpenError(err) {
			return nil, sqliteutil.DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	migrationManager := NewMigrationManager(db)
	if err := migrationManager.InitializeMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// backupDatabase moves the database file (and WAL mode artifacts) aside.
func backupDatabase(path string) error {
	backupPath := path + ".bak"

	slog.Info("Backing up usage counter database", "from", path, "to", backupPath)

	if err := os.Rename(path, backupPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to move database file: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, backupPath+suffix); err != nil {
				slog.Warn("Failed to move database artifact", "suffix", suffix, "error", err)
			}
		}
	}

	return nil
}

func (s *SQLiteStore) Increment(ctx context.Context, component, event, day string) error {
	if err := validateKey(component, event, day); err != nil {
		return err
	}

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_counts (component, event, day, times, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(component, event, day) DO UPDATE SET times = times + 1, updated_at = ?`,
		component, event, day, now, now)
	return err
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT component, event, day, times FROM usage_counts ORDER BY day, component, event")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Component, &c.Event, &c.Day, &c.Times); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM usage_counts")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
