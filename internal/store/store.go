// Package store is the relational backing store for events and uploaded
// images. It uses SQLite through database/sql with the pure-Go
// modernc.org/sqlite driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"contentcal/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store manages the events database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the database at dbPath and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);

	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// timeLayout is how timestamps are stored; fixed width so that text
// ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}

// ListEvents returns all events ordered by date ascending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, date, description, image_url, created_at
		FROM events
		ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, date, description, image_url, created_at
		FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return ev, err
}

// CreateEvent inserts a new event and returns it with id and createdAt set.
func (s *Store) CreateEvent(ctx context.Context, in model.EventInput) (model.Event, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Event{}, errors.New("store: event title is required")
	}
	if in.Date.IsZero() {
		return model.Event{}, errors.New("store: event date is required")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (title, date, description, image_url, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		title, formatTime(in.Date), in.Description, in.ImageURL, formatTime(now))
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}

	return model.Event{
		ID:          id,
		Title:       title,
		Date:        in.Date.UTC(),
		Description: in.Description,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
	}, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// CreateImage records an uploaded image.
func (s *Store) CreateImage(ctx context.Context, filename, path string) (model.Image, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO images (filename, path, created_at) VALUES (?, ?, ?)`,
		filename, path, formatTime(now))
	if err != nil {
		return model.Image{}, fmt.Errorf("insert image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Image{}, fmt.Errorf("insert image: %w", err)
	}
	return model.Image{ID: id, Filename: filename, Path: path, CreatedAt: now}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.Event, error) {
	var (
		ev        model.Event
		date      string
		createdAt string
	)
	if err := sc.Scan(&ev.ID, &ev.Title, &date, &ev.Description, &ev.ImageURL, &createdAt); err != nil {
		return model.Event{}, err
	}
	var err error
	if ev.Date, err = parseTime(date); err != nil {
		return model.Event{}, fmt.Errorf("event %d: bad date %q: %w", ev.ID, date, err)
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Event{}, fmt.Errorf("event %d: bad created_at %q: %w", ev.ID, createdAt, err)
	}
	return ev, nil
}
