// Package audit provides PostgreSQL-backed storage for minted session
// markers. Each row records which server minted a marker, for which path,
// and when. The schema is managed by embedded migrations.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/archdash/sessiontag/internal/messaging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages tagged-event rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Record is one stored tagged event.
type Record struct {
	SID        string
	Path       string
	Server     string
	RemoteIP   string
	UserAgent  string
	TaggedAt   time.Time
	RecordedAt time.Time
}

// Open connects to PostgreSQL with the lib/pq driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts ev. A sid that is already stored is left untouched and
// inserted reports false.
func (s *Store) Record(ctx context.Context, ev messaging.TaggedEvent) (inserted bool, err error) {
	if ev.SID == "" {
		return false, errors.New("audit: event without sid")
	}
	taggedAt := time.UnixMilli(ev.Ts).UTC()
	if ev.Ts == 0 {
		taggedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO session_tags (sid, path, server, remote_ip, user_agent, tagged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sid) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		ev.SID,
		ev.Path,
		ev.Server,
		ev.RemoteIP,
		ev.UserAgent,
		taggedAt,
	)
	if err != nil {
		return false, fmt.Errorf("audit: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit: rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns the stored record for sid, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, sid string) (*Record, error) {
	const query = `
		SELECT sid, path, server, remote_ip, user_agent, tagged_at, recorded_at
		FROM session_tags
		WHERE sid = $1`

	var r Record
	err := s.db.QueryRowContext(ctx, query, sid).Scan(
		&r.SID, &r.Path, &r.Server, &r.RemoteIP, &r.UserAgent, &r.TaggedAt, &r.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: get %s: %w", sid, err)
	}
	return &r, nil
}

// CountSince returns how many markers were minted within window.
func (s *Store) CountSince(ctx context.Context, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM session_tags
		WHERE tagged_at >= NOW() - make_interval(secs => $1)`

	var count int
	err := s.db.QueryRowContext(ctx, query, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count since: %w", err)
	}
	return count, nil
}
