// Package archive persists completed items and seen post ids in SQLite so a restarted
// orchestrator can recover its history.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

// Record is an archived item.
type Record struct {
	Post       feed.Post
	Summary    string
	Priority   float64
	AudioRef   string
	Duration   float64
	RecordedAt time.Time
}

// Store wraps the SQLite archive. In ephemeral mode every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the archive according to config.
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "archive"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("archive vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("archive prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS items (
    post_id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    author TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    source_url TEXT,
    media_type TEXT,
    summary TEXT NOT NULL,
    priority REAL NOT NULL,
    audio_ref TEXT,
    duration REAL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_recorded ON items(recorded_at);
CREATE TABLE IF NOT EXISTS seen (
    post_id TEXT PRIMARY KEY,
    seen_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seen_at ON seen(seen_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != "ephemeral"
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordItem stores a completed item. Recording the same post twice keeps the first row.
func (s *Store) RecordItem(ctx context.Context, it *feed.Item) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(post_id, platform, author, content, created_at, source_url, media_type,
		                   summary, priority, audio_ref, duration, recorded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(post_id) DO NOTHING`,
		it.Post.ID, it.Post.Platform, it.Post.Author, it.Post.Content, it.Post.CreatedAt.UnixNano(),
		it.Post.SourceURL, it.Post.MediaType, it.Summary, it.Priority,
		it.AudioRef(), it.EstimatedDuration(), s.clock().UnixNano())
	return err
}

// MarkSeen stores post ids that must not be processed again.
func (s *Store) MarkSeen(ctx context.Context, ids []string) (err error) {
	if !s.enabled() || len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	now := s.clock().UnixNano()
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO seen(post_id, seen_at) VALUES(?, ?) ON CONFLICT(post_id) DO NOTHING`, id, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadItems returns up to limit of the most recent records in the order they were recorded.
func (s *Store) LoadItems(ctx context.Context, limit int) ([]Record, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, platform, author, content, created_at, source_url, media_type,
		        summary, priority, audio_ref, duration, recorded_at
		 FROM (SELECT * FROM items ORDER BY recorded_at DESC, rowid DESC LIMIT ?)
		 ORDER BY recorded_at ASC, rowid ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			created, recorded int64
			sourceURL, media  sql.NullString
			audioRef          sql.NullString
			duration          sql.NullFloat64
		)
		if err := rows.Scan(&r.Post.ID, &r.Post.Platform, &r.Post.Author, &r.Post.Content, &created,
			&sourceURL, &media, &r.Summary, &r.Priority, &audioRef, &duration, &recorded); err != nil {
			return nil, err
		}
		r.Post.CreatedAt = time.Unix(0, created).UTC()
		r.Post.SourceURL = sourceURL.String
		r.Post.MediaType = media.String
		r.AudioRef = audioRef.String
		r.Duration = duration.Float64
		r.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSeen returns up to limit of the most recently seen post ids.
func (s *Store) LoadSeen(ctx context.Context, limit int) ([]string, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id FROM (SELECT post_id, seen_at, rowid AS r FROM seen ORDER BY seen_at DESC, r DESC LIMIT ?)
		 ORDER BY seen_at ASC, r ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Restore rebuilds items from records. Records with audio get their reference back.
func Restore(records []Record) ([]*feed.Item, error) {
	items := make([]*feed.Item, 0, len(records))
	for _, r := range records {
		it := feed.NewItem(r.Post, r.Summary, r.Priority)
		if r.AudioRef != "" {
			if err := it.SetAudio(r.AudioRef, r.Duration); err != nil {
				return nil, err
			}
		}
		items = append(items, it)
	}
	return items, nil
}

// Prune applies the configured retention by age and item count.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM items WHERE recorded_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM seen WHERE seen_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxItems > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM items WHERE post_id IN (
			SELECT post_id FROM items ORDER BY recorded_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxItems); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks that an ephemeral store holds no database.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral archive should not have database connection")
	}
	return nil
}
