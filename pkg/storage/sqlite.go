package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mastodb/pkg/logger"
	"mastodb/pkg/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS instances (
	domain     TEXT PRIMARY KEY,
	languages  TEXT NOT NULL DEFAULT '[]',
	caught_up  INTEGER NOT NULL DEFAULT 0,
	fetch_time REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS posts (
	domain TEXT NOT NULL,
	id     TEXT NOT NULL,
	doc    TEXT NOT NULL,
	PRIMARY KEY (domain, id)
);`

const (
	sqliteNewestQuery = `SELECT id FROM posts WHERE domain = ? ORDER BY length(id) DESC, id DESC LIMIT 1`
	sqliteOldestQuery = `SELECT id FROM posts WHERE domain = ? ORDER BY length(id) ASC, id ASC LIMIT 1`
)

// SQLite is a single-file Store for local crawls.
type SQLite struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLite opens or creates the database file at path.
func NewSQLite(ctx context.Context, path string, log logger.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLite{db: db, logger: log}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) TrackedDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM instances ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *SQLite) RegisterInstance(ctx context.Context, inst models.Instance, seed models.Post) error {
	doc, err := encodeDoc(seed)
	if err != nil {
		return err
	}
	languages, err := json.Marshal(inst.Languages)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO instances (domain, languages, caught_up, fetch_time)
		VALUES (?, ?, 0, 0)
		ON CONFLICT (domain) DO NOTHING`,
		inst.Domain, string(languages),
	)
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", inst.Domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyTracked
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts (domain, id, doc) VALUES (?, ?, ?)`,
		inst.Domain, seed.ID, string(doc),
	); err != nil {
		return fmt.Errorf("insert seed post %s: %w", seed.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) LoadStates(ctx context.Context) ([]models.InstanceState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, caught_up FROM instances ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}

	var states []models.InstanceState
	for rows.Next() {
		var st models.InstanceState
		if err := rows.Scan(&st.Domain, &st.CaughtUp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		states = append(states, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}

	for i := range states {
		if states[i].NewestID, err = s.edgeID(ctx, sqliteNewestQuery, states[i].Domain); err != nil {
			return nil, err
		}
		if states[i].OldestID, err = s.edgeID(ctx, sqliteOldestQuery, states[i].Domain); err != nil {
			return nil, err
		}
	}
	return states, nil
}

func (s *SQLite) edgeID(ctx context.Context, query, domain string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, query, domain).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query cursor for %s: %w", domain, err)
	}
	return id, nil
}

func (s *SQLite) InsertPosts(ctx context.Context, domain string, posts []models.Post) ([]models.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tracked int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE domain = ?`, domain).Scan(&tracked); err != nil {
		return nil, fmt.Errorf("query instance %s: %w", domain, err)
	}
	if tracked == 0 {
		return nil, ErrNotTracked
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (domain, id, doc) VALUES (?, ?, ?)
		ON CONFLICT (domain, id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var conflict *DuplicateKeyError
	n := 0
	for _, post := range posts {
		doc, err := encodeDoc(post)
		if err != nil {
			return nil, err
		}
		res, err := stmt.ExecContext(ctx, domain, post.ID, string(doc))
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", post.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			conflict = &DuplicateKeyError{Domain: domain, ID: post.ID}
			break
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	inserted := posts[:n:n]
	if conflict != nil {
		conflict.Inserted = inserted
		return inserted, conflict
	}
	return inserted, nil
}

func (s *SQLite) MarkCaughtUp(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE instances SET caught_up = 1 WHERE domain = ?`, domain)
	if err != nil {
		return fmt.Errorf("mark %s caught up: %w", domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotTracked
	}
	return nil
}

func (s *SQLite) AddFetchTimes(ctx context.Context, seconds map[string]float64) error {
	if len(seconds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for domain, sec := range seconds {
		if _, err := tx.ExecContext(ctx,
			`UPDATE instances SET fetch_time = fetch_time + ? WHERE domain = ?`, sec, domain,
		); err != nil {
			return fmt.Errorf("update fetch time for %s: %w", domain, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) FetchStats(ctx context.Context) ([]models.FetchStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.domain, i.fetch_time, COUNT(p.id)
		FROM instances i
		LEFT JOIN posts p ON p.domain = i.domain
		GROUP BY i.domain, i.fetch_time
		ORDER BY i.domain`)
	if err != nil {
		return nil, fmt.Errorf("query fetch stats: %w", err)
	}
	defer rows.Close()

	var stats []models.FetchStat
	for rows.Next() {
		var (
			st      models.FetchStat
			seconds float64
		)
		if err := rows.Scan(&st.Domain, &seconds, &st.PostCount); err != nil {
			return nil, fmt.Errorf("scan fetch stats: %w", err)
		}
		st.FetchTime = time.Duration(seconds * float64(time.Second))
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS posts; DROP TABLE IF EXISTS instances`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return s.Migrate(ctx)
}
