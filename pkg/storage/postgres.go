package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS instances (
	domain     TEXT PRIMARY KEY,
	languages  TEXT[] NOT NULL DEFAULT '{}',
	caught_up  BOOLEAN NOT NULL DEFAULT FALSE,
	fetch_time DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS posts (
	domain TEXT NOT NULL REFERENCES instances (domain) ON DELETE CASCADE,
	id     TEXT NOT NULL,
	doc    JSONB NOT NULL,
	PRIMARY KEY (domain, id)
);`

// Status ids compare by length first, then bytewise.
const (
	pgNewestQuery = `SELECT id FROM posts WHERE domain = $1 ORDER BY char_length(id) DESC, id COLLATE "C" DESC LIMIT 1`
	pgOldestQuery = `SELECT id FROM posts WHERE domain = $1 ORDER BY char_length(id) ASC, id COLLATE "C" ASC LIMIT 1`
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, log logger.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool, logger: log}, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) TrackedDomains(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT domain FROM instances ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}
	return domains, nil
}

func (p *Postgres) RegisterInstance(ctx context.Context, inst models.Instance, seed models.Post) error {
	doc, err := encodeDoc(seed)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	languages := inst.Languages
	if languages == nil {
		languages = []string{}
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO instances (domain, languages, caught_up, fetch_time)
		VALUES ($1, $2, FALSE, 0)
		ON CONFLICT (domain) DO NOTHING`,
		inst.Domain, languages,
	)
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", inst.Domain, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTracked
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO posts (domain, id, doc) VALUES ($1, $2, $3)`,
		inst.Domain, seed.ID, doc,
	); err != nil {
		return fmt.Errorf("insert seed post %s: %w", seed.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) LoadStates(ctx context.Context) ([]models.InstanceState, error) {
	rows, err := p.pool.Query(ctx, `SELECT domain, caught_up FROM instances ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.InstanceState, error) {
		var s models.InstanceState
		err := row.Scan(&s.Domain, &s.CaughtUp)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}

	for i := range states {
		if states[i].NewestID, err = p.edgeID(ctx, pgNewestQuery, states[i].Domain); err != nil {
			return nil, err
		}
		if states[i].OldestID, err = p.edgeID(ctx, pgOldestQuery, states[i].Domain); err != nil {
			return nil, err
		}
	}
	return states, nil
}

func (p *Postgres) edgeID(ctx context.Context, query, domain string) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, query, domain).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query cursor for %s: %w", domain, err)
	}
	return id, nil
}

func (p *Postgres) InsertPosts(ctx context.Context, domain string, posts []models.Post) ([]models.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tracked bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM instances WHERE domain = $1)`, domain).Scan(&tracked)
	if err != nil {
		return nil, fmt.Errorf("query instance %s: %w", domain, err)
	}
	if !tracked {
		return nil, ErrNotTracked
	}

	var conflict *DuplicateKeyError
	n := 0
	for _, post := range posts {
		doc, err := encodeDoc(post)
		if err != nil {
			return nil, err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO posts (domain, id, doc) VALUES ($1, $2, $3)
			ON CONFLICT (domain, id) DO NOTHING`,
			domain, post.ID, doc,
		)
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", post.ID, err)
		}
		if tag.RowsAffected() == 0 {
			conflict = &DuplicateKeyError{Domain: domain, ID: post.ID}
			break
		}
		n++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	inserted := posts[:n:n]
	if conflict != nil {
		conflict.Inserted = inserted
		return inserted, conflict
	}
	return inserted, nil
}

func (p *Postgres) MarkCaughtUp(ctx context.Context, domain string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE instances SET caught_up = TRUE WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("mark %s caught up: %w", domain, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTracked
	}
	return nil
}

func (p *Postgres) AddFetchTimes(ctx context.Context, seconds map[string]float64) error {
	if len(seconds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for domain, s := range seconds {
		batch.Queue(`UPDATE instances SET fetch_time = fetch_time + $1 WHERE domain = $2`, s, domain)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update fetch times: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) FetchStats(ctx context.Context) ([]models.FetchStat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT i.domain, i.fetch_time, COUNT(p.id)
		FROM instances i
		LEFT JOIN posts p ON p.domain = i.domain
		GROUP BY i.domain, i.fetch_time
		ORDER BY i.domain`)
	if err != nil {
		return nil, fmt.Errorf("query fetch stats: %w", err)
	}
	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FetchStat, error) {
		var (
			s       models.FetchStat
			seconds float64
			count   int64
		)
		err := row.Scan(&s.Domain, &seconds, &count)
		s.FetchTime = time.Duration(seconds * float64(time.Second))
		s.PostCount = int(count)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fetch stats: %w", err)
	}
	return stats, nil
}

func (p *Postgres) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS posts; DROP TABLE IF EXISTS instances`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return p.Migrate(ctx)
}
