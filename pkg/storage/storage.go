package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mastodb/pkg/config"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
)

// ErrAlreadyTracked is returned by RegisterInstance for a known domain.
var ErrAlreadyTracked = errors.New("instance already tracked")

// ErrNotTracked is returned when posts are inserted for an unknown domain.
var ErrNotTracked = errors.New("instance not tracked")

// DuplicateKeyError is returned by InsertPosts when a post already exists.
// Inserted holds the posts confirmed stored before the conflict; it is nil
// when the backend cannot tell.
type DuplicateKeyError struct {
	Domain   string
	ID       string
	Inserted []models.Post
}

func (e *DuplicateKeyError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("duplicate post on %s", e.Domain)
	}
	return fmt.Sprintf("duplicate post %s on %s after %d inserted", e.ID, e.Domain, len(e.Inserted))
}

// Store persists tracked instances and their posts.
type Store interface {
	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	TrackedDomains(ctx context.Context) ([]string, error)

	// RegisterInstance stores the instance record and its seed post
	// together, or neither. A known domain yields ErrAlreadyTracked.
	RegisterInstance(ctx context.Context, inst models.Instance, seed models.Post) error

	// LoadStates returns the resume state of every tracked instance with the
	// newest and oldest stored ids under the status id ordering.
	LoadStates(ctx context.Context) ([]models.InstanceState, error)

	// InsertPosts stores posts in order and stops at the first one already
	// present. It returns the stored posts; on a conflict the error is a
	// *DuplicateKeyError.
	InsertPosts(ctx context.Context, domain string, posts []models.Post) ([]models.Post, error)

	MarkCaughtUp(ctx context.Context, domain string) error

	// AddFetchTimes adds seconds to the accumulated fetch time per domain.
	AddFetchTimes(ctx context.Context, seconds map[string]float64) error

	FetchStats(ctx context.Context) ([]models.FetchStat, error)

	// Reset drops all stored data.
	Reset(ctx context.Context) error

	Close() error
}

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open connects to the configured backend and migrates its schema.
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverPostgres, "":
		s, err = NewPostgres(ctx, cfg.PostgresDSN(), cfg.MaxConns, log)
	case DriverSQLite:
		s, err = NewSQLite(ctx, cfg.Path, log)
	case DriverMemory:
		s = NewMemory()
	default:
		return nil, errs.New(errs.ErrorTypeConfig, "", fmt.Sprintf("unknown store driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	log.WithField("driver", cfg.Driver).Debug("Store opened")
	return s, nil
}

func encodeDoc(p models.Post) ([]byte, error) {
	doc, err := json.Marshal(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode post %s: %w", p.ID, err)
	}
	return doc, nil
}
