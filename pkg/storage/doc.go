// Package storage persists tracked instances and the posts crawled from them.
//
// Three backends implement Store:
//   - Postgres, through a pgx connection pool, with posts kept as JSONB
//   - SQLite, a single local file through the pure-Go modernc driver
//   - Memory, an in-process map used for dry runs and tests
//
// Posts are keyed by (domain, id). InsertPosts writes a batch in order and
// stops at the first post already present, returning the stored prefix
// together with a *DuplicateKeyError so the caller can advance its cursor
// past exactly what was saved.
//
// Usage:
//
//	store, err := storage.Open(ctx, cfg.Store, log)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	inserted, err := store.InsertPosts(ctx, "mastodon.social", posts)
//	var dup *storage.DuplicateKeyError
//	if errors.As(err, &dup) {
//	    // only dup.Inserted were stored
//	}
package storage
