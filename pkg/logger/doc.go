// Package logger provides the structured logging interface used across mastodb.
//
// It wraps zerolog with a small interface so packages can take a Logger as a
// dependency and tests can substitute NewTestLogger or NewNopLogger.
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//	logger.Info("crawl started")
//	logger.WithField("domain", "mastodon.social").Warn("page failed")
//
// Engine code logs non-fatal conditions with the instance domain and, where a
// response exists, its status and reason:
//
//	log.WarnWithFields("client error, retrying page", map[string]interface{}{
//	    "domain": domain,
//	    "status": 404,
//	    "reason": "Not Found",
//	})
//
// Console output is colored for terminals; set logging.format to json for
// machine-readable lines. logging.file additionally appends every event to a
// file.
package logger
