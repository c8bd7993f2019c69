// Package ingest drives the crawl.
//
// The Orchestrator bootstraps candidate instances into the store and then
// runs one Machine per tracked instance. A Machine is a two-phase loop:
//
//   - Backfilling pages the public timeline with max_id set to the oldest
//     stored post until a short page shows the history is exhausted. The
//     instance is then marked caught up.
//   - Live pages with min_id set to the newest stored post and stops at the
//     first short page.
//
// Rate-limited responses suspend the loop until the server's reset instant
// and retry the same cursor without counting as a failure. Other failed
// attempts back off exponentially and end the loop for this run after the
// configured number of consecutive failures.
//
// Usage:
//
//	orch := ingest.New(cfg, mastodon.NewClient(timeout, ua, log), store,
//	    ingest.WithLogger(log),
//	    ingest.WithSpill(spill),
//	)
//	report, err := orch.RunAll(ctx)
//
// Fetch times are collected per machine and written to the store once, after
// every machine has returned. A failed write is spilled to a checkpoint file
// and merged into the next run's flush.
package ingest
