// Package checkpoint keeps crawl telemetry that could not be written to the
// store.
//
// Fetch times are flushed to the store once, when a crawl ends. If that
// flush fails the accumulated seconds are spilled to a local file and merged
// back into the next run's telemetry, so an unreachable database does not
// lose a whole run's timing data.
//
// Spill files are stored in platform-specific data directories:
//   - Linux: ~/.local/share/mastodb/checkpoints/
//   - macOS: ~/Library/Application Support/mastodb/checkpoints/
//   - Windows: %APPDATA%/mastodb/checkpoints/
//
// The files are saved atomically to prevent corruption and include
// versioning for future compatibility.
package checkpoint
