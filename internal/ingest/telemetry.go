package ingest

import (
	"context"
	"fmt"
	"time"

	"mastodb/pkg/checkpoint"
)

// FetchTimes sums the fetch time of each result per domain, in seconds.
// Every machine owns its own Result, so no locking is needed until the
// results are merged here.
func FetchTimes(results []Result) map[string]float64 {
	seconds := make(map[string]float64, len(results))
	for _, r := range results {
		if r.Domain == "" || r.FetchTime <= 0 {
			continue
		}
		seconds[r.Domain] += r.FetchTime.Seconds()
	}
	return seconds
}

// flush writes the run's fetch times, plus any telemetry spilled by earlier
// runs, to the store in a single call. It runs on a context detached from
// ctx's cancellation so an aborted run still records its timing. When the
// store rejects the write the telemetry is spilled for the next run.
func (o *Orchestrator) flush(ctx context.Context, results []Result, pending *checkpoint.Checkpoint) error {
	seconds := FetchTimes(results)
	var runIDs []string
	if pending != nil {
		for d, s := range pending.FetchTimes {
			seconds[d] += s
		}
		runIDs = append(runIDs, pending.RunIDs...)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.flushTimeout)
	defer cancel()

	start := time.Now()
	err := o.store.AddFetchTimes(fctx, seconds)
	if err == nil {
		if pending != nil && o.spill != nil {
			if derr := o.spill.Delete(); derr != nil {
				o.logger.WithError(derr).Warn("Failed to remove flushed telemetry checkpoint")
			}
		}
		o.logger.InfoWithFields("Telemetry flushed", map[string]interface{}{
			"domains":     len(seconds),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	o.logger.WithError(err).Error("Telemetry flush failed")
	if o.spill == nil {
		return fmt.Errorf("flush telemetry: %w", err)
	}

	cp := &checkpoint.Checkpoint{RunIDs: runIDs}
	if pending != nil {
		cp.CreatedAt = pending.CreatedAt
	}
	cp.Merge(o.runID, seconds)
	if serr := o.spill.Save(cp); serr != nil {
		return fmt.Errorf("flush telemetry: %w (spill failed: %v)", err, serr)
	}
	return nil
}

// loadPending reads telemetry left by earlier runs. A broken spill file is
// logged and ignored.
func (o *Orchestrator) loadPending() *checkpoint.Checkpoint {
	if o.spill == nil {
		return nil
	}
	cp, err := o.spill.Load()
	if err != nil {
		o.logger.WithError(err).Warn("Ignoring unreadable telemetry checkpoint")
		return nil
	}
	return cp
}
