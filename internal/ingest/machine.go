package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "mastodb/pkg/errors"
	"mastodb/pkg/extract"
	"mastodb/pkg/filter"
	"mastodb/pkg/logger"
	"mastodb/pkg/mastodon"
	"mastodb/pkg/models"
	"mastodb/pkg/ratelimit"
	"mastodb/pkg/retry"
	"mastodb/pkg/statusid"
	"mastodb/pkg/storage"
)

// Phase is the paging direction of a machine.
type Phase int

const (
	// PhaseBackfilling pages strictly older than the oldest stored post.
	PhaseBackfilling Phase = iota
	// PhaseLive pages strictly newer than the newest stored post.
	PhaseLive
)

func (p Phase) String() string {
	if p == PhaseLive {
		return "live"
	}
	return "backfilling"
}

// Reason is why a machine stopped.
type Reason string

const (
	ReasonCaughtUp         Reason = "caught_up"
	ReasonLiveExhausted    Reason = "live_exhausted"
	ReasonTransportFailure Reason = "transport_failure"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonCancelled        Reason = "cancelled"
	ReasonFatal            Reason = "fatal"
	ReasonStorageFailure   Reason = "storage_failure"
)

// Result summarizes one machine run. It is owned by the machine until Run
// returns.
type Result struct {
	Domain    string
	Reason    Reason
	Phase     Phase
	Cursor    statusid.Cursor
	Pages     int
	Stored    int
	Dropped   int
	FetchTime time.Duration
	Err       error
}

// Options tunes a machine.
type Options struct {
	PageSize          int
	MaxFailedAttempts int
	Backoff           retry.BackoffStrategy
	// Now and Sleep default to the wall clock and retry.Wait.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxFailedAttempts <= 0 {
		o.MaxFailedAttempts = 5
	}
	if o.Backoff == nil {
		o.Backoff = retry.DefaultExponentialBackoff()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = retry.Wait
	}
	return o
}

// Deps are the collaborators a machine uses.
type Deps struct {
	Client    TimelineFetcher
	Store     storage.Store
	Filter    filter.Filter[models.Item]
	Extractor *extract.Extractor
	Limiter   ratelimit.Limiter
	Logger    logger.Logger
}

// Machine pages one instance's public timeline into the store.
type Machine struct {
	domain string
	phase  Phase
	cursor statusid.Cursor
	deps   Deps
	opts   Options
	logger logger.Logger
	result Result
}

type cycleKind int

const (
	cycleProgress cycleKind = iota
	cycleRateLimited
	cycleFailed
	cycleDone
)

type cycleResult struct {
	kind   cycleKind
	reason Reason
	detail string
}

// NewMachine creates a machine resuming from state.
func NewMachine(state models.InstanceState, deps Deps, opts Options) *Machine {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}

	phase := PhaseBackfilling
	if state.CaughtUp {
		phase = PhaseLive
	}

	return &Machine{
		domain: state.Domain,
		phase:  phase,
		cursor: statusid.Cursor{Newest: state.NewestID, Oldest: state.OldestID},
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: deps.Logger.WithField("domain", state.Domain),
	}
}

// Run loops until the instance is exhausted for this run. Per-instance
// failures are reported in the Result. A non-nil error means the whole run
// must abort: a status outside the HTTP range or a store failure.
func (m *Machine) Run(ctx context.Context) (Result, error) {
	m.logger.InfoWithFields("Pagination loop started", map[string]interface{}{
		"phase":  m.phase.String(),
		"newest": m.cursor.Newest,
		"oldest": m.cursor.Oldest,
	})

	failures := 0
	for {
		if ctx.Err() != nil {
			return m.stop(ReasonCancelled, nil), nil
		}

		res, err := m.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return m.stop(ReasonCancelled, nil), nil
			}
			reason := ReasonStorageFailure
			if errs.IsFatal(err) {
				reason = ReasonFatal
			}
			return m.stop(reason, err), err
		}

		switch res.kind {
		case cycleProgress:
			failures = 0
		case cycleRateLimited:
		case cycleDone:
			return m.stop(res.reason, nil), nil
		case cycleFailed:
			failures++
			if failures >= m.opts.MaxFailedAttempts {
				m.logger.WarnWithFields("Giving up on instance for this run", map[string]interface{}{
					"attempts": failures,
					"detail":   res.detail,
				})
				return m.stop(ReasonRetriesExhausted, nil), nil
			}
			delay := m.opts.Backoff.NextDelay(failures)
			m.logger.WarnWithFields("Attempt failed, retrying same cursor", map[string]interface{}{
				"attempt":      failures,
				"max_attempts": m.opts.MaxFailedAttempts,
				"delay":        delay,
				"detail":       res.detail,
			})
			if err := m.opts.Sleep(ctx, delay); err != nil {
				return m.stop(ReasonCancelled, nil), nil
			}
		}
	}
}

func (m *Machine) stop(reason Reason, err error) Result {
	m.result.Domain = m.domain
	m.result.Reason = reason
	m.result.Phase = m.phase
	m.result.Cursor = m.cursor
	m.result.Err = err

	logger.LogComponentStop(m.logger.WithFields(map[string]interface{}{
		"stored":     m.result.Stored,
		"dropped":    m.result.Dropped,
		"pages":      m.result.Pages,
		"fetch_time": m.result.FetchTime,
	}), "pagination", string(reason))
	return m.result
}

func (m *Machine) cycle(ctx context.Context) (cycleResult, error) {
	params := m.deps.Filter.Params()
	switch {
	case m.phase == PhaseBackfilling && m.cursor.Oldest != "":
		params.Set(mastodon.ParamMaxID, m.cursor.Oldest)
	case m.phase == PhaseLive && m.cursor.Newest != "":
		params.Set(mastodon.ParamMinID, m.cursor.Newest)
	}

	if err := m.deps.Limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return cycleResult{}, ctx.Err()
		}
		m.logger.WithError(err).Warn("Politeness limiter refused to wait")
		return cycleResult{kind: cycleFailed, detail: "limiter wait failed"}, nil
	}

	start := m.opts.Now()
	page, err := m.deps.Client.PublicTimeline(ctx, m.domain, params)
	elapsed := m.opts.Now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return cycleResult{}, ctx.Err()
		}
		m.logger.WithError(err).Warn("Transport failure, ending loop for this run")
		return cycleResult{kind: cycleDone, reason: ReasonTransportFailure}, nil
	}

	verdict := mastodon.ClassifyPage(page.StatusCode, page.Header, m.opts.Now())
	fields := map[string]interface{}{
		"status": page.StatusCode,
		"reason": page.Reason,
	}

	switch verdict.Outcome {
	case mastodon.OutcomeFatal:
		m.logger.ErrorWithFields("Status outside HTTP range, aborting run", fields)
		return cycleResult{}, &errs.Error{
			Type:    errs.ErrorTypeFatal,
			Domain:  m.domain,
			Code:    page.StatusCode,
			Message: "status outside HTTP range: " + page.Reason,
		}
	case mastodon.OutcomeRateLimited:
		logger.LogRateLimit(m.logger, m.domain, verdict.Delay)
		if err := m.opts.Sleep(ctx, verdict.Delay); err != nil {
			return cycleResult{}, err
		}
		return cycleResult{kind: cycleRateLimited}, nil
	case mastodon.OutcomeClientError, mastodon.OutcomeServerError, mastodon.OutcomeAnomaly:
		fields["outcome"] = verdict.Outcome.String()
		if verdict.Detail != "" {
			fields["detail"] = verdict.Detail
		}
		m.logger.WarnWithFields("Timeline request failed", fields)
		return cycleResult{kind: cycleFailed, detail: fmt.Sprintf("%s (%d %s)", verdict.Outcome, page.StatusCode, page.Reason)}, nil
	}

	items, err := mastodon.DecodeItems(page.Body)
	if err != nil {
		m.logger.WithError(err).Warn("Unparseable timeline page")
		return cycleResult{kind: cycleFailed, detail: "unparseable body"}, nil
	}

	batch, dropped := m.project(m.deps.Filter.Apply(items))
	m.result.Dropped += dropped
	short := len(items) < m.opts.PageSize

	if len(batch) == 0 {
		if short {
			return m.terminate(ctx)
		}
		m.logger.WarnWithFields("Full page yielded no storable posts", map[string]interface{}{
			"items":   len(items),
			"dropped": dropped,
		})
		return cycleResult{kind: cycleFailed, detail: "no storable posts on a full page"}, nil
	}

	inserted, err := m.deps.Store.InsertPosts(ctx, m.domain, batch)
	if err != nil {
		var dup *storage.DuplicateKeyError
		if !errors.As(err, &dup) {
			if ctx.Err() != nil {
				return cycleResult{}, ctx.Err()
			}
			m.logger.WithError(err).Error("Storing posts failed, aborting run")
			return cycleResult{}, fmt.Errorf("store posts for %s: %w", m.domain, err)
		}
		m.logger.WarnWithFields("Duplicate post in batch", map[string]interface{}{
			"id":        dup.ID,
			"confirmed": len(dup.Inserted),
			"batch":     len(batch),
		})
		inserted = dup.Inserted
		if len(inserted) == 0 {
			return cycleResult{kind: cycleFailed, detail: "duplicate conflict without stored posts"}, nil
		}
	}

	m.result.FetchTime += elapsed
	m.result.Pages++
	m.result.Stored += len(inserted)
	for _, p := range inserted {
		m.cursor = m.cursor.Extend(p.ID)
	}

	m.logger.DebugWithFields("Batch stored", map[string]interface{}{
		"stored":  len(inserted),
		"dropped": dropped,
		"newest":  m.cursor.Newest,
		"oldest":  m.cursor.Oldest,
	})

	if short {
		return m.terminate(ctx)
	}
	return cycleResult{kind: cycleProgress}, nil
}

func (m *Machine) project(items []models.Item) ([]models.Post, int) {
	posts := make([]models.Post, 0, len(items))
	dropped := 0
	for _, item := range items {
		post, err := m.deps.Extractor.Project(item)
		if err != nil {
			dropped++
			id, _ := item.Field("id")
			m.logger.DebugWithFields("Post dropped", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			continue
		}
		posts = append(posts, post)
	}
	return posts, dropped
}

func (m *Machine) terminate(ctx context.Context) (cycleResult, error) {
	if m.phase == PhaseLive {
		return cycleResult{kind: cycleDone, reason: ReasonLiveExhausted}, nil
	}

	if err := m.deps.Store.MarkCaughtUp(ctx, m.domain); err != nil {
		if ctx.Err() != nil {
			return cycleResult{}, ctx.Err()
		}
		return cycleResult{}, fmt.Errorf("mark %s caught up: %w", m.domain, err)
	}
	m.phase = PhaseLive
	m.logger.Info("Backfill complete, instance caught up")
	return cycleResult{kind: cycleDone, reason: ReasonCaughtUp}, nil
}
