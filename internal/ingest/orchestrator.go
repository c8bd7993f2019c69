package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"mastodb/pkg/checkpoint"
	"mastodb/pkg/config"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/extract"
	"mastodb/pkg/filter"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
	"mastodb/pkg/ratelimit"
	"mastodb/pkg/retry"
	"mastodb/pkg/storage"
)

// DefaultFlushTimeout bounds the shutdown telemetry write.
const DefaultFlushTimeout = 30 * time.Second

// Orchestrator registers instances and runs one Machine per tracked domain.
type Orchestrator struct {
	client       Client
	store        storage.Store
	cfg          *config.Config
	postFilter   *filter.PostFilter
	extractor    *extract.Extractor
	spill        *checkpoint.Manager
	progress     Progress
	runID        string
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	newLimiter   func() ratelimit.Limiter
	flushTimeout time.Duration
	logger       logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The run id is attached to every line.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSpill enables spilling telemetry that could not be flushed.
func WithSpill(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) { o.spill = m }
}

// WithProgress reports bootstrap progress.
func WithProgress(p Progress) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// WithClock replaces the wall clock and the sleep used by machines.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.sleep = sleep
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithFlushTimeout bounds the shutdown telemetry write.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.flushTimeout = d }
}

// New creates an Orchestrator for cfg.
func New(cfg *config.Config, client Client, store storage.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		store:        store,
		cfg:          cfg,
		postFilter:   filter.NewPostFilter(cfg.PostFilter, cfg.Fetch.PageSize),
		extractor:    extract.New(cfg.Attributes),
		runID:        uuid.NewString(),
		now:          time.Now,
		sleep:        retry.Wait,
		flushTimeout: DefaultFlushTimeout,
		logger:       logger.GetLogger(),
	}
	o.newLimiter = func() ratelimit.Limiter {
		return ratelimit.New(cfg.Fetch.RequestsPerMinute, cfg.Fetch.Burst)
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithField("run_id", o.runID)
	return o
}

// RunID identifies this orchestrator's run in logs and spilled telemetry.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// BootstrapReport lists what happened to each candidate.
type BootstrapReport struct {
	Registered []string
	Skipped    []string
	Failed     map[string]error
}

// Discover lists candidates from src, filters them and bootstraps the
// survivors.
func (o *Orchestrator) Discover(ctx context.Context, src CandidateSource, f filter.Filter[models.Candidate]) (BootstrapReport, error) {
	candidates, err := src.List(ctx, f.Params())
	if err != nil {
		return BootstrapReport{}, fmt.Errorf("list instances: %w", err)
	}
	return o.Bootstrap(ctx, f.Apply(candidates))
}

// Bootstrap registers every candidate not yet tracked. A candidate is
// registered only if its metadata and a seed post can both be fetched.
// Individual failures are reported; a status outside the HTTP range aborts
// the bootstrap.
func (o *Orchestrator) Bootstrap(ctx context.Context, candidates []models.Candidate) (BootstrapReport, error) {
	report := BootstrapReport{Failed: make(map[string]error)}

	tracked, err := o.store.TrackedDomains(ctx)
	if err != nil {
		return report, fmt.Errorf("load tracked domains: %w", err)
	}
	known := make(map[string]bool, len(tracked))
	for _, d := range tracked {
		known[d] = true
	}

	logger.LogComponentStart(o.logger, "bootstrap", map[string]interface{}{
		"candidates":  len(candidates),
		"tracked":     len(tracked),
		"concurrency": o.cfg.Fetch.BootstrapConcurrency,
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.Fetch.BootstrapConcurrency > 0 {
		g.SetLimit(o.cfg.Fetch.BootstrapConcurrency)
	}

	for _, c := range candidates {
		if known[c.Name] {
			o.logger.WithField("domain", c.Name).Info("Instance already tracked, nothing to do")
			report.Skipped = append(report.Skipped, c.Name)
			o.tick()
			continue
		}
		known[c.Name] = true

		c := c
		g.Go(func() error {
			registered, err := o.bootstrapOne(gctx, c)
			o.tick()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed[c.Name] = err
			case registered:
				report.Registered = append(report.Registered, c.Name)
			default:
				report.Skipped = append(report.Skipped, c.Name)
			}

			if errs.IsFatal(err) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Strings(report.Registered)
	sort.Strings(report.Skipped)

	o.logger.InfoWithFields("Bootstrap finished", map[string]interface{}{
		"registered": len(report.Registered),
		"skipped":    len(report.Skipped),
		"failed":     len(report.Failed),
	})
	return report, err
}

func (o *Orchestrator) tick() {
	if o.progress != nil {
		_ = o.progress.Add(1)
	}
}

func (o *Orchestrator) bootstrapOne(ctx context.Context, c models.Candidate) (bool, error) {
	log := o.logger.WithField("domain", c.Name)

	infoCtx, cancel := context.WithTimeout(ctx, o.cfg.Fetch.InfoTimeout)
	info, err := o.client.InstanceInfo(infoCtx, c.Name)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Instance metadata unavailable, skipping candidate")
		return false, err
	}

	seedCtx, cancel := context.WithTimeout(ctx, o.cfg.Fetch.SeedTimeout)
	item, err := o.client.LatestStatus(seedCtx, c.Name)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Seed post unavailable, skipping candidate")
		return false, err
	}

	seed, err := o.extractor.Project(item)
	if err != nil {
		log.WithError(err).Warn("Seed post cannot be stored, skipping candidate")
		return false, errs.Wrap(errs.ErrorTypeDataShape, c.Name, "seed post", err)
	}

	languages := info.Languages
	if len(languages) == 0 {
		languages = c.Languages
	}

	err = o.store.RegisterInstance(ctx, models.Instance{Domain: c.Name, Languages: languages}, seed)
	if errors.Is(err, storage.ErrAlreadyTracked) {
		log.Info("Instance already tracked, nothing to do")
		return false, nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to register instance")
		return false, fmt.Errorf("register %s: %w", c.Name, err)
	}

	log.InfoWithFields("Instance registered", map[string]interface{}{
		"languages": languages,
		"seed_id":   seed.ID,
	})
	return true, nil
}

// RunReport is the outcome of RunAll.
type RunReport struct {
	RunID   string
	Results []Result
	Elapsed time.Duration
}

// Stored is the number of posts stored across all instances.
func (r RunReport) Stored() int {
	n := 0
	for _, res := range r.Results {
		n += res.Stored
	}
	return n
}

// Dropped is the number of posts that failed projection across all instances.
func (r RunReport) Dropped() int {
	n := 0
	for _, res := range r.Results {
		n += res.Dropped
	}
	return n
}

// RunAll runs one machine per tracked domain until every machine stops.
// Telemetry is flushed exactly once when all machines have returned, also
// when the run was aborted or ctx cancelled.
func (o *Orchestrator) RunAll(ctx context.Context) (RunReport, error) {
	start := o.now()
	report := RunReport{RunID: o.runID}

	states, err := o.store.LoadStates(ctx)
	if err != nil {
		return report, fmt.Errorf("load instance states: %w", err)
	}
	pending := o.loadPending()

	logger.LogComponentStart(o.logger, "crawl", map[string]interface{}{
		"instances": len(states),
		"page_size": o.cfg.Fetch.PageSize,
	})

	results := make([]Result, len(states))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range states {
		i, st := i, st
		g.Go(func() error {
			res, err := o.machine(st).Run(gctx)
			results[i] = res
			return err
		})
	}
	runErr := g.Wait()

	flushErr := o.flush(ctx, results, pending)

	report.Results = results
	report.Elapsed = o.now().Sub(start)
	logger.LogMetrics(o.logger, "crawl", map[string]interface{}{
		"instances":  len(results),
		"stored":     report.Stored(),
		"dropped":    report.Dropped(),
		"elapsed_ms": report.Elapsed.Milliseconds(),
	})

	if runErr != nil {
		if flushErr != nil {
			o.logger.WithError(flushErr).Error("Telemetry lost")
		}
		return report, runErr
	}
	return report, flushErr
}

func (o *Orchestrator) machine(st models.InstanceState) *Machine {
	return NewMachine(st, Deps{
		Client:    o.client,
		Store:     o.store,
		Filter:    o.postFilter,
		Extractor: o.extractor,
		Limiter:   o.newLimiter(),
		Logger:    o.logger,
	}, Options{
		PageSize:          o.cfg.Fetch.PageSize,
		MaxFailedAttempts: o.cfg.Fetch.MaxFailedAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  o.cfg.Fetch.BackoffBase,
			MaxDelay:   o.cfg.Fetch.BackoffMax,
			Multiplier: 2,
		},
		Now:   o.now,
		Sleep: o.sleep,
	})
}
