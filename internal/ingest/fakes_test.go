package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mastodb/pkg/config"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/extract"
	"mastodb/pkg/filter"
	"mastodb/pkg/logger"
	"mastodb/pkg/mastodon"
	"mastodb/pkg/models"
	"mastodb/pkg/ratelimit"
	"mastodb/pkg/retry"
	"mastodb/pkg/storage"

	"github.com/stretchr/testify/require"
)

type response struct {
	page *mastodon.Page
	err  error
}

// fakeClient serves scripted timeline responses per domain. Once a domain's
// script runs out it answers with an empty short page.
type fakeClient struct {
	mu         sync.Mutex
	pages      map[string][]response
	calls      map[string][]url.Values
	infos      map[string]*mastodon.InstanceInfo
	infoErrs   map[string]error
	latest     map[string]models.Item
	latestErrs map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:      make(map[string][]response),
		calls:      make(map[string][]url.Values),
		infos:      make(map[string]*mastodon.InstanceInfo),
		infoErrs:   make(map[string]error),
		latest:     make(map[string]models.Item),
		latestErrs: make(map[string]error),
	}
}

func (c *fakeClient) script(domain string, rs ...response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[domain] = append(c.pages[domain], rs...)
}

func (c *fakeClient) PublicTimeline(ctx context.Context, domain string, params url.Values) (*mastodon.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := url.Values{}
	for k, v := range params {
		copied[k] = append([]string(nil), v...)
	}
	c.calls[domain] = append(c.calls[domain], copied)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queue := c.pages[domain]
	if len(queue) == 0 {
		p := okPage()
		p.Domain = domain
		return p, nil
	}
	next := queue[0]
	c.pages[domain] = queue[1:]
	if next.page != nil {
		next.page.Domain = domain
	}
	return next.page, next.err
}

func (c *fakeClient) InstanceInfo(ctx context.Context, domain string) (*mastodon.InstanceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.infoErrs[domain]; err != nil {
		return nil, err
	}
	if info := c.infos[domain]; info != nil {
		return info, nil
	}
	return &mastodon.InstanceInfo{URI: domain}, nil
}

func (c *fakeClient) LatestStatus(ctx context.Context, domain string) (models.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.latestErrs[domain]; err != nil {
		return nil, err
	}
	item, ok := c.latest[domain]
	if !ok {
		return nil, errs.New(errs.ErrorTypeDataShape, domain, "empty public timeline")
	}
	return item, nil
}

func (c *fakeClient) callsFor(domain string) []url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]url.Values(nil), c.calls[domain]...)
}

func quotaHeader() http.Header {
	h := http.Header{}
	h.Set(ratelimit.HeaderLimit, "300")
	h.Set(ratelimit.HeaderRemaining, "299")
	return h
}

func okPage(items ...models.Item) *mastodon.Page {
	if items == nil {
		items = []models.Item{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		panic(err)
	}
	return &mastodon.Page{StatusCode: http.StatusOK, Reason: "OK", Header: quotaHeader(), Body: body}
}

func statusPage(code int, h http.Header) *mastodon.Page {
	if h == nil {
		h = http.Header{}
	}
	return &mastodon.Page{StatusCode: code, Reason: http.StatusText(code), Header: h, Body: []byte(`{"error":"x"}`)}
}

// status builds a local English status. Each media type adds an attachment.
func status(id string, media ...string) models.Item {
	attachments := make([]any, 0, len(media))
	for i, t := range media {
		attachments = append(attachments, map[string]any{
			"type": t,
			"url":  "https://files.example/" + id + "/" + strconv.Itoa(i),
		})
	}
	return models.Item{
		"id":                id,
		"url":               "https://a.social/@alice/" + id,
		"content":           "<p>post " + id + "</p>",
		"language":          "en",
		"media_attachments": attachments,
	}
}

func ids(from, to int) []models.Item {
	var items []models.Item
	for n := from; n >= to; n-- {
		items = append(items, status(strconv.Itoa(n)))
	}
	return items
}

// fakeClock advances by step on every Now call and by d on every Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	sleeps []time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// countingStore counts telemetry flushes and can fail them.
type countingStore struct {
	storage.Store
	flushes   int32
	failFlush error
}

func (s *countingStore) AddFetchTimes(ctx context.Context, seconds map[string]float64) error {
	atomic.AddInt32(&s.flushes, 1)
	if s.failFlush != nil {
		return s.failFlush
	}
	return s.Store.AddFetchTimes(ctx, seconds)
}

func (s *countingStore) Flushes() int {
	return int(atomic.LoadInt32(&s.flushes))
}

type counter struct{ n int32 }

func (c *counter) Add(n int) error {
	atomic.AddInt32(&c.n, int32(n))
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fetch.PageSize = 40
	cfg.Fetch.RequestsPerMinute = 0
	cfg.Fetch.MaxFailedAttempts = 3
	cfg.Fetch.BackoffBase = time.Second
	cfg.Fetch.BackoffMax = time.Second
	return cfg
}

func register(t *testing.T, store storage.Store, domain, seedID string) {
	t.Helper()
	seed := models.Post{ID: seedID, Fields: map[string]any{"url": "https://" + domain + "/@alice/" + seedID}}
	err := store.RegisterInstance(context.Background(), models.Instance{Domain: domain, Languages: []string{"en"}}, seed)
	require.NoError(t, err)
}

func stateFor(t *testing.T, store storage.Store, domain string) models.InstanceState {
	t.Helper()
	states, err := store.LoadStates(context.Background())
	require.NoError(t, err)
	for _, st := range states {
		if st.Domain == domain {
			return st
		}
	}
	t.Fatalf("no state for %s", domain)
	return models.InstanceState{}
}

func newTestMachine(client TimelineFetcher, store storage.Store, st models.InstanceState, cfg *config.Config, clock *fakeClock, log logger.Logger) *Machine {
	return NewMachine(st, Deps{
		Client:    client,
		Store:     store,
		Filter:    filter.NewPostFilter(cfg.PostFilter, cfg.Fetch.PageSize),
		Extractor: extract.New(cfg.Attributes),
		Logger:    log,
	}, Options{
		PageSize:          cfg.Fetch.PageSize,
		MaxFailedAttempts: cfg.Fetch.MaxFailedAttempts,
		Backoff:           &retry.ConstantBackoff{Delay: time.Second},
		Now:               clock.Now,
		Sleep:             clock.Sleep,
	})
}
