package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mastodb/pkg/models"
	"mastodb/pkg/statusid"
)

type memInstance struct {
	record models.Instance
	posts  map[string]models.Post
}

// Memory is an in-process Store. It backs dry runs and tests.
type Memory struct {
	instances map[string]*memInstance
	opaque    bool
	mu        sync.RWMutex
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithOpaqueConflicts makes InsertPosts report duplicates without the list
// of posts stored before the conflict.
func WithOpaqueConflicts() MemoryOption {
	return func(m *Memory) {
		m.opaque = true
	}
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{instances: make(map[string]*memInstance)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) TrackedDomains(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domains := make([]string, 0, len(m.instances))
	for d := range m.instances {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

func (m *Memory) RegisterInstance(ctx context.Context, inst models.Instance, seed models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.Domain]; ok {
		return ErrAlreadyTracked
	}
	if _, err := encodeDoc(seed); err != nil {
		return err
	}
	m.instances[inst.Domain] = &memInstance{
		record: inst,
		posts:  map[string]models.Post{seed.ID: seed},
	}
	return nil
}

func (m *Memory) LoadStates(ctx context.Context) ([]models.InstanceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]models.InstanceState, 0, len(m.instances))
	for d, inst := range m.instances {
		var cursor statusid.Cursor
		for id := range inst.posts {
			cursor = cursor.Extend(id)
		}
		states = append(states, models.InstanceState{
			Domain:   d,
			CaughtUp: inst.record.CaughtUp,
			NewestID: cursor.Newest,
			OldestID: cursor.Oldest,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Domain < states[j].Domain })
	return states, nil
}

func (m *Memory) InsertPosts(ctx context.Context, domain string, posts []models.Post) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[domain]
	if !ok {
		return nil, ErrNotTracked
	}

	for i, p := range posts {
		if _, dup := inst.posts[p.ID]; dup {
			if m.opaque {
				return nil, &DuplicateKeyError{Domain: domain}
			}
			inserted := posts[:i:i]
			return inserted, &DuplicateKeyError{Domain: domain, ID: p.ID, Inserted: inserted}
		}
		inst.posts[p.ID] = p
	}
	return posts, nil
}

func (m *Memory) MarkCaughtUp(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[domain]
	if !ok {
		return ErrNotTracked
	}
	inst.record.CaughtUp = true
	return nil
}

func (m *Memory) AddFetchTimes(ctx context.Context, seconds map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for d, s := range seconds {
		if inst, ok := m.instances[d]; ok {
			inst.record.FetchTime += s
		}
	}
	return nil
}

func (m *Memory) FetchStats(ctx context.Context) ([]models.FetchStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]models.FetchStat, 0, len(m.instances))
	for d, inst := range m.instances {
		stats = append(stats, models.FetchStat{
			Domain:    d,
			FetchTime: time.Duration(inst.record.FetchTime * float64(time.Second)),
			PostCount: len(inst.posts),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Domain < stats[j].Domain })
	return stats, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = make(map[string]*memInstance)
	return nil
}

// Instance returns the stored record for domain.
func (m *Memory) Instance(domain string) (models.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[domain]
	if !ok {
		return models.Instance{}, false
	}
	return inst.record, true
}

// Posts returns the posts stored for domain, newest first.
func (m *Memory) Posts(domain string) []models.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[domain]
	if !ok {
		return nil
	}
	posts := make([]models.Post, 0, len(inst.posts))
	for _, p := range inst.posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool { return statusid.Less(posts[j].ID, posts[i].ID) })
	return posts
}
