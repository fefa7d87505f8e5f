// Package quota meters billable generation calls per identity per day.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thywilljoshua/slidegen/internal/identity"
)

const dayLayout = "2006-01-02"

// Store counts calls per identity per day. Implementations must tolerate
// concurrent increments.
type Store interface {
	Count(ctx context.Context, key, day string) (int, error)
	Increment(ctx context.Context, key, day, kind string) (int, error)
}

// Breakdown is implemented by stores that also count calls per workflow kind.
type Breakdown interface {
	Kinds(ctx context.Context, key, day string) (map[string]int, error)
}

type Limits struct {
	Anonymous     int
	Authenticated int
}

func (l Limits) For(id identity.Identity) int {
	if id.Authenticated {
		return l.Authenticated
	}
	return l.Anonymous
}

type Status struct {
	Used          int
	Limit         int
	Remaining     int
	Authenticated bool
	Day           string
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Gate struct {
	store  Store
	limits Limits
	clock  Clock
	loc    *time.Location
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]int
}

type Option func(*Gate)

func WithClock(c Clock) Option { return func(g *Gate) { g.clock = c } }

func WithLocation(loc *time.Location) Option { return func(g *Gate) { g.loc = loc } }

func NewGate(store Store, limits Limits, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		limits: limits,
		clock:  systemClock{},
		loc:    time.Local,
		logger: logger,
		seen:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) day() string {
	return g.clock.Now().In(g.loc).Format(dayLayout)
}

func windowKey(key, day string) string { return day + "|" + key }

// Check reports today's usage for id. It never writes to the store. When the
// store cannot be read the last locally observed count is used, so an outage
// grants quota rather than blocking. The gate absorbs store failures itself
// and the returned error is always nil; it is kept so callers can swap in
// gates that do fail.
func (g *Gate) Check(ctx context.Context, id identity.Identity) (Status, error) {
	day := g.day()
	wk := windowKey(id.Key, day)

	used, err := g.store.Count(ctx, id.Key, day)
	g.mu.Lock()
	if err != nil {
		g.logger.Warn("quota store unavailable, using local count", "identity", id.Key, "error", err)
		used = g.seen[wk]
	} else if cached := g.seen[wk]; cached > used {
		used = cached
	} else {
		g.seen[wk] = used
	}
	g.mu.Unlock()

	limit := g.limits.For(id)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Used:          used,
		Limit:         limit,
		Remaining:     remaining,
		Authenticated: id.Authenticated,
		Day:           day,
	}, nil
}

// Record counts one successful billable call. A store failure is returned for
// logging only; the local count still advances.
func (g *Gate) Record(ctx context.Context, id identity.Identity, kind string) error {
	day := g.day()
	wk := windowKey(id.Key, day)

	n, err := g.store.Increment(ctx, id.Key, day, kind)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.seen[wk]++
		return fmt.Errorf("record quota for %s: %w", id.Key, err)
	}
	if n > g.seen[wk] {
		g.seen[wk] = n
	}
	return nil
}

// MemoryStore keeps counters in process.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
	kinds  map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts: make(map[string]int),
		kinds:  make(map[string]map[string]int),
	}
}

func (m *MemoryStore) Count(_ context.Context, key, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[windowKey(key, day)], nil
}

func (m *MemoryStore) Increment(_ context.Context, key, day, kind string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wk := windowKey(key, day)
	m.counts[wk]++
	if m.kinds[wk] == nil {
		m.kinds[wk] = make(map[string]int)
	}
	m.kinds[wk][kind]++
	return m.counts[wk], nil
}

// Kinds returns the per-workflow breakdown for one window.
func (m *MemoryStore) Kinds(_ context.Context, key, day string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.kinds[windowKey(key, day)]))
	for k, v := range m.kinds[windowKey(key, day)] {
		out[k] = v
	}
	return out, nil
}
